package events

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// The payload structs below mirror the wire shape of the out-of-scope
// in-kernel section producers: fixed-layout, packed, native-endian records.
// Each implements SectionBuilder so a test or the probe collaborator can
// assemble an Event without hand-rolling the header framing.

// RawCommonEvent carries the timestamp every event starts with, as
// nanoseconds since the Unix epoch, UTC. The print collaborator's -utc flag
// only selects the display timezone (UTC vs local); it does not change how
// the timestamp is stored.
type RawCommonEvent struct {
	Timestamp uint64
}

func (e RawCommonEvent) BuildRaw(out *[]byte) error {
	return appendStruct(out, OwnerCommon, 0, e)
}

// RawTaskEvent identifies the task an event was captured in.
type RawTaskEvent struct {
	PID  uint32
	TGID uint32
	Comm [16]byte
}

func (e RawTaskEvent) BuildRaw(out *[]byte) error {
	return appendStruct(out, OwnerTask, 0, e)
}

// SkbTrackingEvent carries the tracking cookie used to correlate one sk_buff
// across multiple probe sites, even as the kernel clones or reallocates it.
type SkbTrackingEvent struct {
	TrackingID uint64
	SkbAddr    uint64
}

func (e SkbTrackingEvent) BuildRaw(out *[]byte) error {
	return appendStruct(out, OwnerSkbTracking, 0, e)
}

// RawPacketEvent is an L2/L3/L4 header snapshot taken at a probe site.
type RawPacketEvent struct {
	EthSrc   [6]byte
	EthDst   [6]byte
	EthProto uint16
	IPSrc    [4]byte
	IPDst    [4]byte
	IPProto  uint8
	_        uint8 // pad: keep L4Src/L4Dst 2-byte aligned in the wire layout
	L4Src    uint16
	L4Dst    uint16
}

func (e RawPacketEvent) BuildRaw(out *[]byte) error {
	return appendStruct(out, OwnerPacket, 0, e)
}

// RawCtMetaEvent carries the conntrack zone an event's connection belongs to.
type RawCtMetaEvent struct {
	Zone uint16
}

func (e RawCtMetaEvent) BuildRaw(out *[]byte) error {
	return appendStruct(out, OwnerCtMeta, 0, e)
}

// Conntrack states, mirroring the subset of nf_conntrack_status a
// sk_buff._nfct:~0x0:nf_conn.mark filter walk would reference.
const (
	CtStateNew uint8 = iota
	CtStateEstablished
	CtStateRelated
	CtStateReply
)

// RawCtEvent is the conntrack 5-tuple and state for a tracked connection.
type RawCtEvent struct {
	SrcIP   [4]byte
	DstIP   [4]byte
	SrcPort uint16
	DstPort uint16
	Proto   uint8
	State   uint8
}

func (e RawCtEvent) BuildRaw(out *[]byte) error {
	return appendStruct(out, OwnerCt, 0, e)
}

// appendStruct encodes v with binary.Write and appends it to *out as one
// section owned by owner/dataType.
func appendStruct(out *[]byte, owner, dataType uint8, v any) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.NativeEndian, v); err != nil {
		return fmt.Errorf("events: encoding payload: %w", err)
	}
	return AppendSection(out, owner, dataType, buf.Bytes())
}
