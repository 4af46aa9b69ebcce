// Package events implements the raw-event section codec (RE): the user-side
// producer of section-framed byte buffers and the reader that reassembles a
// persisted stream of them back into typed sections.
//
// Section framing is the ABI shared with the out-of-scope in-kernel
// producers: each section is led by a fixed {owner, data_type, size} header
// in native byte order, followed by size bytes of payload. An event is a
// fixed-capacity buffer of concatenated sections, zero-padded after the last
// one.
package events

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// MaxEventSize is the fixed capacity, in bytes, of an event's section data.
// It bounds how many sections a single event can carry; exceeding it is a
// programming error, not a recoverable failure (spec: "RE never fails on
// well-formed input").
const MaxEventSize = 1024

// SectionHeaderSize is the wire size of a SectionHeader: one byte owner, one
// byte data type, two bytes length, native endian.
const SectionHeaderSize = 4

// SectionHeader frames one section within an event buffer.
type SectionHeader struct {
	Owner    uint8
	DataType uint8
	Size     uint16
}

// Section owner identifiers. Each owner corresponds to one of the typed
// payload structs in payloads.go.
const (
	OwnerCommon      uint8 = iota // RawCommonEvent
	OwnerTask                     // RawTaskEvent
	OwnerSkbTracking               // SkbTrackingEvent
	OwnerPacket                   // RawPacketEvent
	OwnerCtMeta                   // RawCtMetaEvent
	OwnerCt                       // RawCtEvent
)

// Event is the fixed-layout record written to and read from persisted
// storage: a length-prefixed, zero-padded buffer of concatenated sections.
type Event struct {
	Size uint16
	Data [MaxEventSize]byte
}

// SectionBuilder is implemented by section payload types so they can append
// themselves to a growing event buffer. Implementations must be safe to use
// on a zero-valued (default-constructed) receiver: tests build raw sections
// from defaults and only set the fields a given assertion cares about.
type SectionBuilder interface {
	BuildRaw(out *[]byte) error
}

// AppendSection encodes a {owner, data_type, size} header followed by
// payload onto *buf. It is the primitive SectionBuilder implementations use;
// most callers should go through BuildEvent instead.
func AppendSection(buf *[]byte, owner, dataType uint8, payload []byte) error {
	header := SectionHeader{Owner: owner, DataType: dataType, Size: uint16(len(payload))}
	var hb bytes.Buffer
	if err := binary.Write(&hb, binary.NativeEndian, header); err != nil {
		return fmt.Errorf("events: encoding section header: %w", err)
	}
	*buf = append(*buf, hb.Bytes()...)
	*buf = append(*buf, payload...)
	return nil
}

// BuildEvent runs each builder in order against a fresh buffer, then
// zero-pads it to MaxEventSize and returns the resulting Event.
func BuildEvent(builders ...SectionBuilder) (Event, error) {
	buf := make([]byte, 0, MaxEventSize)
	for i, b := range builders {
		if err := b.BuildRaw(&buf); err != nil {
			return Event{}, fmt.Errorf("events: building section %d: %w", i, err)
		}
	}
	if len(buf) > MaxEventSize {
		return Event{}, fmt.Errorf("events: event size %d exceeds MaxEventSize %d", len(buf), MaxEventSize)
	}

	var ev Event
	ev.Size = uint16(len(buf))
	copy(ev.Data[:], buf)
	return ev, nil
}

// Section is one decoded, owner-and-type-tagged payload within an event, as
// returned by ParseEvent.
type Section struct {
	Header  SectionHeader
	Payload []byte
}

// ParseEvent walks the header-prefixed section stream in data (typically
// ev.Data[:ev.Size]) and returns every section it contains, in order.
func ParseEvent(data []byte) ([]Section, error) {
	var sections []Section
	off := 0
	for off < len(data) {
		if off+SectionHeaderSize > len(data) {
			return nil, fmt.Errorf("events: truncated section header at offset %d", off)
		}

		var hdr SectionHeader
		r := bytes.NewReader(data[off : off+SectionHeaderSize])
		if err := binary.Read(r, binary.NativeEndian, &hdr); err != nil {
			return nil, fmt.Errorf("events: decoding section header at offset %d: %w", off, err)
		}
		off += SectionHeaderSize

		end := off + int(hdr.Size)
		if end > len(data) {
			return nil, fmt.Errorf("events: section at offset %d claims %d bytes but only %d remain", off, hdr.Size, len(data)-off)
		}

		sections = append(sections, Section{Header: hdr, Payload: data[off:end]})
		off = end
	}
	return sections, nil
}
