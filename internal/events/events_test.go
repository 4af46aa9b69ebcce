package events_test

import (
	"testing"

	"github.com/skbtrace/skbtrace/internal/events"
)

func TestAppendSectionAndParse(t *testing.T) {
	var buf []byte
	if err := events.AppendSection(&buf, events.OwnerCommon, 0, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("AppendSection: %v", err)
	}
	if err := events.AppendSection(&buf, events.OwnerTask, 1, []byte{9}); err != nil {
		t.Fatalf("AppendSection: %v", err)
	}

	sections, err := events.ParseEvent(buf)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if len(sections) != 2 {
		t.Fatalf("got %d sections, want 2", len(sections))
	}
	if sections[0].Header.Owner != events.OwnerCommon || sections[0].Header.Size != 4 {
		t.Errorf("section 0 header = %+v", sections[0].Header)
	}
	if string(sections[0].Payload) != "\x01\x02\x03\x04" {
		t.Errorf("section 0 payload = %v", sections[0].Payload)
	}
	if sections[1].Header.Owner != events.OwnerTask || sections[1].Header.DataType != 1 {
		t.Errorf("section 1 header = %+v", sections[1].Header)
	}
}

func TestParseEventTruncatedHeader(t *testing.T) {
	if _, err := events.ParseEvent([]byte{1, 2}); err == nil {
		t.Fatal("expected error for truncated header")
	}
}

func TestParseEventTruncatedPayload(t *testing.T) {
	var buf []byte
	if err := events.AppendSection(&buf, events.OwnerCommon, 0, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("AppendSection: %v", err)
	}
	truncated := buf[:len(buf)-1]
	if _, err := events.ParseEvent(truncated); err == nil {
		t.Fatal("expected error for truncated payload")
	}
}

func TestBuildEventZeroPads(t *testing.T) {
	ev, err := events.BuildEvent(
		events.RawCommonEvent{Timestamp: 123},
		events.RawTaskEvent{PID: 42, TGID: 42},
	)
	if err != nil {
		t.Fatalf("BuildEvent: %v", err)
	}
	if ev.Size == 0 || int(ev.Size) >= events.MaxEventSize {
		t.Fatalf("unexpected event size %d", ev.Size)
	}
	for i := int(ev.Size); i < events.MaxEventSize; i++ {
		if ev.Data[i] != 0 {
			t.Fatalf("expected zero padding at offset %d, got %d", i, ev.Data[i])
		}
	}

	sections, err := events.ParseEvent(ev.Data[:ev.Size])
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if len(sections) != 2 {
		t.Fatalf("got %d sections, want 2", len(sections))
	}
	if sections[0].Header.Owner != events.OwnerCommon {
		t.Errorf("section 0 owner = %d", sections[0].Header.Owner)
	}
	if sections[1].Header.Owner != events.OwnerTask {
		t.Errorf("section 1 owner = %d", sections[1].Header.Owner)
	}
}

func TestBuildEventDefaultConstructedSections(t *testing.T) {
	// Section payloads must be safe to build from zero values, matching the
	// "default-constructed-safe" requirement: only the fields a given
	// assertion cares about need to be set.
	ev, err := events.BuildEvent(events.RawPacketEvent{}, events.RawCtEvent{})
	if err != nil {
		t.Fatalf("BuildEvent with zero-valued sections: %v", err)
	}
	if ev.Size == 0 {
		t.Fatal("expected non-zero event size for zero-valued sections")
	}
}
