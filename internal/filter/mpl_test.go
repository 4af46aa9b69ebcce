package filter_test

import (
	"testing"

	"github.com/skbtrace/skbtrace/internal/filter"
)

func TestOpMarshalUnmarshalTargetRoundTrip(t *testing.T) {
	want := filter.Op{IsTarget: true, Size: 4, Cmp: filter.CmpGe}
	copy(want.Bytes[:], []byte{1, 2, 3, 4})

	data, err := want.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(data) != filter.OpSize {
		t.Fatalf("MarshalBinary produced %d bytes, want %d", len(data), filter.OpSize)
	}

	got := filter.Op{IsTarget: true}
	if err := got.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if got.Bytes != want.Bytes || got.Size != want.Size || got.Cmp != want.Cmp {
		t.Errorf("UnmarshalBinary = %+v, want %+v", got, want)
	}
}

func TestOpMarshalUnmarshalLoadRoundTrip(t *testing.T) {
	want := filter.Op{Kind: 3, Nmemb: 2, Offset: 0x1234, BitfieldSize: 5, Mask: 0xdeadbeef}

	data, err := want.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	var got filter.Op
	if err := got.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if got != want {
		t.Errorf("UnmarshalBinary = %+v, want %+v", got, want)
	}
}

func TestOpUnmarshalBinaryRejectsWrongSize(t *testing.T) {
	var o filter.Op
	if err := o.UnmarshalBinary(make([]byte, filter.OpSize-1)); err == nil {
		t.Fatal("expected error for short record")
	}
}
