package events

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// recordSize is the fixed on-disk size of one Event record: the u16 length
// prefix plus the full zero-padded data buffer.
const recordSize = 2 + MaxEventSize

// Writer appends Events to a persisted stream, one fixed-size record at a
// time.
type Writer struct {
	w io.Writer
}

// NewWriter returns a Writer appending records to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteEvent encodes ev as one fixed-size record and writes it to the
// underlying stream.
func (w *Writer) WriteEvent(ev Event) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.NativeEndian, ev); err != nil {
		return fmt.Errorf("events: encoding event: %w", err)
	}
	if _, err := w.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("events: writing event: %w", err)
	}
	return nil
}

// pollInterval is how often Reader.Next retries a short read while waiting
// for a record to complete within its timeout budget.
const pollInterval = 50 * time.Millisecond

// Reader pulls Events one at a time from a persisted stream, tolerating a
// writer that is still appending to the same file.
type Reader struct {
	r io.ReaderAt
	// off is the byte offset of the next unread record.
	off int64
}

// NewReader returns a Reader pulling fixed-size records from r, starting at
// offset 0.
func NewReader(r io.ReaderAt) *Reader {
	return &Reader{r: r}
}

// Next reads the next Event from the stream. If a complete record is not
// yet available, Next polls at pollInterval until timeout elapses; if the
// stream has not grown by then, it returns io.EOF (the stream is assumed to
// have ended, matching the CLI's "file of persisted events" use case rather
// than an indefinitely-tailed live capture). A zero timeout performs exactly
// one read attempt.
func (r *Reader) Next(timeout time.Duration) (Event, error) {
	deadline := time.Now().Add(timeout)
	for {
		buf := make([]byte, recordSize)
		n, err := r.r.ReadAt(buf, r.off)
		if n == recordSize {
			var ev Event
			if derr := binary.Read(bytes.NewReader(buf), binary.NativeEndian, &ev); derr != nil {
				return Event{}, fmt.Errorf("events: decoding event at offset %d: %w", r.off, derr)
			}
			r.off += recordSize
			return ev, nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return Event{}, fmt.Errorf("events: reading event at offset %d: %w", r.off, err)
		}
		if time.Now().After(deadline) {
			return Event{}, io.EOF
		}
		time.Sleep(pollInterval)
	}
}
