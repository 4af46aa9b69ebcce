package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/skbtrace/skbtrace/internal/events"
)

// displayFormat selects how an event's sections are rendered.
type displayFormat int

const (
	formatMultiLine displayFormat = iota
	formatLine
)

func parseDisplayFormat(s string) (displayFormat, error) {
	switch s {
	case "multiline", "":
		return formatMultiLine, nil
	case "line":
		return formatLine, nil
	default:
		return 0, fmt.Errorf("unknown -format %q; must be multiline or line", s)
	}
}

// printer formats and writes events to an output stream.
type printer struct {
	w      io.Writer
	format displayFormat
	utc    bool
}

// printEvent decodes ev's sections and writes one formatted record to p.w.
func (p *printer) printEvent(ev events.Event) error {
	sections, err := events.ParseEvent(ev.Data[:ev.Size])
	if err != nil {
		return fmt.Errorf("decoding event: %w", err)
	}

	ts := p.timestampOf(sections)

	switch p.format {
	case formatLine:
		return p.printLine(ts, sections)
	default:
		return p.printMultiLine(ts, sections)
	}
}

func (p *printer) timestampOf(sections []events.Section) string {
	for _, s := range sections {
		if s.Header.Owner != events.OwnerCommon {
			continue
		}
		var common events.RawCommonEvent
		if len(s.Payload) < 8 {
			continue
		}
		common.Timestamp = binary.NativeEndian.Uint64(s.Payload)
		t := time.Unix(0, int64(common.Timestamp))
		if p.utc {
			t = t.UTC()
		} else {
			t = t.Local()
		}
		return t.Format(time.RFC3339Nano)
	}
	return "?"
}

func (p *printer) printMultiLine(ts string, sections []events.Section) error {
	if _, err := fmt.Fprintf(p.w, "[%s]\n", ts); err != nil {
		return err
	}
	for _, s := range sections {
		if _, err := fmt.Fprintf(p.w, "  owner=%d type=%d size=%d\n",
			s.Header.Owner, s.Header.DataType, s.Header.Size); err != nil {
			return err
		}
	}
	return nil
}

func (p *printer) printLine(ts string, sections []events.Section) error {
	_, err := fmt.Fprintf(p.w, "%s sections=%d\n", ts, len(sections))
	return err
}
