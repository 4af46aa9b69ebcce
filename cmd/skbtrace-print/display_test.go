package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/skbtrace/skbtrace/internal/events"
)

func TestParseDisplayFormat(t *testing.T) {
	cases := map[string]displayFormat{
		"":          formatMultiLine,
		"multiline": formatMultiLine,
		"line":      formatLine,
	}
	for in, want := range cases {
		got, err := parseDisplayFormat(in)
		if err != nil {
			t.Fatalf("parseDisplayFormat(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("parseDisplayFormat(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := parseDisplayFormat("json"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func buildTestEvent(t *testing.T, ts uint64) events.Event {
	t.Helper()
	ev, err := events.BuildEvent(
		events.RawCommonEvent{Timestamp: ts},
		events.RawTaskEvent{PID: 42, TGID: 42},
	)
	if err != nil {
		t.Fatalf("BuildEvent: %v", err)
	}
	return ev
}

func TestPrinterMultiLine(t *testing.T) {
	var buf bytes.Buffer
	p := &printer{w: &buf, format: formatMultiLine, utc: true}

	ev := buildTestEvent(t, 1700000000000000000)
	if err := p.printEvent(ev); err != nil {
		t.Fatalf("printEvent: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "owner=") {
		t.Errorf("multiline output missing section lines: %q", out)
	}
	if !strings.HasPrefix(out, "[") {
		t.Errorf("multiline output should start with a timestamp bracket: %q", out)
	}
}

func TestPrinterLine(t *testing.T) {
	var buf bytes.Buffer
	p := &printer{w: &buf, format: formatLine, utc: true}

	ev := buildTestEvent(t, 1700000000000000000)
	if err := p.printEvent(ev); err != nil {
		t.Fatalf("printEvent: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "sections=2") {
		t.Errorf("line output = %q, want sections=2", out)
	}
}

func TestTimestampOfUsesCommonSection(t *testing.T) {
	var raw []byte
	if err := (events.RawCommonEvent{Timestamp: 1700000000000000000}).BuildRaw(&raw); err != nil {
		t.Fatalf("BuildRaw: %v", err)
	}
	sections, err := events.ParseEvent(raw)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}

	p := &printer{utc: true}
	ts := p.timestampOf(sections)
	if ts == "?" {
		t.Fatal("timestampOf did not find the common section's timestamp")
	}
}

func TestTimestampOfMissingCommonSection(t *testing.T) {
	p := &printer{utc: true}
	if ts := p.timestampOf(nil); ts != "?" {
		t.Errorf("timestampOf(nil) = %q, want %q", ts, "?")
	}
}
