package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/skbtrace/skbtrace/internal/events"
)

func writeTestStream(t *testing.T, path string, n int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating stream file: %v", err)
	}
	defer f.Close()

	w := events.NewWriter(f)
	for i := 0; i < n; i++ {
		ev, err := events.BuildEvent(events.RawCommonEvent{Timestamp: uint64(i) + 1})
		if err != nil {
			t.Fatalf("BuildEvent: %v", err)
		}
		if err := w.WriteEvent(ev); err != nil {
			t.Fatalf("WriteEvent: %v", err)
		}
	}
}

func TestRunPrintReadsAllEventsThenExits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stream.data")
	writeTestStream(t, path, 3)

	var buf bytes.Buffer
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = w

	done := make(chan struct{})
	go func() {
		buf.ReadFrom(r)
		close(done)
	}()

	err = run([]string{"print", "-input", path, "-format", "line"})

	w.Close()
	os.Stdout = old
	<-done

	if err != nil {
		t.Fatalf("run: %v", err)
	}

	out := buf.String()
	if strings.Count(out, "sections=1") != 3 {
		t.Errorf("output = %q, want 3 lines with sections=1", out)
	}
}

func TestRunVersionSubcommand(t *testing.T) {
	if err := run([]string{"version"}); err != nil {
		t.Fatalf("run(version): %v", err)
	}
}

func TestRunUnknownSubcommand(t *testing.T) {
	if err := run([]string{"bogus"}); err == nil {
		t.Fatal("expected error for unknown subcommand")
	}
}

func TestIsFlag(t *testing.T) {
	if !isFlag("-input") {
		t.Error("isFlag(-input) = false, want true")
	}
	if isFlag("print") {
		t.Error("isFlag(print) = true, want false")
	}
}
