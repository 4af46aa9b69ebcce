// Command skbtrace-print reads a persisted raw-event stream written by the
// probe collector and prints each event in human-readable form.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skbtrace/skbtrace/internal/events"
)

// Version is set via -ldflags at build time.
var Version = "dev"

const readTimeout = 1 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "skbtrace-print:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	sub := "print"
	if len(args) > 0 && !isFlag(args[0]) {
		sub = args[0]
		args = args[1:]
	}

	switch sub {
	case "print":
		return runPrint(args)
	case "version":
		fmt.Println(Version)
		return nil
	default:
		return fmt.Errorf("unknown subcommand %q (want print or version)", sub)
	}
}

func isFlag(s string) bool {
	return len(s) > 0 && s[0] == '-'
}

func runPrint(args []string) error {
	fs := flag.NewFlagSet("print", flag.ExitOnError)
	input := fs.String("input", "skbtrace.data", "path to the raw-event stream file")
	format := fs.String("format", "multiline", "output format: multiline or line")
	utc := fs.Bool("utc", false, "display timestamps in UTC instead of local time")
	if err := fs.Parse(args); err != nil {
		return err
	}

	disp, err := parseDisplayFormat(*format)
	if err != nil {
		return err
	}

	f, err := os.Open(*input)
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}
	defer f.Close()

	reader := events.NewReader(f)
	p := &printer{w: os.Stdout, format: disp, utc: *utc}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case sig := <-sigCh:
			slog.Info("skbtrace-print: shutting down", slog.String("signal", sig.String()))
			return nil
		default:
		}

		ev, err := reader.Next(readTimeout)
		if err != nil {
			if errors.Is(err, io.EOF) {
				slog.Info("skbtrace-print: reached end of stream", slog.String("input", *input))
				return nil
			}
			slog.Error("skbtrace-print: reading event failed", slog.Any("error", err))
			return fmt.Errorf("reading event: %w", err)
		}

		if err := p.printEvent(ev); err != nil {
			slog.Error("skbtrace-print: printing event failed", slog.Any("error", err))
			return fmt.Errorf("printing event: %w", err)
		}
	}
}
