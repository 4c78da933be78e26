// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

// Dirigent-viewer is the terminal UI for watching a Dirigent event
// stream.
//
// Socket mode (default): connects to the daemon's wire socket,
// replays the server's event backlog, then tails live events.
// --record additionally appends every received event to a capture
// file.
//
// Replay mode (--replay): plays back a previously recorded capture
// offline. No daemon required.
package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/dirigent-project/dirigent/lib/config"
	"github.com/dirigent-project/dirigent/lib/eventview"
	"github.com/dirigent-project/dirigent/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		socketPath string
		replayPath string
		recordPath string
	)

	flagSet := pflag.NewFlagSet("dirigent-viewer", pflag.ContinueOnError)
	flagSet.StringVar(&socketPath, "socket", "", "daemon wire socket (default: the configured wire socket)")
	flagSet.StringVar(&replayPath, "replay", "", "play back a capture file instead of connecting")
	flagSet.StringVar(&recordPath, "record", "", "record received events to this capture file")
	flagSet.BoolP("help", "h", false, "show help")

	// Handle --version before flag parsing to match other Dirigent
	// binaries.
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("dirigent-viewer")
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	var source eventview.Source
	if replayPath != "" {
		if recordPath != "" {
			return fmt.Errorf("--record needs a live connection, not --replay")
		}
		replay, err := eventview.OpenReplay(replayPath)
		if err != nil {
			return err
		}
		source = replay
	} else {
		if socketPath == "" {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			socketPath = cfg.Wire.Socket
		}
		socket, err := eventview.DialSocket(socketPath, recordPath)
		if err != nil {
			return err
		}
		source = socket
	}
	defer source.Close()

	model := eventview.NewModel(source)
	program := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return err
	}

	// A quit that looks normal can still hide a broken stream or a
	// failed capture; surface both after the UI closes.
	if err := source.Err(); err != nil {
		return fmt.Errorf("event stream: %w", err)
	}
	if socket, ok := source.(*eventview.SocketSource); ok {
		if err := socket.RecordErr(); err != nil {
			return fmt.Errorf("recording capture: %w", err)
		}
	}
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Dirigent event viewer — interactive terminal UI for the event stream.

By default, connects to the daemon's wire socket (from the Dirigent
configuration, or --socket) and tails events live: the daemon's
history backlog first, then events as they happen. Use --record to
also write everything received to a capture file.

With --replay, plays back a capture file offline instead of
connecting.

Keys: j/k or arrows navigate, space pauses, f cycles the category
filter, F clears it, enter opens the detail pane, q quits.

Usage:
  dirigent-viewer [flags]

Examples:
  # Tail the local daemon
  dirigent-viewer

  # Tail a specific socket and record the session
  dirigent-viewer --socket /tmp/dirigent.sock --record session.capture

  # Replay a recorded session
  dirigent-viewer --replay session.capture

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
