// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package taskstore

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dirigent-project/dirigent/lib/event"
)

// EventFileChanged is the bus event type emitted when a watched task
// file's content fingerprint changes.
const EventFileChanged = "task.file.changed"

// WatchConfig holds the parameters for watching a task file.
type WatchConfig struct {
	// Path is the task file to watch. The parent directory must
	// exist; the file itself may appear later.
	Path string

	// Bus receives task.file.changed events.
	Bus *event.Bus

	// Logger receives watcher lifecycle messages. Nil discards them.
	Logger *slog.Logger
}

// Watch starts an inotify watcher on the task file's directory and
// emits a task.file.changed event whenever the file's content
// fingerprint changes. Watching the directory rather than the file
// catches atomic replaces, which create a new inode that a file-level
// watch would miss. The returned stop function shuts the watcher down
// and is safe to call more than once.
func Watch(config WatchConfig) (func(), error) {
	if config.Path == "" {
		return nil, fmt.Errorf("taskstore: watch Path is required")
	}
	if config.Bus == nil {
		return nil, fmt.Errorf("taskstore: watch Bus is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	absolutePath, err := filepath.Abs(config.Path)
	if err != nil {
		return nil, fmt.Errorf("taskstore: resolving %s: %w", config.Path, err)
	}
	directory := filepath.Dir(absolutePath)
	filename := filepath.Base(absolutePath)

	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("taskstore: inotify init: %w", err)
	}
	if _, err := unix.InotifyAddWatch(fd, directory, unix.IN_CLOSE_WRITE|unix.IN_MOVED_TO); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("taskstore: watching %s: %w", directory, err)
	}

	baseline, _ := fingerprintFile(absolutePath)
	logger.Info("task file watcher started", "path", absolutePath)

	stopChannel := make(chan struct{})
	go watchLoop(fd, absolutePath, filename, baseline, config.Bus, logger, stopChannel)

	var once sync.Once
	return func() {
		once.Do(func() { close(stopChannel) })
	}, nil
}

// fingerprintFile returns the content fingerprint and whether the file
// exists. Read errors count as absent; the next successful read
// produces the change event.
func fingerprintFile(path string) ([32]byte, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return [32]byte{}, false
	}
	return fingerprint(data), true
}

// watchLoop polls the inotify fd for changes to the target file and
// emits a bus event when the content fingerprint differs from the
// previous state.
//
// Uses poll(2) with a 100ms timeout for responsive stop checking.
// After detecting a change it waits 50ms and drains queued events, so
// rapid successive writes coalesce into one re-read.
func watchLoop(
	fd int,
	path string,
	filename string,
	previous [32]byte,
	bus *event.Bus,
	logger *slog.Logger,
	stopChannel <-chan struct{},
) {
	defer unix.Close(fd)

	buffer := make([]byte, 4096)

	for {
		select {
		case <-stopChannel:
			return
		default:
		}

		pollDescriptors := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		count, err := unix.Poll(pollDescriptors, 100)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			logger.Error("task file watcher poll failed", "path", path, "error", err)
			return
		}
		if count == 0 {
			continue
		}

		bytesRead, err := unix.Read(fd, buffer)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			logger.Error("task file watcher read failed", "path", path, "error", err)
			return
		}

		if !inotifyMatchesFile(buffer[:bytesRead], filename) {
			continue
		}

		// Debounce and drain to coalesce rapid writes.
		time.Sleep(50 * time.Millisecond)
		drainInotifyEvents(fd, buffer)

		current, exists := fingerprintFile(path)
		if !exists || current == previous {
			// Mid-write or briefly absent during an atomic replace;
			// the completed write delivers its own event. Identical
			// content is not a change.
			continue
		}
		previous = current

		_, err = bus.Emit(context.Background(), EventFileChanged, map[string]any{
			"path":        path,
			"fingerprint": hex.EncodeToString(current[:]),
		}, event.EmitOptions{Source: "taskstore"})
		if err != nil {
			logger.Warn("task file change emission failed", "path", path, "error", err)
		}
	}
}

// inotifyMatchesFile checks whether any inotify event in the buffer
// names the target file. Layout from inotify(7):
//
//	struct inotify_event {
//	    int32_t  wd;     // offset 0
//	    uint32_t mask;   // offset 4
//	    uint32_t cookie; // offset 8
//	    uint32_t len;    // offset 12
//	    char     name[]; // offset 16, null-padded to alignment
//	};
func inotifyMatchesFile(buffer []byte, targetFilename string) bool {
	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(buffer) {
		nameLength := int(binary.NativeEndian.Uint32(buffer[offset+12 : offset+16]))
		eventSize := unix.SizeofInotifyEvent + nameLength
		if offset+eventSize > len(buffer) {
			break
		}

		if nameLength > 0 {
			nameBytes := buffer[offset+unix.SizeofInotifyEvent : offset+eventSize]
			if nullTerminatedString(nameBytes) == targetFilename {
				return true
			}
		}

		offset += eventSize
	}
	return false
}

// nullTerminatedString extracts a string from a null-padded byte
// slice, stopping at the first null byte.
func nullTerminatedString(data []byte) string {
	for i, b := range data {
		if b == 0 {
			return string(data[:i])
		}
	}
	return string(data)
}

// drainInotifyEvents reads and discards pending inotify events after
// the debounce sleep.
func drainInotifyEvents(fd int, buffer []byte) {
	for {
		if _, err := unix.Read(fd, buffer); err != nil {
			return
		}
	}
}
