// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package taskstore

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/jsonc"
	"github.com/zeebo/blake3"

	"github.com/dirigent-project/dirigent/lib/orchestration"
)

// taskFileKey is the BLAKE3 keyed-hash domain key for task file
// fingerprints. The bytes are the ASCII domain name zero-padded to 32
// bytes; changing them invalidates all recorded fingerprints.
var taskFileKey = [32]byte{
	'd', 'i', 'r', 'i', 'g', 'e', 'n', 't', '.', 't', 'a', 's', 'k', 'f', 'i', 'l',
	'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// fingerprint computes the keyed BLAKE3 digest of task file content.
func fingerprint(data []byte) [32]byte {
	hasher, err := blake3.NewKeyed(taskFileKey[:])
	if err != nil {
		// NewKeyed fails only on wrong key length, which the fixed
		// array rules out.
		panic("taskstore: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var digest [32]byte
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// FileConfig holds the parameters for a file-backed task store.
type FileConfig struct {
	// Logger receives read/write messages. Nil discards them.
	Logger *slog.Logger
}

// FileStore reads and writes task files on disk. Files are JSONC: JSON
// extended with // line comments, /* block comments */, and trailing
// commas. The canonical shape is an object with a "tasks" array; a
// bare top-level array is accepted too.
//
// The store remembers a content fingerprint per path from the last
// read or write, so callers can cheaply detect external modification.
type FileStore struct {
	logger *slog.Logger

	mu           sync.Mutex
	fingerprints map[string][32]byte
}

// NewFileStore creates a file-backed task store.
func NewFileStore(config FileConfig) *FileStore {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FileStore{
		logger:       logger,
		fingerprints: make(map[string][32]byte),
	}
}

// fileShape is the canonical on-disk layout.
type fileShape struct {
	Tasks []orchestration.Task `json:"tasks"`
}

// ReadTasks loads the task file at path. A missing file is an error
// wrapping os.ErrNotExist.
func (s *FileStore) ReadTasks(_ context.Context, path string) (orchestration.TaskFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return orchestration.TaskFile{}, fmt.Errorf("taskstore: reading %s: %w", path, err)
	}

	tasks, err := parseTasks(data)
	if err != nil {
		return orchestration.TaskFile{}, fmt.Errorf("taskstore: parsing %s: %w", path, err)
	}

	meta := orchestration.FileMeta{
		Path:   path,
		Format: "jsonc",
		Count:  len(tasks),
	}
	if info, err := os.Stat(path); err == nil {
		meta.Modified = info.ModTime()
	}

	s.recordFingerprint(path, fingerprint(data))
	s.logger.Debug("task file read", "path", path, "tasks", len(tasks))

	return orchestration.TaskFile{Tasks: tasks, Meta: meta}, nil
}

// parseTasks strips JSONC extensions and unmarshals either the object
// form {"tasks": [...]} or a bare task array.
func parseTasks(data []byte) ([]orchestration.Task, error) {
	stripped := jsonc.ToJSON(data)

	if first := firstContentByte(stripped); first == '[' {
		var tasks []orchestration.Task
		if err := json.Unmarshal(stripped, &tasks); err != nil {
			return nil, err
		}
		return tasks, nil
	}

	var shape fileShape
	if err := json.Unmarshal(stripped, &shape); err != nil {
		return nil, err
	}
	return shape.Tasks, nil
}

func firstContentByte(data []byte) byte {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

// WriteTasks atomically replaces the task file at path with the given
// collection. The file is written to a temporary sibling, fsynced,
// renamed into place, and the parent directory synced, so readers
// never see a partial write.
func (s *FileStore) WriteTasks(_ context.Context, tasks []orchestration.Task, path string) error {
	data, err := json.MarshalIndent(fileShape{Tasks: tasks}, "", "  ")
	if err != nil {
		return fmt.Errorf("taskstore: marshaling tasks: %w", err)
	}
	data = append(data, '\n')

	if err := writeFileAtomic(path, data); err != nil {
		return err
	}

	s.recordFingerprint(path, fingerprint(data))
	s.logger.Debug("task file written", "path", path, "tasks", len(tasks))
	return nil
}

// writeFileAtomic writes data to path via a temporary file in the same
// directory. The file is created with mode 0600; the parent directory
// must exist.
func writeFileAtomic(path string, data []byte) error {
	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("taskstore: creating temporary file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("taskstore: writing temporary file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("taskstore: syncing temporary file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("taskstore: closing temporary file: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("taskstore: renaming %s into place: %w", path, err)
	}

	// Sync the parent directory so the rename survives power loss
	// before the OS flushes directory metadata.
	if parentDirectory, err := os.Open(filepath.Dir(path)); err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}
	return nil
}

// Fingerprint returns the hex-encoded keyed BLAKE3 digest of the
// current file content at path.
func (s *FileStore) Fingerprint(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("taskstore: fingerprinting %s: %w", path, err)
	}
	digest := fingerprint(data)
	return hex.EncodeToString(digest[:]), nil
}

// Changed reports whether the file content at path differs from the
// fingerprint recorded by the last ReadTasks or WriteTasks. A path
// this store has never touched counts as changed.
func (s *FileStore) Changed(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("taskstore: fingerprinting %s: %w", path, err)
	}
	current := fingerprint(data)

	s.mu.Lock()
	recorded, known := s.fingerprints[path]
	s.mu.Unlock()
	if !known {
		return true, nil
	}
	return current != recorded, nil
}

func (s *FileStore) recordFingerprint(path string, digest [32]byte) {
	s.mu.Lock()
	s.fingerprints[path] = digest
	s.mu.Unlock()
}
