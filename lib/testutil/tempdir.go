// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"testing"
)

// SocketDir creates a temporary directory suitable for Unix domain
// sockets.
//
// Unix domain sockets have a 108-byte path limit (sun_path in
// sockaddr_un). Test runners can place TEST_TMPDIR at deeply nested
// paths that exceed this limit, making t.TempDir() unsuitable for
// socket files. This function creates a short-named directory directly
// in /tmp.
//
// The directory is removed when the test completes.
func SocketDir(t *testing.T) string {
	t.Helper()
	directory, err := os.MkdirTemp("/tmp", "dirigent-test-*")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(directory)
	})
	return directory
}
