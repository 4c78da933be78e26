// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Dirigent packages.
//
// [SocketDir] creates a temporary directory in /tmp suitable for Unix
// domain sockets. This exists because Unix domain sockets have a
// 108-byte path limit (sun_path in sockaddr_un), and build systems can
// set TEST_TMPDIR to deeply nested paths that exceed this limit, making
// t.TempDir() unsuitable for socket files. The directory is removed
// when the test completes.
//
// [RequireReceive] and [RequireClosed] encapsulate the timeout safety
// valve pattern (select with time.After fallback) so that individual
// tests do not need direct time.After calls.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
