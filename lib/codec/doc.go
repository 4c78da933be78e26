// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Dirigent's standard CBOR encoding
// configuration.
//
// Dirigent uses two serialization formats with a clear boundary:
//
//   - JSON for external interfaces: task files on disk, CLI output,
//     and the daemon's JSON log stream.
//   - CBOR for internal protocols: the wire event stream between the
//     daemon and its viewers, and viewer replay captures.
//
// This package provides the shared encoding and decoding modes so
// every package encodes identically. The encoder uses Core
// Deterministic Encoding (RFC 8949 §4.2): sorted map keys, smallest
// integer encoding, no indefinite-length items. Same logical data
// always produces identical bytes.
//
// For buffer-oriented operations (frames, captures):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (sockets):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// # Struct Tag Rules
//
// The struct tag on a type documents its serialization format:
//
//   - `cbor` tag: this type is only ever serialized as CBOR
//     (wire-protocol envelopes).
//   - `json` tag: this type may be serialized as both JSON and CBOR.
//     fxamacker/cbor v2 reads `json` tags as fallback when `cbor`
//     tags are absent, so a single `json` tag controls field naming
//     and omitempty for both formats (event.Event and the task types
//     work this way).
//
// Never use both `cbor` and `json` tags on the same field. The tag
// choice documents the contract.
package codec
