// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"
)

// sampleEnvelope is a representative internal protocol type using
// cbor struct tags (the convention for purely-internal types).
type sampleEnvelope struct {
	Kind     string `cbor:"kind"`
	Source   string `cbor:"source,omitempty"`
	Sequence int    `cbor:"sequence"`
}

// sampleDualMessage uses json struct tags (the convention for types
// that serve both JSON and CBOR, relying on fxamacker's fallback).
type sampleDualMessage struct {
	Version int    `json:"version"`
	Name    string `json:"name"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleEnvelope{
		Kind:     "event",
		Source:   "supervisor",
		Sequence: 42,
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("Marshal produced empty output")
	}

	var decoded sampleEnvelope
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	message := sampleEnvelope{Kind: "backlog", Source: "bus", Sequence: 7}

	first, err := Marshal(message)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	second, err := Marshal(message)
	if err != nil {
		t.Fatalf("second Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("deterministic encoding violated: %x != %x", first, second)
	}
}

func TestEncoderDecoderStreamRoundtrip(t *testing.T) {
	messages := []sampleEnvelope{
		{Kind: "hello", Source: "daemon", Sequence: 1},
		{Kind: "event", Source: "workflow", Sequence: 2},
		{Kind: "ping", Sequence: 0},
	}

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, message := range messages {
		if err := encoder.Encode(message); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i, want := range messages {
		var got sampleEnvelope
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode message %d: %v", i, err)
		}
		if got != want {
			t.Errorf("message %d: got %+v, want %+v", i, got, want)
		}
	}
}

func TestJSONTagFallback(t *testing.T) {
	// Types with json tags (no cbor tags) encode through our modes
	// using the json tag names as CBOR map keys.
	original := sampleDualMessage{Version: 3, Name: "stream"}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleDualMessage
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("json-tag roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestOmitemptyRespected(t *testing.T) {
	withSource := sampleEnvelope{Kind: "a", Source: "x", Sequence: 1}
	withoutSource := sampleEnvelope{Kind: "a", Sequence: 1}

	dataWith, err := Marshal(withSource)
	if err != nil {
		t.Fatal(err)
	}
	dataWithout, err := Marshal(withoutSource)
	if err != nil {
		t.Fatal(err)
	}

	if len(dataWithout) >= len(dataWith) {
		t.Errorf("omitempty not effective: without=%d bytes, with=%d bytes",
			len(dataWithout), len(dataWith))
	}
}

func TestUnmarshalInvalidCBOR(t *testing.T) {
	var message sampleEnvelope
	if err := Unmarshal([]byte{0xFF, 0xFE, 0xFD}, &message); err == nil {
		t.Error("Unmarshal should reject invalid CBOR")
	}
}

func TestByteStringRoundtrip(t *testing.T) {
	// []byte fields encode as CBOR byte strings (major type 2), not
	// text strings. This matters for carrying pre-serialized payloads.
	type envelope struct {
		Payload []byte `cbor:"payload"`
	}

	original := envelope{Payload: []byte(`{"key":"value"}`)}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded envelope
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !bytes.Equal(decoded.Payload, original.Payload) {
		t.Errorf("byte string roundtrip: got %q, want %q", decoded.Payload, original.Payload)
	}
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(map[string]any{"kind": "event"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	notation, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(notation, `"kind"`) {
		t.Errorf("notation %q does not contain \"kind\"", notation)
	}
	if !strings.Contains(notation, `"event"`) {
		t.Errorf("notation %q does not contain \"event\"", notation)
	}
}

func BenchmarkMarshal(b *testing.B) {
	message := sampleEnvelope{Kind: "event", Source: "workflow", Sequence: 42}

	b.ReportAllocs()
	for b.Loop() {
		Marshal(message)
	}
}

func BenchmarkUnmarshal(b *testing.B) {
	message := sampleEnvelope{Kind: "event", Source: "workflow", Sequence: 42}
	data, err := Marshal(message)
	if err != nil {
		b.Fatal(err)
	}

	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	for b.Loop() {
		var decoded sampleEnvelope
		Unmarshal(data, &decoded)
	}
}
