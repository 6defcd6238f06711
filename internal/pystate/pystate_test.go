package pystate

import (
	"bytes"
	"strings"
	"testing"
)

func TestRoundTripCompressed(t *testing.T) {
	original := []byte(strings.Repeat("hello pickled namespace ", 100))

	raw, err := Encode(original, true)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if raw[0] != VersionLZ4 {
		t.Fatalf("expected version byte %d, got %d", VersionLZ4, raw[0])
	}

	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(env.Payload, original) {
		t.Fatalf("round trip mismatch")
	}
}

func TestRoundTripUncompressed(t *testing.T) {
	original := []byte("small")
	raw, err := Encode(original, false)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if raw[0] != VersionUncompressed {
		t.Fatalf("expected version byte %d, got %d", VersionUncompressed, raw[0])
	}
	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(env.Payload, original) {
		t.Fatalf("round trip mismatch")
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	_, err := Decode([]byte{99, 1, 2, 3})
	if err == nil {
		t.Fatalf("expected error for unknown version byte")
	}
}

func TestDecodeRejectsOversizedUncompressed(t *testing.T) {
	payload := make([]byte, MaxStateSizeBytes+1)
	raw := append([]byte{VersionUncompressed}, payload...)
	_, err := Decode(raw)
	if err == nil {
		t.Fatalf("expected rejection of state over MaxStateSizeBytes")
	}
}

func TestDecodeAcceptsExactlyMaxSize(t *testing.T) {
	payload := make([]byte, MaxStateSizeBytes)
	raw := append([]byte{VersionUncompressed}, payload...)
	if _, err := Decode(raw); err != nil {
		t.Fatalf("expected exactly-at-cap state to be accepted, got %v", err)
	}
}

func TestEmptyBase64DecodesToNil(t *testing.T) {
	env, err := DecodeBase64("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env != nil {
		t.Fatalf("expected nil envelope for empty input")
	}
}

func TestHash16IsStableAndSixteenChars(t *testing.T) {
	raw, err := Encode([]byte("state data"), true)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	h1 := Hash16(raw)
	h2 := Hash16(raw)
	if h1 != h2 {
		t.Fatalf("hash not stable: %s != %s", h1, h2)
	}
	if len(h1) != HashLen {
		t.Fatalf("expected %d-char hash, got %d (%s)", HashLen, len(h1), h1)
	}
}

func TestHash16DiffersForDifferentPayloads(t *testing.T) {
	a, _ := Encode([]byte("a"), false)
	b, _ := Encode([]byte("b"), false)
	if Hash16(a) == Hash16(b) {
		t.Fatalf("expected different hashes for different payloads")
	}
}
