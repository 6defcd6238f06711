// Package pystate implements the wire format for a captured Python REPL
// namespace: a version byte followed by a pickled mapping, optionally
// LZ4-frame compressed, base64-transported, and content-addressed by a
// truncated SHA-256 hash. This mirrors
// original_source/src/executor/python_state.py's serialize_state /
// deserialize_state pair.
//
// The Go core never unpickles the payload itself — the REPL driver stays a
// Python process per SPEC_FULL.md §9 — so this package treats Payload as
// an opaque blob once the version byte has been stripped/applied. What it
// owns is the envelope: versioning, compression, size enforcement and
// hashing, all of which the orchestrator and state store need without
// understanding pickle.
package pystate

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

const (
	// VersionUncompressed marks Payload as a raw pickled mapping.
	VersionUncompressed byte = 1
	// VersionLZ4 marks Payload as an LZ4-frame-compressed pickled mapping.
	VersionLZ4 byte = 2

	headerSize = 1

	// MaxStateSizeBytes is the maximum decoded (post-decompression) size,
	// per SPEC_FULL.md §3 / §8.
	MaxStateSizeBytes = 50 * 1024 * 1024

	// HashLen is the number of hex characters kept from the SHA-256 digest
	// for content addressing.
	HashLen = 16
)

// Envelope is a parsed version-byte-plus-payload state blob.
type Envelope struct {
	Version byte
	Payload []byte // pickled bytes, decompressed if Version==VersionLZ4
}

// Decode parses raw envelope bytes (version || payload), decompressing the
// payload if it was LZ4-compressed, and enforces the maximum decoded size.
func Decode(raw []byte) (*Envelope, error) {
	if len(raw) < headerSize {
		return nil, fmt.Errorf("pystate: state too short to contain a version byte")
	}
	version := raw[0]
	compressed := raw[headerSize:]

	switch version {
	case VersionLZ4:
		decompressed, err := lz4Decompress(compressed)
		if err != nil {
			return nil, fmt.Errorf("pystate: lz4 decompress: %w", err)
		}
		if len(decompressed) > MaxStateSizeBytes {
			return nil, fmt.Errorf("pystate: state too large: %d bytes", len(decompressed))
		}
		return &Envelope{Version: version, Payload: decompressed}, nil
	case VersionUncompressed:
		if len(compressed) > MaxStateSizeBytes {
			return nil, fmt.Errorf("pystate: state too large: %d bytes", len(compressed))
		}
		return &Envelope{Version: version, Payload: compressed}, nil
	default:
		return nil, fmt.Errorf("pystate: unknown state version byte %d", version)
	}
}

// Encode compresses pickled (with LZ4 at the frame level) and prepends the
// version byte, enforcing the maximum encoded size. compress=false
// produces a VersionUncompressed envelope (used only if LZ4 becomes
// unavailable, mirroring the Python original's LZ4_AVAILABLE fallback).
func Encode(pickled []byte, compress bool) ([]byte, error) {
	var version byte
	var payload []byte

	if compress {
		compressedPayload, err := lz4Compress(pickled)
		if err != nil {
			return nil, fmt.Errorf("pystate: lz4 compress: %w", err)
		}
		version = VersionLZ4
		payload = compressedPayload
	} else {
		version = VersionUncompressed
		payload = pickled
	}

	out := make([]byte, 0, headerSize+len(payload))
	out = append(out, version)
	out = append(out, payload...)

	if len(out) > MaxStateSizeBytes {
		return nil, fmt.Errorf("pystate: state too large: %d bytes", len(out))
	}
	return out, nil
}

// DecodeBase64 base64-decodes then Decodes a transported state string. An
// empty string decodes to a nil Envelope with no error, matching the
// Python original's "falsy state_b64 returns {}" behavior.
func DecodeBase64(stateB64 string) (*Envelope, error) {
	if stateB64 == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(stateB64)
	if err != nil {
		return nil, fmt.Errorf("pystate: invalid base64: %w", err)
	}
	return Decode(raw)
}

// EncodeBase64 is Encode followed by base64 encoding, the transport shape
// used on the wire (REPL protocol, HTTP, storage).
func EncodeBase64(pickled []byte, compress bool) (string, error) {
	raw, err := Encode(pickled, compress)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Hash16 computes the content-addressing key: the first 16 lowercase hex
// characters of SHA-256 over the full envelope bytes (version + payload,
// pre-base64), per SPEC_FULL.md §3/§6.
func Hash16(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:HashLen]
}

// Hash16FromBase64 decodes stateB64 and returns its Hash16, without
// decompressing the payload (hashing is defined over the transported
// bytes, not the decoded pickle).
func Hash16FromBase64(stateB64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(stateB64)
	if err != nil {
		return "", fmt.Errorf("pystate: invalid base64: %w", err)
	}
	return Hash16(raw), nil
}

func lz4Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	// compression_level=0 on the Python side is lz4.frame's fastest mode;
	// the Go lz4 writer defaults to the equivalent fast compression when
	// no level option is set.
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func lz4Decompress(src []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(src))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return out, nil
}
