// Package replproto implements the length-delimited JSON framing protocol
// spoken between the orchestrator and a REPL process resident inside a
// sandbox (SPEC_FULL.md §4.3). Every frame is a UTF-8 JSON object followed
// by the literal delimiter "\n---END---\n"; frames are never multiplexed
// and stdout carries nothing else.
//
// Grounded on the teacher's DockerStream.demux custom stream-framing
// pattern (internal/driver/docker/docker.go), generalized from Docker's
// 8-byte header framing to this delimiter framing.
package replproto

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Delimiter is the fixed frame terminator. It must never appear inside a
// serialized JSON value — callers are responsible for code/state payloads
// that cannot themselves contain this byte sequence, which holds for any
// output of json.Marshal (it escapes the raw newlines the delimiter starts
// and ends with).
var Delimiter = []byte("\n---END---\n")

// RequestFrame is what the orchestrator sends to a live REPL.
type RequestFrame struct {
	Code         string   `json:"code"`
	Timeout      int      `json:"timeout"`
	WorkingDir   string   `json:"working_dir"`
	Args         []string `json:"args,omitempty"`
	InitialState string   `json:"initial_state,omitempty"`
	CaptureState bool     `json:"capture_state,omitempty"`
}

// ResponseFrame is what a REPL sends back after executing a RequestFrame.
type ResponseFrame struct {
	ExitCode    int      `json:"exit_code"`
	Stdout      string   `json:"stdout"`
	Stderr      string   `json:"stderr"`
	State       string   `json:"state,omitempty"`
	StateErrors []string `json:"state_errors,omitempty"`
}

// ReadyFrame is the first frame a REPL emits once warmed up.
type ReadyFrame struct {
	Status          string   `json:"status"`
	PreloadedModules []string `json:"preloaded_modules,omitempty"`
}

// IsReady reports whether this frame's status field is "ready".
func (r ReadyFrame) IsReady() bool { return r.Status == "ready" }

// WriteFrame marshals v to JSON and writes it followed by Delimiter,
// flushing if w supports it.
func WriteFrame(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("replproto: marshal frame: %w", err)
	}
	if bytes.Contains(payload, Delimiter) {
		return fmt.Errorf("replproto: encoded frame unexpectedly contains the delimiter")
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("replproto: write frame: %w", err)
	}
	if _, err := w.Write(Delimiter); err != nil {
		return fmt.Errorf("replproto: write delimiter: %w", err)
	}
	if f, ok := w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// FrameReader incrementally reads delimiter-terminated frames off a
// stream, using a split function so partial reads accumulate correctly
// across calls — the same shape as bufio.Scanner's custom SplitFunc
// mechanism, just exposed with an explicit ReadFrame method so callers
// can apply their own deadline per call.
type FrameReader struct {
	scanner *bufio.Scanner
}

// NewFrameReader wraps r for frame-at-a-time reads.
func NewFrameReader(r io.Reader) *FrameReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	s.Split(splitOnDelimiter)
	return &FrameReader{scanner: s}
}

// ReadFrame blocks until one full frame (sans delimiter) is available, or
// returns io.EOF if the underlying stream closed with no more frames.
func (f *FrameReader) ReadFrame() ([]byte, error) {
	if !f.scanner.Scan() {
		if err := f.scanner.Err(); err != nil {
			return nil, fmt.Errorf("replproto: read frame: %w", err)
		}
		return nil, io.EOF
	}
	out := make([]byte, len(f.scanner.Bytes()))
	copy(out, f.scanner.Bytes())
	return out, nil
}

func splitOnDelimiter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.Index(data, Delimiter); i >= 0 {
		return i + len(Delimiter), data[:i], nil
	}
	if atEOF && len(data) > 0 {
		// Invalid response: delimiter never arrived before EOF. Hand back
		// what we have so the caller can report a parse error, matching
		// the Python original's "delimiter not found" fallback response.
		return len(data), data, nil
	}
	if atEOF {
		return 0, nil, io.EOF
	}
	return 0, nil, nil
}

// DecodeInto unmarshals a raw frame body into any target type, for
// callers (tests, the one-shot path) that don't need ResponseFrame or
// ReadyFrame specifically.
func DecodeInto(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("replproto: decode frame: %w", err)
	}
	return nil
}

// DecodeResponse unmarshals a raw frame body into a ResponseFrame.
func DecodeResponse(raw []byte) (ResponseFrame, error) {
	var resp ResponseFrame
	if err := json.Unmarshal(raw, &resp); err != nil {
		return ResponseFrame{}, fmt.Errorf("replproto: decode response frame: %w", err)
	}
	return resp, nil
}

// DecodeReady unmarshals a raw frame body into a ReadyFrame.
func DecodeReady(raw []byte) (ReadyFrame, error) {
	var ready ReadyFrame
	if err := json.Unmarshal(raw, &ready); err != nil {
		return ReadyFrame{}, fmt.Errorf("replproto: decode ready frame: %w", err)
	}
	return ready, nil
}
