package replproto

import (
	"bytes"
	"io"
	"testing"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := RequestFrame{Code: "print(1)", Timeout: 30, WorkingDir: "/mnt/data"}
	if err := WriteFrame(&buf, req); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	fr := NewFrameReader(&buf)
	raw, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}

	var got RequestFrame
	if err := DecodeInto(raw, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Code != req.Code || got.Timeout != req.Timeout {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, req)
	}
}

func TestMultipleFramesInSequence(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteFrame(&buf, ResponseFrame{ExitCode: 0, Stdout: "a\n"})
	_ = WriteFrame(&buf, ResponseFrame{ExitCode: 1, Stdout: "b\n"})

	fr := NewFrameReader(&buf)

	raw1, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame 1: %v", err)
	}
	r1, err := DecodeResponse(raw1)
	if err != nil || r1.Stdout != "a\n" {
		t.Fatalf("frame 1 mismatch: %+v err=%v", r1, err)
	}

	raw2, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame 2: %v", err)
	}
	r2, err := DecodeResponse(raw2)
	if err != nil || r2.Stdout != "b\n" {
		t.Fatalf("frame 2 mismatch: %+v err=%v", r2, err)
	}

	if _, err := fr.ReadFrame(); err != io.EOF {
		t.Fatalf("expected io.EOF after consuming both frames, got %v", err)
	}
}

func TestReadyFrameDecoding(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteFrame(&buf, ReadyFrame{Status: "ready", PreloadedModules: []string{"numpy", "pandas"}})

	fr := NewFrameReader(&buf)
	raw, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	ready, err := DecodeReady(raw)
	if err != nil {
		t.Fatalf("DecodeReady: %v", err)
	}
	if !ready.IsReady() {
		t.Fatalf("expected ready status")
	}
}

func TestWriteFrameEncodesOrdinaryPayloadCleanly(t *testing.T) {
	var buf bytes.Buffer
	// A code string containing the literal delimiter bytes never survives
	// JSON marshaling intact (its newlines get escaped), so a payload that
	// would break framing is not reachable; this checks that an ordinary
	// frame encodes without error.
	err := WriteFrame(&buf, RequestFrame{Code: "fine"})
	if err != nil {
		t.Fatalf("normal frame must encode cleanly: %v", err)
	}
}
