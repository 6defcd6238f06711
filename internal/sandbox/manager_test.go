//go:build linux

package sandbox

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	base := t.TempDir()
	m, err := NewManager(base, "/bin/true", 1<<20)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestCreateThenDestroyIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	desc, err := m.Create("sess-1", "py", true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := os.Stat(desc.DataDir); err != nil {
		t.Fatalf("expected data dir to exist: %v", err)
	}

	if err := m.Destroy(desc); err != nil {
		t.Fatalf("first Destroy: %v", err)
	}
	if _, err := os.Stat(desc.SandboxDir); !os.IsNotExist(err) {
		t.Fatalf("expected sandbox dir removed, stat err=%v", err)
	}

	// Idempotence of destroy (SPEC_FULL.md §8 invariant).
	if err := m.Destroy(desc); err != nil {
		t.Fatalf("second Destroy must be a no-op, got: %v", err)
	}
}

func TestPutFileThenGetFileRoundTrip(t *testing.T) {
	m := newTestManager(t)
	desc, err := m.Create("sess-1", "py", false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer m.Destroy(desc)

	content := []byte("hi\n")
	if err := m.PutFile(desc, content, "hello.txt", "py"); err != nil {
		t.Fatalf("PutFile: %v", err)
	}

	got, ok := m.GetFile(desc, "hello.txt")
	if !ok {
		t.Fatalf("expected file to be found")
	}
	if string(got) != "hi\n" {
		t.Fatalf("got %q want %q", got, content)
	}
}

func TestGetFileFallsBackToMountPrefix(t *testing.T) {
	m := newTestManager(t)
	desc, err := m.Create("sess-1", "py", false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer m.Destroy(desc)

	if err := os.MkdirAll(filepath.Join(desc.DataDir, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(desc.DataDir, "sub", "nested.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, ok := m.GetFile(desc, "/mnt/data/sub/nested.txt")
	if !ok || string(got) != "x" {
		t.Fatalf("expected nested file via mount-prefix fallback, got ok=%v content=%q", ok, got)
	}
}

func TestGetFileMissingReturnsFalseNotError(t *testing.T) {
	m := newTestManager(t)
	desc, err := m.Create("sess-1", "py", false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer m.Destroy(desc)

	if _, ok := m.GetFile(desc, "nope.txt"); ok {
		t.Fatalf("expected missing file to report ok=false")
	}
}

func TestListGeneratedFilesExcludesSourceAndCapsCount(t *testing.T) {
	m := newTestManager(t)
	desc, err := m.Create("sess-1", "py", false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer m.Destroy(desc)

	for _, name := range []string{"code.py", "out1.txt", "out2.txt", "out3.txt"} {
		if err := os.WriteFile(filepath.Join(desc.DataDir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	files, err := m.ListGeneratedFiles(desc, "code.py", 2, 1<<20)
	if err != nil {
		t.Fatalf("ListGeneratedFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected cap of 2 files, got %d: %v", len(files), files)
	}
	for _, f := range files {
		if f == "code.py" {
			t.Fatalf("source file must be excluded from generated files")
		}
	}
}
