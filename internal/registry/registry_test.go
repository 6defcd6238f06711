package registry

import (
	"testing"
	"time"

	"github.com/usnavy13/codebox/internal/domain"
)

func TestKeyLayout(t *testing.T) {
	if got, want := sessionKey("s1"), "sessions:s1"; got != want {
		t.Fatalf("sessionKey() = %q, want %q", got, want)
	}
	if got, want := entitySessionsKey("e1"), "sessions:by_entity:e1"; got != want {
		t.Fatalf("entitySessionsKey() = %q, want %q", got, want)
	}
	if got, want := fileKey("s1", "f1"), "files:s1:f1"; got != want {
		t.Fatalf("fileKey() = %q, want %q", got, want)
	}
	if got, want := sessionFilesKey("s1"), "session_files:s1"; got != want {
		t.Fatalf("sessionFilesKey() = %q, want %q", got, want)
	}
}

func TestSessionFromFieldsRoundTripsMetadata(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	fields := map[string]string{
		"status":         string(domain.SessionActive),
		"created_at":     now.Format(time.RFC3339Nano),
		"last_active_at": now.Format(time.RFC3339Nano),
		"meta_entity_id": "entity-1",
		"meta_user_id":   "user-1",
	}

	sess := sessionFromFields("s1", fields)

	if sess.ID != "s1" || sess.Status != domain.SessionActive {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if !sess.CreatedAt.Equal(now) || !sess.LastActiveAt.Equal(now) {
		t.Fatalf("timestamps not round-tripped: %+v", sess)
	}
	if sess.Metadata["entity_id"] != "entity-1" || sess.Metadata["user_id"] != "user-1" {
		t.Fatalf("metadata not round-tripped: %+v", sess.Metadata)
	}
}

func TestFileFromFieldsRoundTrips(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	fields := map[string]string{
		"file_id":       "f1",
		"filename":      "out.txt",
		"path":          "/mnt/data/out.txt",
		"size":          "42",
		"content_type":  "text/plain",
		"state_hash":    "abcdef0123456789",
		"execution_id":  "exec-1",
		"session_id":    "s1",
		"object_key":    "sessions/s1/outputs/f1",
		"is_agent_file": "1",
		"created_at":    now.Format(time.RFC3339Nano),
		"last_used_at":  now.Format(time.RFC3339Nano),
	}

	sf := fileFromFields(fields)

	if sf.FileID != "f1" || sf.Filename != "out.txt" || sf.Size != 42 {
		t.Fatalf("unexpected file: %+v", sf)
	}
	if !sf.IsAgentFile {
		t.Fatalf("expected is_agent_file to parse true")
	}
	if sf.LastUsedAt == nil || !sf.LastUsedAt.Equal(now) {
		t.Fatalf("expected last_used_at to round-trip, got %+v", sf.LastUsedAt)
	}
	if sf.Writable("s1") {
		t.Fatalf("agent files must never be writable")
	}
}

func TestAgentFileFlag(t *testing.T) {
	if agentFileFlag(true) != "1" {
		t.Fatalf("expected flag '1' for true")
	}
	if agentFileFlag(false) != "0" {
		t.Fatalf("expected flag '0' for false")
	}
}
