// Package registry implements the session and file metadata side of
// SPEC_FULL.md §6's key-value store contract: session records, per-session
// file hashes, and the indexes the orchestrator's session-resolution and
// file-mounting steps (§4.6 steps 2 and 4) walk. Blob bodies live in
// internal/store.ColdStore; this package owns only the Redis-side records
// that point at them.
//
// Grounded on the SessionServiceInterface/FileServiceInterface call sites
// visible in original_source/src/services/orchestrator.py (get_session,
// create_session, list_sessions_by_entity, get_file_info, list_files,
// store_execution_output_file, update_file_state_hash, update_file_content)
// and on the Redis field layout exercised in
// original_source/tests/unit/test_file_service.py.
package registry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/usnavy13/codebox/internal/domain"
	"github.com/usnavy13/codebox/internal/store"
)

const (
	sessionKeyPrefix      = "sessions:"
	sessionIndexKey       = "sessions:index"
	entitySessionsPrefix  = "sessions:by_entity:"
	fileKeyPrefix         = "files:"
	sessionFilesKeyPrefix = "session_files:"

	entitySessionsCap = 20 // bounded so a long-lived entity's list never grows unbounded
)

// SessionRegistry stores Session records and the indexes used to resolve
// an existing session by ID or by owning entity.
type SessionRegistry struct {
	client *redis.Client
}

// NewSessionRegistry builds a SessionRegistry around an already-configured
// client.
func NewSessionRegistry(client *redis.Client) *SessionRegistry {
	return &SessionRegistry{client: client}
}

func sessionKey(id string) string       { return sessionKeyPrefix + id }
func entitySessionsKey(id string) string { return entitySessionsPrefix + id }

// CreateSession allocates a new active session, recording metadata and
// indexing it by entity ID if one is present.
func (r *SessionRegistry) CreateSession(ctx context.Context, metadata map[string]string) (*domain.Session, error) {
	now := time.Now().UTC()
	sess := &domain.Session{
		ID:           uuid.New().String(),
		Status:       domain.SessionActive,
		CreatedAt:    now,
		LastActiveAt: now,
		Metadata:     metadata,
	}
	if err := r.put(ctx, sess); err != nil {
		return nil, fmt.Errorf("registry: create session: %w", err)
	}
	if err := r.client.SAdd(ctx, sessionIndexKey, sess.ID).Err(); err != nil {
		return nil, fmt.Errorf("registry: index session %s: %w", sess.ID, err)
	}
	if entityID := metadata["entity_id"]; entityID != "" {
		if err := r.indexByEntity(ctx, entityID, sess.ID); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

func (r *SessionRegistry) indexByEntity(ctx context.Context, entityID, sessionID string) error {
	key := entitySessionsKey(entityID)
	pipe := r.client.Pipeline()
	pipe.LPush(ctx, key, sessionID)
	pipe.LTrim(ctx, key, 0, entitySessionsCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("registry: index session %s by entity %s: %w", sessionID, entityID, err)
	}
	return nil
}

func (r *SessionRegistry) put(ctx context.Context, sess *domain.Session) error {
	mapping := map[string]interface{}{
		"session_id":     sess.ID,
		"status":         string(sess.Status),
		"created_at":     sess.CreatedAt.Format(time.RFC3339Nano),
		"last_active_at": sess.LastActiveAt.Format(time.RFC3339Nano),
	}
	for k, v := range sess.Metadata {
		mapping["meta_"+k] = v
	}
	return r.client.HSet(ctx, sessionKey(sess.ID), mapping).Err()
}

// GetSession looks up a session by ID. ok=false if it does not exist.
func (r *SessionRegistry) GetSession(ctx context.Context, id string) (*domain.Session, bool, error) {
	if id == "" {
		return nil, false, nil
	}
	fields, err := r.client.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("registry: get session %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}
	return sessionFromFields(id, fields), true, nil
}

func sessionFromFields(id string, fields map[string]string) *domain.Session {
	sess := &domain.Session{ID: id, Status: domain.SessionStatus(fields["status"]), Metadata: map[string]string{}}
	if t, err := time.Parse(time.RFC3339Nano, fields["created_at"]); err == nil {
		sess.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["last_active_at"]); err == nil {
		sess.LastActiveAt = t
	}
	const metaPrefix = "meta_"
	for k, v := range fields {
		if len(k) > len(metaPrefix) && k[:len(metaPrefix)] == metaPrefix {
			sess.Metadata[k[len(metaPrefix):]] = v
		}
	}
	return sess
}

// ListActiveByEntity returns up to limit of the most recently created
// active sessions belonging to entityID, newest first.
func (r *SessionRegistry) ListActiveByEntity(ctx context.Context, entityID string, limit int) ([]*domain.Session, error) {
	if entityID == "" || limit <= 0 {
		return nil, nil
	}
	ids, err := r.client.LRange(ctx, entitySessionsKey(entityID), 0, entitySessionsCap-1).Result()
	if err != nil {
		return nil, fmt.Errorf("registry: list sessions for entity %s: %w", entityID, err)
	}
	out := make([]*domain.Session, 0, len(ids))
	for _, id := range ids {
		sess, ok, err := r.GetSession(ctx, id)
		if err != nil || !ok || sess.Status != domain.SessionActive {
			continue
		}
		out = append(out, sess)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Touch bumps a session's last-active timestamp.
func (r *SessionRegistry) Touch(ctx context.Context, id string) error {
	err := r.client.HSet(ctx, sessionKey(id), "last_active_at", time.Now().UTC().Format(time.RFC3339Nano)).Err()
	if err != nil {
		return fmt.Errorf("registry: touch session %s: %w", id, err)
	}
	return nil
}

// FileRegistry stores per-file metadata records in Redis and the bodies
// they describe in a ColdStore.
type FileRegistry struct {
	client *redis.Client
	cold   *store.ColdStore
}

// NewFileRegistry builds a FileRegistry around an already-configured Redis
// client and cold blob store.
func NewFileRegistry(client *redis.Client, cold *store.ColdStore) *FileRegistry {
	return &FileRegistry{client: client, cold: cold}
}

func fileKey(sessionID, fileID string) string { return fileKeyPrefix + sessionID + ":" + fileID }
func sessionFilesKey(sessionID string) string { return sessionFilesKeyPrefix + sessionID }

// StoreUpload persists an uploaded file's body and metadata, returning the
// new StoredFile record.
func (r *FileRegistry) StoreUpload(ctx context.Context, sessionID, filename, contentType string, content []byte, isAgentFile bool) (*domain.StoredFile, error) {
	fileID := uuid.New().String()
	objectKey := fmt.Sprintf("sessions/%s/uploads/%s", sessionID, fileID)

	if err := r.cold.PutUpload(ctx, sessionID, fileID, content, contentType); err != nil {
		return nil, fmt.Errorf("registry: store upload %s: %w", filename, err)
	}

	sf := &domain.StoredFile{
		FileID:      fileID,
		Filename:    filename,
		Path:        "/mnt/data/" + filename,
		Size:        int64(len(content)),
		ContentType: contentType,
		CreatedAt:   time.Now().UTC(),
		IsAgentFile: isAgentFile,
		SessionID:   sessionID,
		ObjectKey:   objectKey,
	}
	if err := r.put(ctx, sf); err != nil {
		return nil, err
	}
	return sf, nil
}

// StoreExecutionOutputFile persists a file produced during an execution,
// stamping it with the state hash so it can later anchor state restoration
// by file reference.
func (r *FileRegistry) StoreExecutionOutputFile(ctx context.Context, sessionID, filename string, content []byte, executionID, stateHash string) (string, error) {
	fileID := uuid.New().String()
	if err := r.cold.PutOutput(ctx, sessionID, fileID, content, ""); err != nil {
		return "", fmt.Errorf("registry: store output file %s: %w", filename, err)
	}
	sf := &domain.StoredFile{
		FileID:      fileID,
		Filename:    filename,
		Path:        "/mnt/data/" + filename,
		Size:        int64(len(content)),
		CreatedAt:   time.Now().UTC(),
		StateHash:   stateHash,
		ExecutionID: executionID,
		SessionID:   sessionID,
		ObjectKey:   fmt.Sprintf("sessions/%s/outputs/%s", sessionID, fileID),
	}
	if err := r.put(ctx, sf); err != nil {
		return "", err
	}
	return fileID, nil
}

func (r *FileRegistry) put(ctx context.Context, sf *domain.StoredFile) error {
	mapping := map[string]interface{}{
		"file_id":      sf.FileID,
		"filename":     sf.Filename,
		"path":         sf.Path,
		"size":         sf.Size,
		"content_type": sf.ContentType,
		"created_at":   sf.CreatedAt.Format(time.RFC3339Nano),
		"state_hash":   sf.StateHash,
		"execution_id": sf.ExecutionID,
		"session_id":   sf.SessionID,
		"object_key":   sf.ObjectKey,
		"is_agent_file": agentFileFlag(sf.IsAgentFile),
	}
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, fileKey(sf.SessionID, sf.FileID), mapping)
	pipe.SAdd(ctx, sessionFilesKey(sf.SessionID), sf.FileID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("registry: put file %s: %w", sf.FileID, err)
	}
	return nil
}

func agentFileFlag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// GetFileInfo returns a file's metadata record. ok=false if it does not
// exist.
func (r *FileRegistry) GetFileInfo(ctx context.Context, sessionID, fileID string) (*domain.StoredFile, bool, error) {
	fields, err := r.client.HGetAll(ctx, fileKey(sessionID, fileID)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("registry: get file %s/%s: %w", sessionID, fileID, err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}
	return fileFromFields(fields), true, nil
}

func fileFromFields(fields map[string]string) *domain.StoredFile {
	size, _ := strconv.ParseInt(fields["size"], 10, 64)
	sf := &domain.StoredFile{
		FileID:      fields["file_id"],
		Filename:    fields["filename"],
		Path:        fields["path"],
		Size:        size,
		ContentType: fields["content_type"],
		StateHash:   fields["state_hash"],
		ExecutionID: fields["execution_id"],
		SessionID:   fields["session_id"],
		ObjectKey:   fields["object_key"],
		IsAgentFile: fields["is_agent_file"] == "1",
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["created_at"]); err == nil {
		sf.CreatedAt = t
	}
	if raw, ok := fields["last_used_at"]; ok && raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			sf.LastUsedAt = &t
		}
	}
	return sf
}

// ListFiles returns every file stored for a session.
func (r *FileRegistry) ListFiles(ctx context.Context, sessionID string) ([]*domain.StoredFile, error) {
	ids, err := r.client.SMembers(ctx, sessionFilesKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("registry: list files for session %s: %w", sessionID, err)
	}
	out := make([]*domain.StoredFile, 0, len(ids))
	for _, id := range ids {
		sf, ok, err := r.GetFileInfo(ctx, sessionID, id)
		if err != nil || !ok {
			continue
		}
		out = append(out, sf)
	}
	return out, nil
}

// FindByName looks up a file by filename within a session, used as the
// fallback when a file reference omits its ID (SPEC_FULL.md §4.6 step 4).
func (r *FileRegistry) FindByName(ctx context.Context, sessionID, name string) (*domain.StoredFile, bool, error) {
	files, err := r.ListFiles(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	for _, f := range files {
		if f.Filename == name {
			return f, true, nil
		}
	}
	return nil, false, nil
}

// UpdateFileStateHash stamps a file's state_hash and execution_id after a
// successful state save, implementing the "last used" state-file linking
// semantics of SPEC_FULL.md §4.6 step 9.
func (r *FileRegistry) UpdateFileStateHash(ctx context.Context, sessionID, fileID, stateHash, executionID string) error {
	err := r.client.HSet(ctx, fileKey(sessionID, fileID), map[string]interface{}{
		"state_hash":   stateHash,
		"execution_id": executionID,
		"last_used_at": time.Now().UTC().Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		return fmt.Errorf("registry: update state hash for file %s: %w", fileID, err)
	}
	return nil
}

// UpdateFileContent overwrites a file's stored bytes and refreshes its
// size/state_hash/execution_id metadata, mirroring FileService's
// update_file_content in original_source/tests/unit/test_file_service.py.
// Returns false (not an error) if the file or its object key cannot be
// found, matching the Python original's graceful-skip behavior.
func (r *FileRegistry) UpdateFileContent(ctx context.Context, sessionID, fileID string, content []byte, stateHash, executionID string) (bool, error) {
	sf, ok, err := r.GetFileInfo(ctx, sessionID, fileID)
	if err != nil {
		return false, err
	}
	if !ok || sf.ObjectKey == "" {
		return false, nil
	}

	if err := r.cold.PutUpload(ctx, sessionID, fileID, content, sf.ContentType); err != nil {
		return false, fmt.Errorf("registry: update file content %s: %w", fileID, err)
	}

	mapping := map[string]interface{}{
		"size":         len(content),
		"last_used_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if stateHash != "" {
		mapping["state_hash"] = stateHash
	}
	if executionID != "" {
		mapping["execution_id"] = executionID
	}
	if err := r.client.HSet(ctx, fileKey(sessionID, fileID), mapping).Err(); err != nil {
		return false, fmt.Errorf("registry: update file metadata %s: %w", fileID, err)
	}
	return true, nil
}

// GetFileBytes fetches a file's body from cold storage, trying the
// uploads prefix first and falling back to outputs (a file's object_key
// already encodes which one it lives under, so this is mostly a
// convenience for callers holding only a StoredFile).
func (r *FileRegistry) GetFileBytes(ctx context.Context, sf *domain.StoredFile) ([]byte, bool, error) {
	if sf == nil {
		return nil, false, nil
	}
	if b, ok, err := r.cold.GetUpload(ctx, sf.SessionID, sf.FileID); ok || err != nil {
		return b, ok, err
	}
	return r.cold.GetOutput(ctx, sf.SessionID, sf.FileID)
}
