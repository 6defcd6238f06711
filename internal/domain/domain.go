// Package domain holds the plain data types shared across the sandbox
// lifecycle, pool, REPL protocol and orchestrator packages. None of these
// types carry behavior beyond small helpers; they exist so every package
// in the core agrees on one shape per concept.
package domain

import "time"

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionExpired SessionStatus = "expired"
)

// Session is a client-facing conversation scope: Python state and uploaded
// files are keyed by it across executions.
type Session struct {
	ID           string
	Status       SessionStatus
	CreatedAt    time.Time
	LastActiveAt time.Time
	Metadata     map[string]string
}

// Active reports whether the session may still be used.
func (s *Session) Active() bool {
	return s != nil && s.Status == SessionActive
}

// SandboxDescriptor identifies one execution environment on the host
// filesystem. It is valid only while SandboxDir still exists on disk.
type SandboxDescriptor struct {
	ID         string
	SandboxDir string
	DataDir    string
	Language   string
	SessionID  string
	ReplMode   bool
	CreatedAt  time.Time
	Labels     map[string]string
}

// StandardLabels returns the label set manager.Create stamps on every
// descriptor, mirroring the Python original's com.code-interpreter.* keys.
func StandardLabels(sessionID, language string, replMode bool) map[string]string {
	repl := "false"
	if replMode {
		repl = "true"
	}
	if language == "" {
		language = "unknown"
	}
	return map[string]string{
		"com.codebox.managed":    "true",
		"com.codebox.type":       "execution",
		"com.codebox.session-id": sessionID,
		"com.codebox.language":   language,
		"com.codebox.repl-mode":  repl,
	}
}

// ReplProcessHandle is a running REPL child process inside a sandbox.
// Ready becomes true only after the child has emitted its ready frame.
type ReplProcessHandle struct {
	Sandbox   *SandboxDescriptor
	CreatedAt time.Time
	Ready     bool

	// process is the owning package's live handle (process.Cmd); kept as
	// an opaque value here so domain stays free of os/exec imports.
	Process any
}

// PooledSandbox is a SandboxDescriptor with a ready REPL process, held in
// the pool's per-language queue.
type PooledSandbox struct {
	Descriptor *SandboxDescriptor
	Repl       *ReplProcessHandle
	EnqueuedAt time.Time
}

// PoolStats accumulates per-language acquisition statistics. Every field
// is updated under the owning pool's single mutex.
type PoolStats struct {
	Language          string
	Available         int
	TotalAcquisitions int64
	PoolHits          int64
	PoolMisses        int64
	SandboxesCreated  int64
	SandboxesDestroyed int64
	AvgAcquireTimeMs  float64
}

// RecordHit folds a pool-hit sample into the running average acquire time.
func (s *PoolStats) RecordHit(sampleMs float64) {
	s.TotalAcquisitions++
	s.PoolHits++
	n := float64(s.PoolHits)
	s.AvgAcquireTimeMs = (s.AvgAcquireTimeMs*(n-1) + sampleMs) / n
}

// RecordMiss counts an acquisition that fell through to fresh creation.
func (s *PoolStats) RecordMiss() {
	s.TotalAcquisitions++
	s.PoolMisses++
}

// ExecutionStatus is the terminal or in-flight state of an ExecutionRecord.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionTimeout   ExecutionStatus = "timeout"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// OutputKind distinguishes the three output channels an execution can
// produce content on.
type OutputKind string

const (
	OutputStdout OutputKind = "stdout"
	OutputStderr OutputKind = "stderr"
	OutputFile   OutputKind = "file"
)

// Output is one piece of captured execution output.
type Output struct {
	Type      OutputKind
	Content   string
	MimeType  string
	Size      int64
	Timestamp time.Time
}

// ExecutionRecord is the immutable log entry produced per code submission.
type ExecutionRecord struct {
	ID              string
	SessionID       string
	Language        string
	Code            string
	Status          ExecutionStatus
	ExitCode        int
	Outputs         []Output
	StartedAt       time.Time
	EndedAt         time.Time
	ExecutionTimeMs int64
	PeakMemoryBytes *int64
	ErrorMessage    string
}

// DurationMs reports the wall time the record spans in whole milliseconds,
// truncating any fraction.
func (e *ExecutionRecord) DurationMs() int64 {
	if e.EndedAt.IsZero() || e.StartedAt.IsZero() {
		return 0
	}
	return e.EndedAt.Sub(e.StartedAt).Milliseconds()
}

// StoredFile is the metadata record for one uploaded or generated file.
// The body lives in the blob store; this is the key-value side.
type StoredFile struct {
	FileID      string
	Filename    string
	Path        string
	Size        int64
	ContentType string
	CreatedAt   time.Time
	StateHash   string
	ExecutionID string
	LastUsedAt  *time.Time
	IsAgentFile bool
	SessionID   string
	ObjectKey   string
}

// Writable reports whether user code executions are allowed to overwrite
// this file's stored content. Agent files are immutable once uploaded.
func (f *StoredFile) Writable(sessionID string) bool {
	return f != nil && !f.IsAgentFile && f.SessionID == sessionID
}

// FileRef is how a client references an existing file in an exec request.
type FileRef struct {
	ID           string
	SessionID    string
	Name         string
	RestoreState bool
}

// GeneratedFileRef is the minimal shape returned to the client for a file
// an execution produced.
type GeneratedFileRef struct {
	ID        string
	Name      string
	SessionID string
}
