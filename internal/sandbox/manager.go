//go:build linux

// Package sandbox implements the sandbox primitive and manager of
// SPEC_FULL.md §4.1: creating and destroying per-execution directory
// trees, writing/reading file content with language-UID ownership, and
// running one-shot commands through the isolation wrapper.
//
// Grounded on original_source/src/services/sandbox/manager.py and
// src/services/sandbox/executor.py, generalized from the teacher's
// driver.Driver interface shape (Create/Destroy/PutFile/GetFile) but
// implemented against the host filesystem directly instead of Docker.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/usnavy13/codebox/internal/apperr"
	"github.com/usnavy13/codebox/internal/domain"
	"github.com/usnavy13/codebox/internal/isolation"
	"github.com/usnavy13/codebox/internal/langregistry"
)

// Manager creates, destroys and manipulates sandbox directory trees on the
// host filesystem.
type Manager struct {
	baseDir        string
	runnerPath     string
	maxOutputBytes int
}

// NewManager builds a Manager rooted at baseDir. baseDir is created if it
// does not already exist; a failure here is a service-unavailability
// condition per SPEC_FULL.md §7.
func NewManager(baseDir, runnerPath string, maxOutputBytes int) (*Manager, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.TypeServiceUnavailable,
			fmt.Sprintf("failed to create sandbox base directory %s", baseDir), err)
	}
	return &Manager{baseDir: baseDir, runnerPath: runnerPath, maxOutputBytes: maxOutputBytes}, nil
}

// IsAvailable reports whether the sandbox-runner binary can be found,
// mirroring SandboxManager.is_available()'s shutil.which check.
func (m *Manager) IsAvailable() bool {
	_, err := os.Stat(m.runnerPath)
	return err == nil
}

// Create allocates a random sandbox ID and its data directory. Creation
// never starts a process.
func (m *Manager) Create(sessionID, language string, replMode bool) (*domain.SandboxDescriptor, error) {
	id := uuid.New().String()
	sandboxDir := filepath.Join(m.baseDir, id)
	dataDir := filepath.Join(sandboxDir, "data")

	if err := os.MkdirAll(dataDir, 0o777); err != nil {
		return nil, apperr.Wrap(apperr.TypeInternalServer, "failed to create sandbox directory", err)
	}
	// MkdirAll applies umask; make the intent explicit regardless of the
	// process umask, matching "set it mode 0777" in SPEC_FULL.md §4.1.
	if err := os.Chmod(dataDir, 0o777); err != nil {
		return nil, apperr.Wrap(apperr.TypeInternalServer, "failed to chmod sandbox data directory", err)
	}

	return &domain.SandboxDescriptor{
		ID:         id,
		SandboxDir: sandboxDir,
		DataDir:    dataDir,
		Language:   language,
		SessionID:  sessionID,
		ReplMode:   replMode,
		CreatedAt:  time.Now().UTC(),
		Labels:     domain.StandardLabels(sessionID, language, replMode),
	}, nil
}

// Destroy recursively removes the sandbox's directory tree. It is
// idempotent: a missing tree is not an error.
func (m *Manager) Destroy(desc *domain.SandboxDescriptor) error {
	if desc == nil {
		return nil
	}
	if err := os.RemoveAll(desc.SandboxDir); err != nil {
		return fmt.Errorf("sandbox: destroy %s: %w", desc.ID, err)
	}
	return nil
}

// PutFile writes content into the sandbox data directory under the
// destination's basename, chowned to the language's UID and chmod 0644.
func (m *Manager) PutFile(desc *domain.SandboxDescriptor, content []byte, destPath, language string) error {
	lang, ok := langregistry.Get(language)
	if !ok {
		return apperr.New(apperr.TypeValidation, fmt.Sprintf("unsupported language %q", language))
	}

	name := filepath.Base(destPath)
	target := filepath.Join(desc.DataDir, name)

	if err := os.WriteFile(target, content, 0o644); err != nil {
		return fmt.Errorf("sandbox: write file %s: %w", target, err)
	}
	if err := os.Chown(target, lang.UID, lang.UID); err != nil {
		return fmt.Errorf("sandbox: chown file %s: %w", target, err)
	}
	if err := os.Chmod(target, 0o644); err != nil {
		return fmt.Errorf("sandbox: chmod file %s: %w", target, err)
	}
	return nil
}

// GetFile reads bytes from the sandbox data directory. It first tries the
// source path's basename directly under the data directory, then falls
// back to the full relative path under /mnt/data if sourcePath begins with
// that prefix. Returns (nil, false) if the file cannot be found, never an
// error — absence is a normal outcome the orchestrator tolerates.
func (m *Manager) GetFile(desc *domain.SandboxDescriptor, sourcePath string) ([]byte, bool) {
	name := filepath.Base(sourcePath)
	direct := filepath.Join(desc.DataDir, name)
	if b, err := os.ReadFile(direct); err == nil {
		return b, true
	}

	const mountPrefix = "/mnt/data/"
	if len(sourcePath) > len(mountPrefix) && sourcePath[:len(mountPrefix)] == mountPrefix {
		rel := sourcePath[len(mountPrefix):]
		alt := filepath.Join(desc.DataDir, rel)
		if b, err := os.ReadFile(alt); err == nil {
			return b, true
		}
	}
	return nil, false
}

// ListGeneratedFiles walks the sandbox's data directory and returns the
// regular files that are not the source code file itself, capped at
// maxCount entries and maxBytes each (SPEC_FULL.md §4.6 step 10).
func (m *Manager) ListGeneratedFiles(desc *domain.SandboxDescriptor, sourceFilename string, maxCount int, maxBytes int64) ([]string, error) {
	entries, err := os.ReadDir(desc.DataDir)
	if err != nil {
		return nil, fmt.Errorf("sandbox: list generated files: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || e.Name() == sourceFilename {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.Size() > maxBytes {
			continue
		}
		out = append(out, e.Name())
		if len(out) >= maxCount {
			break
		}
	}
	return out, nil
}

// RunOneShotResult is the outcome of a one-shot command execution.
type RunOneShotResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// RunOneShot builds the isolation-wrapper command for a non-REPL
// execution, runs it with a timeout plus five-second grace period, and
// sanitizes its output per SPEC_FULL.md §4.1.
func (m *Manager) RunOneShot(ctx context.Context, desc *domain.SandboxDescriptor, userCommand string, stdin string, timeout time.Duration) (RunOneShotResult, error) {
	lang, ok := langregistry.Get(desc.Language)
	if !ok {
		return RunOneShotResult{}, apperr.New(apperr.TypeValidation, fmt.Sprintf("unsupported language %q", desc.Language))
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout+5*time.Second)
	defer cancel()

	cmd := isolation.BuildCommand(runCtx, m.runnerPath, isolation.CommandSpec{
		DataDir:       desc.DataDir,
		SandboxesRoot: m.baseDir,
		Language:      lang,
		Argv:          []string{"/bin/sh", "-c", userCommand},
	})

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	if lang.UsesStdin && stdin != "" {
		cmd.Stdin = bytes.NewReader([]byte(stdin))
	}

	runErr := cmd.Run()

	if runCtx.Err() != nil {
		if cmd.Process != nil {
			killCmdProcessGroup(cmd.Process.Pid)
		}
		return RunOneShotResult{
			ExitCode: 124,
			Stdout:   SanitizeOutput(stdoutBuf.String(), m.maxOutputBytes),
			Stderr:   "Execution timed out",
		}, nil
	}

	exitCode := 0
	if runErr != nil {
		exitCode = exitCodeFromError(runErr)
	}

	return RunOneShotResult{
		ExitCode: exitCode,
		Stdout:   SanitizeOutput(stdoutBuf.String(), m.maxOutputBytes),
		Stderr:   SanitizeOutput(stderrBuf.String(), m.maxOutputBytes),
	}, nil
}

func exitCodeFromError(err error) int {
	type exitCoder interface{ ExitCode() int }
	if ec, ok := err.(exitCoder); ok {
		return ec.ExitCode()
	}
	return 1
}

// killCmdProcessGroup sends SIGKILL to the command's process group,
// matching "kill the process group on expiry" in SPEC_FULL.md §4.1 — the
// isolation wrapper sets Setpgid so this reaches the runner and any
// descendants.
func killCmdProcessGroup(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}
