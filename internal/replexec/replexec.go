//go:build linux

// Package replexec owns a live REPL process resident inside a sandbox and
// speaks the replproto framing protocol to it over stdin/stdout pipes, per
// SPEC_FULL.md §4.3.
//
// Grounded on original_source/src/services/sandbox/repl_executor.py's
// SandboxREPLExecutor, generalized from its asyncio subprocess pipes to
// Go's os/exec pipes, and on the teacher's DockerStream read-loop shape
// (internal/driver/docker/docker.go) for the "read until delimiter, but
// give up after a deadline" pattern.
package replexec

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/usnavy13/codebox/internal/apperr"
	"github.com/usnavy13/codebox/internal/domain"
	"github.com/usnavy13/codebox/internal/isolation"
	"github.com/usnavy13/codebox/internal/langregistry"
	"github.com/usnavy13/codebox/internal/replproto"
)

// Process is a running REPL server inside a sandbox, the Go analogue of
// SandboxREPLProcess.
type Process struct {
	Descriptor *domain.SandboxDescriptor
	CreatedAt  time.Time

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *replproto.FrameReader

	mu    sync.Mutex // one in-flight request at a time, matching the REPL's single-threaded read loop
	ready bool
}

// Start launches the REPL server command inside an isolated sandbox and
// returns its handle without waiting for readiness; call WaitForReady next.
// sandboxesRoot is the host directory desc.DataDir lives under, masked by
// the isolation wrapper so the REPL can never see sibling sessions' data.
func Start(ctx context.Context, runnerPath, replServerPath, sandboxesRoot string, desc *domain.SandboxDescriptor) (*Process, error) {
	lang, ok := langregistry.Get(desc.Language)
	if !ok {
		return nil, apperr.New(apperr.TypeValidation, fmt.Sprintf("unsupported language %q", desc.Language))
	}

	cmd := isolation.BuildCommand(ctx, runnerPath, isolation.CommandSpec{
		DataDir:       desc.DataDir,
		SandboxesRoot: sandboxesRoot,
		Language:      lang,
		Argv:          []string{"python3", replServerPath},
	})

	return startFromCmd(cmd, desc)
}

// startFromCmd wires a Process around an already-configured, not-yet-started
// *exec.Cmd. Split out from Start so tests can exercise the framing and
// timeout logic against a plain (non-namespaced) command.
func startFromCmd(cmd *exec.Cmd, desc *domain.SandboxDescriptor) (*Process, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("replexec: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("replexec: stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, apperr.Wrap(apperr.TypeInternalServer, "failed to start repl process", err)
	}

	return &Process{
		Descriptor: desc,
		CreatedAt:  time.Now().UTC(),
		cmd:        cmd,
		stdin:      stdin,
		reader:     replproto.NewFrameReader(stdout),
	}, nil
}

// Ready reports whether WaitForReady has previously succeeded.
func (p *Process) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// Alive reports whether the underlying process has not yet exited.
func (p *Process) Alive() bool {
	return p.cmd.ProcessState == nil
}

// Kill sends SIGKILL to the REPL process itself (not to its process group).
func (p *Process) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// Wait blocks until the process exits, releasing its resources. Callers
// should run this in a goroutine after Kill to reap the child.
func (p *Process) Wait() error {
	return p.cmd.Wait()
}

// WaitForReady blocks until the REPL emits its initial ready frame, or the
// timeout elapses.
func (p *Process) WaitForReady(timeout time.Duration) (bool, error) {
	raw, err := p.readFrameWithTimeout(timeout)
	if err != nil {
		if err == errReplTimeout {
			return false, nil
		}
		return false, err
	}
	ready, err := replproto.DecodeReady(raw)
	if err != nil {
		return false, nil
	}
	if !ready.IsReady() {
		return false, nil
	}
	p.mu.Lock()
	p.ready = true
	p.mu.Unlock()
	return true, nil
}

// Result is the outcome of one code execution inside the REPL, extended
// with the optional captured namespace state.
type Result struct {
	ExitCode    int
	Stdout      string
	Stderr      string
	State       string // base64, empty if not captured
	StateErrors []string
}

// Execute runs code with no state persistence, mirroring
// SandboxREPLExecutor.execute. The REPL is given timeout+5s to answer.
func (p *Process) Execute(ctx context.Context, code string, timeout time.Duration, workingDir string, args []string) (Result, error) {
	return p.roundTrip(ctx, replproto.RequestFrame{
		Code:       code,
		Timeout:    int(timeout.Seconds()),
		WorkingDir: workingDir,
		Args:       args,
	}, timeout+5*time.Second)
}

// ExecuteWithState runs code with optional namespace-state restore/capture,
// mirroring SandboxREPLExecutor.execute_with_state. The REPL is given
// timeout+10s to answer, since namespace pickling can itself take time.
func (p *Process) ExecuteWithState(ctx context.Context, code string, timeout time.Duration, workingDir string, initialState string, captureState bool, args []string) (Result, error) {
	return p.roundTrip(ctx, replproto.RequestFrame{
		Code:         code,
		Timeout:      int(timeout.Seconds()),
		WorkingDir:   workingDir,
		InitialState: initialState,
		CaptureState: captureState,
		Args:         args,
	}, timeout+10*time.Second)
}

// CheckHealth sends a trivial print and verifies the REPL answers
// coherently within five seconds, mirroring SandboxREPLExecutor.check_health.
func (p *Process) CheckHealth(ctx context.Context) bool {
	res, err := p.Execute(ctx, "print('health_check_ok')", 5*time.Second, "/mnt/data", nil)
	if err != nil {
		return false
	}
	return res.ExitCode == 0 && containsSubstring(res.Stdout, "health_check_ok")
}

var errReplTimeout = fmt.Errorf("replexec: timed out waiting for repl response")

func (p *Process) roundTrip(ctx context.Context, req replproto.RequestFrame, deadline time.Duration) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.Alive() {
		return Result{}, apperr.Wrap(apperr.TypeResourceNotFound, "repl process has exited", apperr.ErrSandboxGone)
	}

	if err := replproto.WriteFrame(p.stdin, req); err != nil {
		return Result{}, fmt.Errorf("replexec: send request: %w", err)
	}

	raw, err := p.readFrameWithTimeout(deadline)
	if err != nil {
		if err == errReplTimeout {
			return Result{
				ExitCode: 124,
				Stderr:   fmt.Sprintf("Execution timed out after %d seconds", req.Timeout),
			}, nil
		}
		return Result{}, fmt.Errorf("replexec: receive response: %w", err)
	}

	resp, err := replproto.DecodeResponse(raw)
	if err != nil {
		return Result{ExitCode: 1, Stderr: "Invalid response from REPL: delimiter not found"}, nil
	}

	return Result{
		ExitCode:    resp.ExitCode,
		Stdout:      resp.Stdout,
		Stderr:      resp.Stderr,
		State:       resp.State,
		StateErrors: resp.StateErrors,
	}, nil
}

// readFrameWithTimeout reads one frame off the REPL's stdout, giving up
// after timeout. The underlying blocking read is not itself interruptible
// (bufio.Scanner has no cancellation hook), so on timeout the caller is
// expected to treat the sandbox as compromised and destroy it rather than
// reuse this Process — matching the Python original, whose asyncio task
// cancellation likewise abandons rather than recovers the read.
func (p *Process) readFrameWithTimeout(timeout time.Duration) ([]byte, error) {
	type result struct {
		raw []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		raw, err := p.reader.ReadFrame()
		ch <- result{raw, err}
	}()

	select {
	case r := <-ch:
		return r.raw, r.err
	case <-time.After(timeout):
		return nil, errReplTimeout
	}
}

func containsSubstring(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
