//go:build linux

package replexec

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/usnavy13/codebox/internal/domain"
)

// fakeREPLScript emulates just enough of the Python REPL server's framing
// to exercise Process's read/write/timeout paths, without requiring a
// namespaced sandbox: it first emits the ready frame, then echoes a fixed
// response for every request frame it receives.
const fakeREPLScript = `
import sys
DELIM = b"\n---END---\n"
sys.stdout.buffer.write(b'{"status":"ready","preloaded_modules":[]}' + DELIM)
sys.stdout.flush()
buf = b""
while True:
    chunk = sys.stdin.buffer.read(1)
    if not chunk:
        break
    buf += chunk
    if DELIM in buf:
        sys.stdout.buffer.write(b'{"exit_code":0,"stdout":"health_check_ok\\n","stderr":""}' + DELIM)
        sys.stdout.flush()
        buf = b""
`

func newFakeProcess(t *testing.T) *Process {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available to drive the fake REPL fixture")
	}

	cmd := exec.Command("python3", "-c", fakeREPLScript)
	desc := &domain.SandboxDescriptor{ID: "fake", Language: "py"}
	p, err := startFromCmd(cmd, desc)
	if err != nil {
		t.Fatalf("startFromCmd: %v", err)
	}
	t.Cleanup(func() {
		_ = p.Kill()
		_ = p.Wait()
	})
	return p
}

func TestWaitForReadyThenHealthCheck(t *testing.T) {
	p := newFakeProcess(t)

	ok, err := p.WaitForReady(3 * time.Second)
	if err != nil {
		t.Fatalf("WaitForReady: %v", err)
	}
	if !ok {
		t.Fatalf("expected ready frame to be observed")
	}
	if !p.Ready() {
		t.Fatalf("expected Ready() to report true after WaitForReady")
	}

	if !p.CheckHealth(context.Background()) {
		t.Fatalf("expected health check to pass against fake REPL")
	}
}

func TestExecuteReturnsParsedResponse(t *testing.T) {
	p := newFakeProcess(t)
	if _, err := p.WaitForReady(3 * time.Second); err != nil {
		t.Fatalf("WaitForReady: %v", err)
	}

	res, err := p.Execute(context.Background(), "print('hi')", 2*time.Second, "/mnt/data", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", res.ExitCode)
	}
}

func TestRoundTripOnDeadProcessReturnsSandboxGone(t *testing.T) {
	p := newFakeProcess(t)
	if _, err := p.WaitForReady(3 * time.Second); err != nil {
		t.Fatalf("WaitForReady: %v", err)
	}
	if err := p.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	_ = p.Wait()

	if _, err := p.Execute(context.Background(), "print(1)", time.Second, "/mnt/data", nil); err == nil {
		t.Fatalf("expected an error once the repl process has exited")
	}
}
