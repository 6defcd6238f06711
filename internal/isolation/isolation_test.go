//go:build linux

package isolation

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/usnavy13/codebox/internal/langregistry"
)

func TestBuildCommandSetsNamespacesNotCredential(t *testing.T) {
	py := langregistry.MustGet("py")
	cmd := BuildCommand(context.Background(), "/usr/local/bin/codebox-runner", CommandSpec{
		DataDir:       "/var/lib/codebox/sandboxes/abc/data",
		SandboxesRoot: "/var/lib/codebox/sandboxes",
		Language:      py,
		Argv:          []string{"/bin/sh", "-c", "python3 -"},
	})

	// Credential must NOT be set here: the runner binary itself drops to
	// the language UID/GID after its privileged mount setup, not the
	// exec.Cmd that launches it (see BuildCommand's doc comment).
	if cmd.SysProcAttr.Credential != nil {
		t.Fatalf("expected no Credential on the runner's exec.Cmd, got %+v", cmd.SysProcAttr.Credential)
	}
	if cmd.SysProcAttr.Cloneflags == 0 {
		t.Fatalf("expected non-zero clone flags")
	}
	if !containsArg(cmd.Args, "--uid") || !containsArg(cmd.Args, strconv.Itoa(py.UID)) {
		t.Fatalf("expected uid %d passed via argv, got %v", py.UID, cmd.Args)
	}
}

func TestBuildRunnerArgsKeepsProcForExceptions(t *testing.T) {
	for _, code := range []string{"java", "rs", "d"} {
		args := buildRunnerArgs(CommandSpec{Language: langregistry.MustGet(code), Argv: []string{"x"}})
		if !containsArg(args, "--keep-proc") {
			t.Errorf("%s: expected --keep-proc", code)
		}
	}
	args := buildRunnerArgs(CommandSpec{Language: langregistry.MustGet("py"), Argv: []string{"x"}})
	if containsArg(args, "--keep-proc") {
		t.Errorf("py: did not expect --keep-proc")
	}
}

func TestBuildEnvNeverForwardsArbitraryValues(t *testing.T) {
	py := langregistry.MustGet("py")
	env := buildEnv(CommandSpec{Language: py})
	joined := strings.Join(env, " ")
	if !strings.Contains(joined, "HOME=/tmp") {
		t.Fatalf("expected HOME=/tmp in env, got %v", env)
	}
	if !strings.Contains(joined, "PYTHONUNBUFFERED=1") {
		t.Fatalf("expected language-specific env, got %v", env)
	}
}

func containsArg(args []string, target string) bool {
	for _, a := range args {
		if a == target {
			return true
		}
	}
	return false
}
