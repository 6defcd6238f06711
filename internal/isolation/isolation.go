//go:build linux

// Package isolation builds the per-execution mount/PID/UTS/IPC/network
// namespace wrapper described in SPEC_FULL.md §4.2. This is the one
// primitive in the core built directly on the standard library
// (os/exec + syscall) rather than a third-party library: no package in the
// example pack wraps nsjail-equivalent namespace sandboxing (see
// DESIGN.md's internal/isolation entry).
package isolation

import (
	"context"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/usnavy13/codebox/internal/langregistry"
)

// CommandSpec describes one command to run inside a freshly isolated
// sandbox process.
type CommandSpec struct {
	// DataDir is bind-mounted onto /mnt/data inside the child's mount
	// namespace.
	DataDir string
	// SandboxesRoot is the host directory DataDir lives under (the parent
	// of every sandbox's own directory). The runner masks it with an empty
	// tmpfs after the bind mount above so a sandboxed execution can never
	// list or read sibling sessions' data.
	SandboxesRoot string
	// Language selects the UID/GID and environment whitelist.
	Language langregistry.Config
	// Argv is the command and arguments to exec after the namespace and
	// bind mounts are set up, conventionally {"/bin/sh", "-c", userCmd}.
	Argv []string
	// EnableNetworking keeps CLONE_NEWNET unset when true; sandbox network
	// is off by default per SPEC_FULL.md §4.2/§1.
	EnableNetworking bool
	// ExtraEnv is merged over the language's base whitelist, used for
	// per-execution values like working_dir hints; it can never smuggle
	// in a variable the whitelist doesn't already define a slot for.
	ExtraEnv map[string]string
}

// Hostname is the fixed hostname set inside every sandbox's UTS namespace.
const Hostname = "sandbox"

// WorkDir is the fixed in-sandbox path the data directory is bound to.
const WorkDir = "/mnt/data"

// BuildCommand constructs the *exec.Cmd that, once started, runs spec.Argv
// isolated per SPEC_FULL.md §4.2: new mount/PID/UTS/IPC namespaces (and
// network unless EnableNetworking), the language's UID/GID, cwd /mnt/data,
// and an environment built strictly from the language whitelist.
//
// The process this *exec.Cmd* starts is not spec.Argv itself but
// cmd/codebox-runner — a small privileged first process for the new
// namespace set. It performs the bind mount, the tmpfs overlays, the
// /proc mask (skipped for languages with NeedsProc) and the capability
// drop, then setuid/setgids itself down to the language's UID/GID and
// execve's spec.Argv. That ordering is why Credential is deliberately
// *not* set here: setting it on this exec.Cmd would drop privileges
// before the runner's mount() calls ever ran, since SysProcAttr.Credential
// takes effect at clone()/exec() time, before the runner's own main even
// starts. The UID/GID travel to the runner as plain argv instead, and it
// drops to them itself once its privileged setup is done.
func BuildCommand(ctx context.Context, runnerPath string, spec CommandSpec) *exec.Cmd {
	args := buildRunnerArgs(spec)
	cmd := exec.CommandContext(ctx, runnerPath, args...)
	cmd.Env = buildEnv(spec)
	cmd.Dir = "" // the runner itself chdirs to WorkDir after the bind mount

	cloneFlags := uintptr(syscall.CLONE_NEWNS | syscall.CLONE_NEWPID | syscall.CLONE_NEWUTS | syscall.CLONE_NEWIPC)
	if !spec.EnableNetworking {
		cloneFlags |= syscall.CLONE_NEWNET
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: cloneFlags,
		// A dedicated process group lets the sandbox manager kill the
		// whole tree (runner + user program) on timeout via a single
		// signal to -pgid, matching "kill the process group on expiry"
		// in SPEC_FULL.md §4.1.
		Setpgid: true,
	}

	return cmd
}

// buildRunnerArgs is the argv passed to the sandbox-runner binary: the
// data directory, the sandboxes root to mask, the target UID/GID, the
// proc-mask decision, and finally the user's own argv after a "--"
// separator. The runner performs the bind mount / tmpfs masks / proc mask
// / capability drop / setuid, in that order, before exec'ing the user
// command. Keeping this logic in a small companion binary (rather than Go
// code running post-Cloneflags-fork in this process) matches how nsjail
// itself is invoked as a privileged wrapper binary in the Python original.
func buildRunnerArgs(spec CommandSpec) []string {
	args := []string{
		"--data-dir", spec.DataDir,
		"--sandboxes-root", spec.SandboxesRoot,
		"--hostname", Hostname,
		"--workdir", WorkDir,
		"--uid", strconv.Itoa(spec.Language.UID),
		"--gid", strconv.Itoa(spec.Language.UID),
	}
	if spec.Language.NeedsProc {
		args = append(args, "--keep-proc")
	}
	args = append(args, "--")
	args = append(args, spec.Argv...)
	return args
}

// buildEnv constructs the child's environment strictly from the language's
// whitelist plus ExtraEnv overrides — never by filtering os.Environ(), per
// SPEC_FULL.md §4.2's "unknown values must never be forwarded".
func buildEnv(spec CommandSpec) []string {
	merged := make(map[string]string, len(spec.Language.Environment)+len(spec.ExtraEnv)+1)
	merged["PATH"] = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
	for k, v := range spec.Language.Environment {
		merged[k] = v
	}
	for k, v := range spec.ExtraEnv {
		if _, ok := merged[k]; ok {
			merged[k] = v
		}
	}

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}
