//go:build linux

// Command codebox-runner is the privileged first process inside the
// mount/PID/UTS/IPC/network namespace set internal/isolation.BuildCommand
// clones for every sandboxed execution. It performs the namespace-local
// setup that needs capabilities the user's code must never have — the
// bind mount, the tmpfs masks, the /proc mask, the capability drop — then
// permanently drops to the language's UID/GID and execve's the user's
// actual command, per SPEC_FULL.md §4.2.
//
// Grounded on original_source/src/services/sandbox/nsjail.py's
// NsjailConfig.build_args (itself invoking nsjail as exactly this kind of
// privileged wrapper binary around the user's command), translated from
// nsjail's CLI flags to the direct syscall.Mount/golang.org/x/sys/unix.Prctl
// calls nsjail performs internally — no Go nsjail-equivalent library exists
// anywhere in the retrieved pack (see DESIGN.md's internal/isolation entry).
package main

import (
	"flag"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// maskedHostPaths are overlaid with an empty, read-only tmpfs before the
// user command runs. The mount is local to this mount namespace, so the
// host's copy of each path is untouched; missing paths are skipped, since
// not every deployment has every one of them.
var maskedHostPaths = []string{
	"/root",
	"/home",
	"/etc/codebox",
}

// capLastCap bounds the capability-bounding-set drop loop. It is the
// highest capability number defined as of Linux 6.x
// (CAP_CHECKPOINT_RESTORE=40); numbers a kernel doesn't define just fail
// PR_CAPBSET_DROP with EINVAL, which this loop ignores.
const capLastCap = 40

func main() {
	var (
		dataDir       string
		sandboxesRoot string
		hostname      string
		workdir       string
		uid           int
		gid           int
		keepProc      bool
	)

	flag.StringVar(&dataDir, "data-dir", "", "host directory to bind-mount onto --workdir")
	flag.StringVar(&sandboxesRoot, "sandboxes-root", "", "host directory to mask with an empty tmpfs (parent of every sandbox's data dir)")
	flag.StringVar(&hostname, "hostname", "sandbox", "UTS hostname to set inside the sandbox")
	flag.StringVar(&workdir, "workdir", "/mnt/data", "in-sandbox mount point for --data-dir")
	flag.IntVar(&uid, "uid", -1, "UID to drop to before exec'ing the user command")
	flag.IntVar(&gid, "gid", -1, "GID to drop to before exec'ing the user command")
	flag.BoolVar(&keepProc, "keep-proc", false, "mount a fresh /proc instead of masking it (java/rs/d resolve /proc/self/exe)")
	flag.Parse()

	argv := flag.Args()
	if len(argv) == 0 {
		fatalf("no command to exec after --")
	}
	if dataDir == "" || uid < 0 || gid < 0 {
		fatalf("--data-dir, --uid and --gid are required")
	}

	if err := syscall.Sethostname([]byte(hostname)); err != nil {
		fatalf("sethostname: %v", err)
	}

	// Make every mount in this namespace private first, so none of the
	// following mounts propagate back out to the host or to sibling
	// sandboxes sharing the parent namespace.
	if err := syscall.Mount("", "/", "", syscall.MS_PRIVATE|syscall.MS_REC, ""); err != nil {
		fatalf("making mount namespace private: %v", err)
	}

	if err := os.MkdirAll(workdir, 0o777); err != nil {
		fatalf("creating workdir %s: %v", workdir, err)
	}
	if err := syscall.Mount(dataDir, workdir, "", syscall.MS_BIND, ""); err != nil {
		fatalf("bind-mounting %s onto %s: %v", dataDir, workdir, err)
	}

	if sandboxesRoot != "" {
		maskPath(sandboxesRoot)
	}
	for _, p := range maskedHostPaths {
		maskPath(p)
	}

	if keepProc {
		if err := syscall.Mount("proc", "/proc", "proc", 0, ""); err != nil {
			fatalf("mounting fresh /proc: %v", err)
		}
	} else {
		maskPath("/proc")
	}

	if err := syscall.Chdir(workdir); err != nil {
		fatalf("chdir %s: %v", workdir, err)
	}

	dropCapabilities()

	// Order matters: clear supplementary groups and set the GID before
	// the UID, since once the UID is no longer 0 these calls themselves
	// would be rejected.
	if err := syscall.Setgroups(nil); err != nil {
		fatalf("clearing supplementary groups: %v", err)
	}
	if err := syscall.Setresgid(gid, gid, gid); err != nil {
		fatalf("setresgid: %v", err)
	}
	if err := syscall.Setresuid(uid, uid, uid); err != nil {
		fatalf("setresuid: %v", err)
	}

	if err := syscall.Exec(argv[0], argv, os.Environ()); err != nil {
		fatalf("exec %s: %v", argv[0], err)
	}
}

// maskPath overlays path with an empty, read-only tmpfs if it exists.
func maskPath(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := syscall.Mount("tmpfs", path, "tmpfs", syscall.MS_RDONLY, "size=0"); err != nil {
		fmt.Fprintf(os.Stderr, "codebox-runner: warning: failed to mask %s: %v\n", path, err)
	}
}

// dropCapabilities clears every capability from the bounding set so none
// can be (re)gained later, even by a program with its own file
// capabilities. golang.org/x/sys/unix is the only place in the retrieved
// pack with a Prctl wrapper; the standard library's syscall package has no
// equivalent for PR_CAPBSET_DROP.
func dropCapabilities() {
	for c := 0; c <= capLastCap; c++ {
		_ = unix.Prctl(unix.PR_CAPBSET_DROP, uintptr(c), 0, 0, 0)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "codebox-runner: "+format+"\n", args...)
	os.Exit(1)
}
