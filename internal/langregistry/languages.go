// Package langregistry holds the fixed table of supported languages and
// the per-language command templates, UIDs and environment whitelists the
// isolation wrapper and sandbox manager key off of.
package langregistry

import (
	"fmt"
	"strings"
)

// Config describes one supported language.
type Config struct {
	Code              string // short code: "py", "js", ...
	Name              string // display name
	FileExtension     string
	ExecutionCommand  string // template; {file} and {basename} substituted
	UsesStdin         bool
	TimeoutMultiplier float64
	UID               int
	Environment       map[string]string
	// NeedsProc marks languages whose toolchain resolves shared libraries
	// via /proc/self/exe and must not have /proc masked by the isolation
	// wrapper (see SPEC_FULL.md §4.2 and the Open Question decision in
	// DESIGN.md for why "d" is included alongside java/rs).
	NeedsProc bool
}

// SourceFilename returns the code filename for this language, e.g.
// "code.py" or the Java-special "Code.java".
func (c Config) SourceFilename() string {
	if c.Code == "java" {
		return "Code.java"
	}
	return "code." + c.FileExtension
}

// RenderCommand substitutes {file} and {basename} into ExecutionCommand.
func (c Config) RenderCommand(file string) string {
	base := strings.TrimSuffix(file, "."+c.FileExtension)
	r := strings.NewReplacer("{file}", file, "{basename}", base)
	return r.Replace(c.ExecutionCommand)
}

// baseEnv is prepended to every language's whitelist.
func baseEnv() map[string]string {
	return map[string]string{
		"HOME":   "/tmp",
		"TMPDIR": "/tmp",
	}
}

func merged(extra map[string]string) map[string]string {
	out := baseEnv()
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Languages is the fixed mapping from language code to Config, grounded on
// original_source/src/executor/languages.py's LANGUAGES dict.
var Languages = map[string]Config{
	"py": {
		Code: "py", Name: "Python", FileExtension: "py",
		ExecutionCommand: "python3 -", UsesStdin: true, TimeoutMultiplier: 1.0,
		UID: 1001,
		Environment: merged(map[string]string{
			"PYTHONUNBUFFERED":       "1",
			"PYTHONDONTWRITEBYTECODE": "1",
			"PYTHONPATH":             "/mnt/data",
			"MPLBACKEND":             "Agg",
			"MPLCONFIGDIR":           "/tmp/mplconfig",
			"XDG_CACHE_HOME":         "/tmp/cache",
		}),
	},
	"js": {
		Code: "js", Name: "JavaScript", FileExtension: "js",
		ExecutionCommand: "node", UsesStdin: true, TimeoutMultiplier: 1.0,
		UID:         1002,
		Environment: merged(map[string]string{"NODE_ENV": "sandbox", "NODE_PATH": "/mnt/data"}),
	},
	"ts": {
		Code: "ts", Name: "TypeScript", FileExtension: "ts",
		ExecutionCommand: "tsc {file} --outDir /tmp --module commonjs --target ES2019 && node /tmp/{basename}.js",
		UsesStdin:         false, TimeoutMultiplier: 1.2,
		UID:         1003,
		Environment: merged(map[string]string{"NODE_PATH": "/mnt/data"}),
	},
	"go": {
		Code: "go", Name: "Go", FileExtension: "go",
		ExecutionCommand: "go build -o /tmp/code {file} && /tmp/code",
		UsesStdin:         false, TimeoutMultiplier: 1.5,
		UID: 1004,
		Environment: merged(map[string]string{
			"GO111MODULE": "on",
			"GOROOT":      "/usr/local/go",
			"GOCACHE":     "/tmp/go-build",
			"GOPATH":      "/tmp/go",
		}),
	},
	"java": {
		Code: "java", Name: "Java", FileExtension: "java",
		ExecutionCommand: "javac -d /tmp {file} && java -cp /tmp:/opt/java/lib/* Code",
		UsesStdin:         false, TimeoutMultiplier: 2.0,
		UID: 1005, NeedsProc: true,
		Environment: merged(map[string]string{
			"CLASSPATH": "/mnt/data:/opt/java/lib/*",
			"JAVA_OPTS": "-Xmx256m",
		}),
	},
	"c": {
		Code: "c", Name: "C", FileExtension: "c",
		ExecutionCommand: "gcc -o /tmp/code {file} && /tmp/code",
		UsesStdin:         false, TimeoutMultiplier: 1.5,
		UID:         1006,
		Environment: merged(nil),
	},
	"cpp": {
		Code: "cpp", Name: "C++", FileExtension: "cpp",
		ExecutionCommand: "g++ -o /tmp/code {file} && /tmp/code",
		UsesStdin:         false, TimeoutMultiplier: 1.5,
		UID:         1007,
		Environment: merged(nil),
	},
	"php": {
		Code: "php", Name: "PHP", FileExtension: "php",
		ExecutionCommand: "php", UsesStdin: true, TimeoutMultiplier: 1.0,
		UID: 1008,
		Environment: merged(map[string]string{
			"PHP_INI_SCAN_DIR": "/tmp",
			"COMPOSER_HOME":    "/tmp/composer",
		}),
	},
	"rs": {
		Code: "rs", Name: "Rust", FileExtension: "rs",
		ExecutionCommand: "rustc {file} -o /tmp/code && /tmp/code",
		UsesStdin:         false, TimeoutMultiplier: 3.0,
		UID: 1009, NeedsProc: true,
		Environment: merged(map[string]string{
			"CARGO_HOME":  "/tmp/cargo",
			"RUSTUP_HOME": "/tmp/rustup",
		}),
	},
	"r": {
		Code: "r", Name: "R", FileExtension: "r",
		ExecutionCommand: "Rscript /dev/stdin", UsesStdin: true, TimeoutMultiplier: 1.5,
		UID:         1010,
		Environment: merged(map[string]string{"R_LIBS_USER": "/tmp/Rlibs"}),
	},
	"f90": {
		Code: "f90", Name: "Fortran", FileExtension: "f90",
		ExecutionCommand: "gfortran -o /tmp/code {file} && /tmp/code",
		UsesStdin:         false, TimeoutMultiplier: 2.0,
		UID:         1011,
		Environment: merged(map[string]string{"FC": "gfortran"}),
	},
	"d": {
		Code: "d", Name: "D", FileExtension: "d",
		ExecutionCommand: "ldc2 {file} -of=/tmp/code && /tmp/code",
		UsesStdin:         false, TimeoutMultiplier: 2.0,
		UID: 1012, NeedsProc: true,
		Environment: merged(nil),
	},
}

// Get returns the Config for a language code (case-insensitive), and
// whether it is supported.
func Get(code string) (Config, bool) {
	c, ok := Languages[strings.ToLower(strings.TrimSpace(code))]
	return c, ok
}

// MustGet is Get but panics on an unsupported code; only safe once the
// caller has already validated the code via Get/IsSupported.
func MustGet(code string) Config {
	c, ok := Get(code)
	if !ok {
		panic(fmt.Sprintf("langregistry: unsupported language %q", code))
	}
	return c
}

// IsSupported reports whether code names one of the twelve languages.
func IsSupported(code string) bool {
	_, ok := Get(code)
	return ok
}

// Codes returns the supported language codes, order not significant.
func Codes() []string {
	out := make([]string, 0, len(Languages))
	for k := range Languages {
		out = append(out, k)
	}
	return out
}
