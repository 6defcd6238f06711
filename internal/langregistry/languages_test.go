package langregistry

import "testing"

func TestAllTwelveLanguagesPresent(t *testing.T) {
	want := []string{"py", "js", "ts", "go", "java", "c", "cpp", "php", "rs", "r", "f90", "d"}
	for _, code := range want {
		if !IsSupported(code) {
			t.Fatalf("expected %q to be supported", code)
		}
	}
	if len(Languages) != len(want) {
		t.Fatalf("expected exactly %d languages, got %d", len(want), len(Languages))
	}
}

func TestUnknownLanguageNotSupported(t *testing.T) {
	if IsSupported("cobol") {
		t.Fatalf("cobol should not be supported")
	}
	if _, ok := Get("COBOL"); ok {
		t.Fatalf("Get should be case-insensitive but still reject unknown codes")
	}
}

func TestGetIsCaseInsensitive(t *testing.T) {
	c, ok := Get("PY")
	if !ok || c.Code != "py" {
		t.Fatalf("expected case-insensitive lookup to find python, got %+v ok=%v", c, ok)
	}
}

func TestNeedsProcExceptions(t *testing.T) {
	for _, code := range []string{"java", "rs", "d"} {
		c := MustGet(code)
		if !c.NeedsProc {
			t.Errorf("%s: expected NeedsProc=true", code)
		}
	}
	for _, code := range []string{"py", "js", "go", "c"} {
		c := MustGet(code)
		if c.NeedsProc {
			t.Errorf("%s: expected NeedsProc=false", code)
		}
	}
}

func TestRenderCommandSubstitution(t *testing.T) {
	c := MustGet("ts")
	got := c.RenderCommand("code.ts")
	want := "tsc code.ts --outDir /tmp --module commonjs --target ES2019 && node /tmp/code.js"
	if got != want {
		t.Fatalf("RenderCommand mismatch:\ngot:  %s\nwant: %s", got, want)
	}
}

func TestSourceFilenameJavaSpecialCase(t *testing.T) {
	if got := MustGet("java").SourceFilename(); got != "Code.java" {
		t.Fatalf("expected Code.java, got %s", got)
	}
	if got := MustGet("py").SourceFilename(); got != "code.py" {
		t.Fatalf("expected code.py, got %s", got)
	}
}

func TestBaseEnvAlwaysPresent(t *testing.T) {
	for code, cfg := range Languages {
		if cfg.Environment["HOME"] != "/tmp" || cfg.Environment["TMPDIR"] != "/tmp" {
			t.Errorf("%s: missing base env HOME/TMPDIR", code)
		}
	}
}
