package orchestrator

import (
	"reflect"
	"testing"

	"github.com/usnavy13/codebox/internal/domain"
)

func TestNormalizeArgs(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want []string
	}{
		{"nil", nil, nil},
		{"empty string", "", nil},
		{"whitespace string", "   ", nil},
		{"single string", "hello", []string{"hello"}},
		{"string slice", []string{"a", "", " ", "b"}, []string{"a", "b"}},
		{"any slice mixed types", []any{"a", 1, nil, "  ", 2.5}, []string{"a", "1", "2.5"}},
		{"int", 42, []string{"42"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := normalizeArgs(tc.in)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("normalizeArgs(%#v) = %#v, want %#v", tc.in, got, tc.want)
			}
		})
	}
}

func TestShellQuoteJoin(t *testing.T) {
	got := shellQuoteJoin([]string{"a b", "it's"})
	want := `'a b' 'it'\''s'`
	if got != want {
		t.Fatalf("shellQuoteJoin() = %q, want %q", got, want)
	}
}

func TestStep7ExtractOutputsDerivesStatusAndNewline(t *testing.T) {
	o := &Orchestrator{}

	ec := &execContext{exitCode: 0, stdout: "hi"}
	o.step7ExtractOutputs(ec)
	if ec.status != domain.ExecutionCompleted {
		t.Fatalf("expected completed status, got %s", ec.status)
	}
	if ec.stdout != "hi\n" {
		t.Fatalf("expected trailing newline appended, got %q", ec.stdout)
	}

	ec2 := &execContext{exitCode: 1, stderr: ""}
	o.step7ExtractOutputs(ec2)
	if ec2.status != domain.ExecutionFailed {
		t.Fatalf("expected failed status, got %s", ec2.status)
	}
	if ec2.stderr == "" {
		t.Fatalf("expected synthesized stderr message for silent failure")
	}

	ec3 := &execContext{exitCode: 124}
	o.step7ExtractOutputs(ec3)
	if ec3.status != domain.ExecutionTimeout {
		t.Fatalf("expected timeout status, got %s", ec3.status)
	}
}

func TestStep1ValidateRejectsUnsupportedLanguageAndEmptyCode(t *testing.T) {
	o := &Orchestrator{}

	ec := &execContext{request: Request{Lang: "not-a-language", Code: "print(1)"}}
	if err := o.step1Validate(ec); err == nil {
		t.Fatalf("expected error for unsupported language")
	}

	ec2 := &execContext{request: Request{Lang: "py", Code: "   "}}
	if err := o.step1Validate(ec2); err == nil {
		t.Fatalf("expected error for empty code")
	}

	ec3 := &execContext{request: Request{Lang: "py", Code: "print(1)"}}
	if err := o.step1Validate(ec3); err != nil {
		t.Fatalf("expected valid request to pass, got %v", err)
	}
	if ec3.lang.Code != "py" {
		t.Fatalf("expected lang to be resolved to py config, got %+v", ec3.lang)
	}
}
