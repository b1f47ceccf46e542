package redact

import (
	"strings"
	"testing"
)

func TestRedactDisabled(t *testing.T) {
	r := New(false)
	in := "email a@b.com and phone +62 812 3456 7890"
	if got := r.Text(in); got != in {
		t.Fatalf("expected no redaction, got %q", got)
	}
}

func TestRedactEnabled(t *testing.T) {
	r := New(true)
	in := "email a@b.com and phone +62 812 3456 7890"
	got := r.Text(in)
	if got == in {
		t.Fatalf("expected redaction")
	}
	if want := "[REDACTED_EMAIL]"; !strings.Contains(got, want) {
		t.Fatalf("expected %q in output", want)
	}
	if want := "[REDACTED_PHONE]"; !strings.Contains(got, want) {
		t.Fatalf("expected %q in output", want)
	}
}

func TestRedactToggle(t *testing.T) {
	r := New(false)
	in := "reach me at a@b.com"
	if got := r.Text(in); got != in {
		t.Fatalf("disabled redactor changed text: %q", got)
	}
	r.SetEnabled(true)
	if got := r.Text(in); got == in {
		t.Fatal("enabled redactor left text unchanged")
	}
}
