// Package redact strips PII from transcripts before they are surfaced to
// listeners or returned from a finished recording.
package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
)

var (
	emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	phoneRe = regexp.MustCompile(`\b\+?\d[\d\s\-]{7,}\d\b`)
)

// Redactor rewrites emails and phone numbers to placeholder tokens. The
// toggle is safe to flip while transcripts are flowing.
type Redactor struct {
	enabled atomic.Bool
}

func New(enabled bool) *Redactor {
	r := &Redactor{}
	r.enabled.Store(enabled)
	return r
}

// SetEnabled toggles PII redaction.
func (r *Redactor) SetEnabled(v bool) {
	r.enabled.Store(v)
}

// Enabled returns true when redaction is active.
func (r *Redactor) Enabled() bool {
	return r.enabled.Load()
}

// Text redacts emails and phone numbers when enabled.
func (r *Redactor) Text(in string) string {
	if !r.enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := emailRe.ReplaceAllString(in, "[REDACTED_EMAIL]")
	out = phoneRe.ReplaceAllString(out, "[REDACTED_PHONE]")
	return out
}
