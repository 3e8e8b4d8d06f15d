package logger

import (
	"io"
	"regexp"
)

// Redactor removes sensitive data from log output
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a redactor with default patterns
func NewRedactor() *Redactor {
	patterns := []*regexp.Regexp{
		// OpenAI-style API keys
		regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),
		// Anthropic API keys
		regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`),
		// Bearer tokens
		regexp.MustCompile(`Bearer\s+[a-zA-Z0-9_.-]+`),
		// Generic secrets in key=value or "key":"value" form
		regexp.MustCompile(`(?i)(password|secret|token|api[_-]?key)["\s:=]+[a-zA-Z0-9_.-]{8,}`),
		// Customer phone numbers collected during checkout
		regexp.MustCompile(`(?i)("phone"\s*:\s*")\+?[0-9][0-9 ()-]{6,}[0-9](")`),
	}

	return &Redactor{patterns: patterns}
}

// Redact removes sensitive data from a string
func (r *Redactor) Redact(s string) string {
	for _, pattern := range r.patterns {
		s = pattern.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// Wrap wraps an io.Writer so everything written through it is redacted
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

func (rw *redactingWriter) Write(p []byte) (n int, err error) {
	redacted := rw.redactor.Redact(string(p))
	_, err = rw.writer.Write([]byte(redacted))
	// Report the original length so zerolog does not treat this as a short write.
	return len(p), err
}
