package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

// rule replaces matches of re. When keepPrefix is set the first capture group
// (a field name or scheme) survives and only the value is masked.
type rule struct {
	re         *regexp.Regexp
	keepPrefix bool
}

// Redactor masks provider keys and credential fields before log lines are written
type Redactor struct {
	rules []rule
}

// NewRedactor covers the credentials weave handles: provider API keys from AI
// profiles, bearer headers of SDK requests and credential-looking fields.
func NewRedactor() *Redactor {
	return &Redactor{
		rules: []rule{
			{re: regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{20,}`)},
			{re: regexp.MustCompile(`sk-(?:proj-)?[A-Za-z0-9_-]{20,}`)},
			{re: regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
			{re: regexp.MustCompile(`(Bearer\s+)[A-Za-z0-9._~+/=-]+`), keepPrefix: true},
			{
				re:         regexp.MustCompile(`((?i:"?(?:api_key|apikey|password|pwd|secret|token)"?)\s*[:=]\s*"?)[^\s",}]+`),
				keepPrefix: true,
			},
		},
	}
}

// AddPattern masks every match of pattern in full
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, rule{re: re})
	return nil
}

// Redact returns s with every credential masked
func (r *Redactor) Redact(s string) string {
	for _, rl := range r.rules {
		if rl.keepPrefix {
			s = rl.re.ReplaceAllString(s, "${1}"+redacted)
			continue
		}
		s = rl.re.ReplaceAllLiteralString(s, redacted)
	}
	return s
}

// Wrap returns a writer that redacts before writing to w
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success; a redacted line is usually shorter and
// io.MultiWriter would otherwise flag it as a short write.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(w.writer, w.redactor.Redact(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
