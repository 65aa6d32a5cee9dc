// Package redact strips secret material out of human-readable text before it
// reaches any log sink. Every persisted log entry passes through a Redactor,
// so no entry ever carries a password or private-key literal.
package redact

import "strings"

// Placeholder replaces each secret occurrence.
const Placeholder = "[REDACTED]"

// Redactor replaces registered secret literals in text.
type Redactor struct {
	secrets []string
}

// New builds a Redactor over the given secrets. Empty strings are ignored so
// an unset optional credential cannot corrupt unrelated text.
func New(secrets ...string) *Redactor {
	r := &Redactor{}
	r.Add(secrets...)
	return r
}

// Add registers further secrets, e.g. credentials discovered mid-run from a
// remote wp-config.php.
func (r *Redactor) Add(secrets ...string) {
	for _, s := range secrets {
		if s != "" {
			r.secrets = append(r.secrets, s)
		}
	}
}

// Apply returns text with every registered secret replaced.
func (r *Redactor) Apply(text string) string {
	for _, s := range r.secrets {
		text = strings.ReplaceAll(text, s, Placeholder)
	}
	return text
}
