// Package allowlist matches catalog names against configured exact names and
// glob patterns such as "data-*" or "plugin/**".
package allowlist

import (
	"strings"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"
)

// List is a compiled allowlist. An empty list allows everything.
type List struct {
	exact    map[string]bool
	patterns []glob.Glob
	raw      []string
}

// New compiles entries. Entries containing glob metacharacters become
// patterns with '/' as the separator; everything else matches exactly.
func New(entries []string) (*List, error) {
	l := &List{exact: make(map[string]bool)}

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		l.raw = append(l.raw, entry)

		if !strings.ContainsAny(entry, "*?[{") {
			l.exact[entry] = true
			continue
		}

		g, err := glob.Compile(entry, '/')
		if err != nil {
			return nil, errors.Wrapf(err, "invalid allowlist pattern %q", entry)
		}
		l.patterns = append(l.patterns, g)
	}

	return l, nil
}

// Empty reports whether the list has no entries.
func (l *List) Empty() bool {
	return l == nil || len(l.raw) == 0
}

// Allows reports whether name is permitted.
func (l *List) Allows(name string) bool {
	if l.Empty() {
		return true
	}
	if l.exact[name] {
		return true
	}
	for _, p := range l.patterns {
		if p.Match(name) {
			return true
		}
	}
	return false
}

// Entries returns the configured entries in order.
func (l *List) Entries() []string {
	if l == nil {
		return nil
	}
	return append([]string(nil), l.raw...)
}
