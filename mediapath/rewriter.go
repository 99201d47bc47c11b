// Package mediapath turns catalog paths into streamable sources: regex
// rewriting, .strm indirection and local-path canonicalization.
package mediapath

import (
	"log/slog"
	"regexp"
	"sync"
)

// Rewriter applies a regex substitution to resolved paths before they are
// signed. The pattern compiles lazily on first use; a pattern that fails to
// compile is logged once and every path passes through unchanged — a bad
// rewrite rule must never fail playback.
type Rewriter struct {
	pattern     string
	replacement string

	once sync.Once
	re   *regexp.Regexp
}

// NewRewriter builds a rewriter. An empty pattern produces a no-op.
func NewRewriter(pattern, replacement string) *Rewriter {
	return &Rewriter{pattern: pattern, replacement: replacement}
}

// Rewrite returns the path with the substitution applied.
func (r *Rewriter) Rewrite(path string) string {
	if r.pattern == "" {
		return path
	}
	r.once.Do(func() {
		re, err := regexp.Compile(r.pattern)
		if err != nil {
			slog.Error("path rewrite pattern failed to compile, passing paths through",
				"pattern", r.pattern, "error", err)
			return
		}
		r.re = re
	})
	if r.re == nil || !r.re.MatchString(path) {
		return path
	}
	return r.re.ReplaceAllString(path, r.replacement)
}
