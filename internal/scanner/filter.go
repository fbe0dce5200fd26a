// Package scanner implements the Scanner (spec §4.4, C4): a two-strategy
// local tree walker (parallel, falling back to sequential) that populates
// the Catalogue with LocalEntry records carrying a computed fast hash,
// reused from the Catalogue when a file's (size, modified, created)
// triple is unchanged.
//
// Grounded on the teacher's internal/sync/filter.go (gitignore-style
// pattern cascade) and scanner.go/observer_local.go (walk + Catalogue
// population), simplified to this spec's single `IgnorePatterns` list —
// the teacher's OneDrive-specific name-validation and multi-layer
// sync_paths/skip_dotfiles/max_file_size cascade has no analogue here.
package scanner

import (
	"path/filepath"

	ignore "github.com/sabhiram/go-gitignore"
)

// Filter evaluates a relative path against a job's ignore-pattern list.
// Patterns use gitignore syntax (`*`, `?`, `[…]`, `**/` deep-match
// prefixes, `#`-prefixed comment lines ignored) per spec §4.4.
type Filter struct {
	gi *ignore.GitIgnore
}

// NewFilter compiles a job's ignore patterns. A nil/empty pattern list
// yields a Filter that excludes nothing.
func NewFilter(patterns []string) *Filter {
	if len(patterns) == 0 {
		return &Filter{}
	}

	return &Filter{gi: ignore.CompileIgnoreLines(patterns...)}
}

// Excluded reports whether relPath (forward-slash, relative to the scan
// root, no leading slash) is excluded by the configured patterns.
func (f *Filter) Excluded(relPath string, isDir bool) bool {
	if f == nil || f.gi == nil {
		return false
	}

	matchPath := filepath.ToSlash(relPath)
	if isDir {
		matchPath += "/"
	}

	return f.gi.MatchesPath(matchPath)
}
