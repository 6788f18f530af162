package logreader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"
)

// PatternMatch is the result of expanding one input pattern
type PatternMatch struct {
	Pattern string
	Files   []string // Absolute paths of regular files, sorted, not listed by an earlier pattern
	Matched int      // Regular files matched before deduplication
}

// ExpandPatterns expands file paths and glob patterns into absolute regular-file paths.
// Each pattern keeps its own match list so callers can report patterns that matched nothing.
// Files matched by several patterns are listed once, under the first pattern,
// but still count towards Matched of every pattern.
func ExpandPatterns(patterns []string) ([]PatternMatch, error) {
	seen := make(map[string]bool)
	result := make([]PatternMatch, 0, len(patterns))

	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
		}

		pm := PatternMatch{Pattern: pattern}
		for _, match := range matches {
			abs, err := filepath.Abs(match)
			if err != nil {
				log.Warn().Err(err).Str("path", match).Msg("Skipping path that cannot be made absolute")
				continue
			}

			info, err := os.Stat(abs)
			if err != nil {
				// Dangling symlinks and races with rotation
				log.Warn().Err(err).Str("path", abs).Msg("Skipping inaccessible path")
				continue
			}
			if !info.Mode().IsRegular() {
				continue
			}

			pm.Matched++
			if seen[abs] {
				continue
			}
			seen[abs] = true
			pm.Files = append(pm.Files, abs)
		}

		sort.Strings(pm.Files)
		result = append(result, pm)
	}

	return result, nil
}

// Files flattens pattern matches preserving pattern order
func Files(matches []PatternMatch) []string {
	var files []string
	for _, m := range matches {
		files = append(files, m.Files...)
	}
	return files
}

// EmptyPatterns returns the patterns that matched no file
func EmptyPatterns(matches []PatternMatch) []string {
	var empty []string
	for _, m := range matches {
		if m.Matched == 0 {
			empty = append(empty, m.Pattern)
		}
	}
	return empty
}
