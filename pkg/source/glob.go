package source

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ExpandGlobs turns file paths, glob patterns and directories into a sorted,
// deduplicated list of batch files. A directory contributes the regular files
// directly inside it. Patterns that match nothing are kept as literal paths so
// opening them reports a useful error.
func ExpandGlobs(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var result []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}

	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
		}

		if len(matches) == 0 {
			add(pattern)
			continue
		}

		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil || !info.IsDir() {
				add(match)
				continue
			}
			entries, err := os.ReadDir(match)
			if err != nil {
				return nil, fmt.Errorf("reading directory %s: %w", match, err)
			}
			for _, e := range entries {
				if e.Type().IsRegular() {
					add(filepath.Join(match, e.Name()))
				}
			}
		}
	}

	sort.Strings(result)
	return result, nil
}
