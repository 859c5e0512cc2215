// Package scan discovers the headers and sources under the configured roots.
package scan

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar"
	"github.com/spf13/afero"
)

// Options selects which files are picked up.
type Options struct {
	HeaderExts []string
	SourceExts []string
	// Exclude holds doublestar patterns matched against paths relative to
	// the scanned root.
	Exclude []string
}

// DefaultOptions mirrors the extensions the tool has always recognized.
func DefaultOptions() Options {
	return Options{
		HeaderExts: []string{".h"},
		SourceExts: []string{".S", ".c", ".cpp"},
	}
}

// Result lists discovered files as absolute, sorted paths.
type Result struct {
	Roots   []string
	Headers []string
	Sources []string
}

// Walk scans every root recursively. Each root must exist.
func Walk(fs afero.Fs, roots []string, opts Options) (*Result, error) {
	headerExts := setOf(opts.HeaderExts)
	sourceExts := setOf(opts.SourceExts)
	res := &Result{}
	seen := make(map[string]bool)

	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolve path %s: %w", root, err)
		}
		if _, err := fs.Stat(abs); err != nil {
			return nil, fmt.Errorf("incorrect source path %s: %w", root, err)
		}
		res.Roots = append(res.Roots, abs)

		err = afero.Walk(fs, abs, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			rel, relErr := filepath.Rel(abs, path)
			if relErr != nil {
				rel = path
			}
			skip, err := excluded(opts.Exclude, filepath.ToSlash(rel))
			if err != nil {
				return err
			}
			if skip || seen[path] {
				return nil
			}
			seen[path] = true

			ext := filepath.Ext(path)
			switch {
			case headerExts[ext]:
				res.Headers = append(res.Headers, path)
			case sourceExts[ext]:
				res.Sources = append(res.Sources, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", abs, err)
		}
	}

	sort.Strings(res.Headers)
	sort.Strings(res.Sources)
	return res, nil
}

func excluded(patterns []string, rel string) (bool, error) {
	for _, p := range patterns {
		ok, err := doublestar.PathMatch(p, rel)
		if err != nil {
			return false, fmt.Errorf("exclude pattern %q: %w", p, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func setOf(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}
