// Package output writes the results of a resolution: the build list, the
// directory copy, the SDK interface list and generated files.
package output

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/efebarandurmaz/fxdj/internal/ir"
)

// Mode selects how the build set is emitted.
type Mode string

const (
	// ModeList writes newline separated absolute source paths.
	ModeList Mode = "list"
	// ModeDirectory copies sources and interface headers into a directory.
	ModeDirectory Mode = "directory"
)

// DetectMode returns ModeDirectory when path is an existing directory.
func DetectMode(fs afero.Fs, path string) Mode {
	if ok, err := afero.IsDir(fs, path); err == nil && ok {
		return ModeDirectory
	}
	return ModeList
}

// WriteFileAtomic writes data to a temp file next to path and renames it
// into place, so readers never see a partial file.
func WriteFileAtomic(fs afero.Fs, path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	tmp, err := afero.TempFile(fs, dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = fs.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = fs.Chmod(tmpPath, perm); err != nil {
		return err
	}
	if err = fs.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// WriteList writes one path per line.
func WriteList(fs afero.Fs, path string, files []string) error {
	return WriteFileAtomic(fs, path, lines(files), 0o644)
}

// WriteSDK writes the interface name of each key, one per line.
func WriteSDK(fs afero.Fs, path string, keys []ir.BindingKey) error {
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.Interface
	}
	return WriteFileAtomic(fs, path, lines(names), 0o644)
}

func lines(items []string) []byte {
	var buf bytes.Buffer
	for _, s := range items {
		buf.WriteString(s)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Copy is one file placed into the output directory.
type Copy struct {
	Src  string `json:"src"`
	Name string `json:"name"`
}

// Plan decides the destination names for a directory copy. Sources keep
// their basename unless several share it, in which case each gets a
// 1-based numeric suffix before the extension. Headers are named after
// their interface and follow the same rule.
func Plan(sources []string, headers map[ir.BindingKey]string) []Copy {
	var plan []Copy
	plan = append(plan, numbered(groupBy(sources, filepath.Base))...)

	keys := make([]ir.BindingKey, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	ir.SortKeys(keys)
	byName := make(map[string][]string)
	var order []string
	for _, k := range keys {
		name := k.Interface + ".h"
		if _, ok := byName[name]; !ok {
			order = append(order, name)
		}
		byName[name] = append(byName[name], headers[k])
	}
	for _, name := range order {
		plan = append(plan, rename(name, byName[name])...)
	}
	return plan
}

type group struct {
	name  string
	paths []string
}

func groupBy(paths []string, nameOf func(string) string) []group {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	idx := make(map[string]int)
	var groups []group
	for _, p := range sorted {
		n := nameOf(p)
		i, ok := idx[n]
		if !ok {
			i = len(groups)
			idx[n] = i
			groups = append(groups, group{name: n})
		}
		if len(groups[i].paths) == 0 || groups[i].paths[len(groups[i].paths)-1] != p {
			groups[i].paths = append(groups[i].paths, p)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].name < groups[j].name })
	return groups
}

func numbered(groups []group) []Copy {
	var out []Copy
	for _, g := range groups {
		out = append(out, rename(g.name, g.paths)...)
	}
	return out
}

func rename(name string, paths []string) []Copy {
	if len(paths) == 1 {
		return []Copy{{Src: paths[0], Name: name}}
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	out := make([]Copy, len(paths))
	for i, p := range paths {
		out[i] = Copy{Src: p, Name: stem + strconv.Itoa(i+1) + ext}
	}
	return out
}

// CopyAll copies every planned file into dir.
func CopyAll(fs afero.Fs, dir string, plan []Copy) error {
	for _, c := range plan {
		data, err := afero.ReadFile(fs, c.Src)
		if err != nil {
			return fmt.Errorf("read %s: %w", c.Src, err)
		}
		if err := WriteFileAtomic(fs, filepath.Join(dir, c.Name), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}
