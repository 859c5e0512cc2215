// Package metadata extracts FX_METADATA annotations from C headers and
// sources. It works on raw text; no C parsing is attempted.
package metadata

import (
	"fmt"
	"regexp"

	"github.com/spf13/afero"

	"github.com/efebarandurmaz/fxdj/internal/ir"
)

// blockPattern matches a whole FX_METADATA(({ ... })) block and captures its body.
var blockPattern = regexp.MustCompile(`FX_METADATA\(\(\{([^}]*)\}\)\)`)

var (
	interfacePattern      = regexp.MustCompile(`\binterface:\s*\[\s*(\w+)\s*,\s*(\w+)\s*\]`)
	implementationPattern = regexp.MustCompile(`\bimplementation:\s*\[\s*(\w+)\s*,\s*(\w+)\s*\]`)
	ctorPattern           = regexp.MustCompile(`\bctor:\s*\[\s*(\w+)\s*,\s*(\w+)\s*\]`)
)

// Annotation is what one file declares. Fields are nil when absent.
type Annotation struct {
	Interface      *ir.BindingKey
	Implementation *ir.BindingKey
	Ctor           *ir.Ctor
}

// InvalidScopeError reports a ctor annotation with an unknown scope.
type InvalidScopeError struct {
	Path  string
	Ctor  string
	Scope string
}

func (e *InvalidScopeError) Error() string {
	return fmt.Sprintf("%s: ctor %s has invalid scope %q (want %s or %s)",
		e.Path, e.Ctor, e.Scope, ir.ScopeBootCPU, ir.ScopeEachCPU)
}

// Parse extracts the first interface, implementation and ctor annotation
// found in content. path is only used for error messages.
func Parse(path string, content []byte) (Annotation, error) {
	var a Annotation
	for _, block := range blockPattern.FindAllSubmatch(content, -1) {
		body := block[1]
		if a.Interface == nil {
			if m := interfacePattern.FindSubmatch(body); m != nil {
				k := ir.Key(string(m[1]), string(m[2]))
				a.Interface = &k
			}
		}
		if a.Implementation == nil {
			if m := implementationPattern.FindSubmatch(body); m != nil {
				k := ir.Key(string(m[1]), string(m[2]))
				a.Implementation = &k
			}
		}
		if a.Ctor == nil {
			if m := ctorPattern.FindSubmatch(body); m != nil {
				c := &ir.Ctor{Name: string(m[1]), Scope: ir.Scope(m[2])}
				if !c.Scope.Valid() {
					return Annotation{}, &InvalidScopeError{Path: path, Ctor: c.Name, Scope: string(c.Scope)}
				}
				a.Ctor = c
			}
		}
	}
	return a, nil
}

// Interfaces returns every interface key declared in text, in order of
// appearance and without duplicates. This is how macro-expanded output is
// scanned for referenced interfaces.
func Interfaces(text []byte) []ir.BindingKey {
	var keys []ir.BindingKey
	seen := make(map[ir.BindingKey]bool)
	for _, block := range blockPattern.FindAllSubmatch(text, -1) {
		m := interfacePattern.FindSubmatch(block[1])
		if m == nil {
			continue
		}
		k := ir.Key(string(m[1]), string(m[2]))
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	return keys
}

// Reader reads annotations from files on a filesystem.
type Reader struct {
	fs afero.Fs
}

// NewReader creates a Reader backed by fs.
func NewReader(fs afero.Fs) *Reader {
	return &Reader{fs: fs}
}

// Read parses the annotations of the file at path.
func (r *Reader) Read(path string) (Annotation, error) {
	content, err := afero.ReadFile(r.fs, path)
	if err != nil {
		return Annotation{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(path, content)
}
