package binding

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/efebarandurmaz/fxdj/internal/ir"
)

const macroPrefix = "INTERFACE____"

// KeyMacro is the macro naming the header of one exact binding key.
func KeyMacro(key ir.BindingKey) string {
	return macroPrefix + key.Interface + "____" + key.Implementation
}

// InterfaceMacro is the macro a bare FX_INTERFACE(I) reference expands to.
func InterfaceMacro(iface string) string {
	return macroPrefix + iface
}

// HeaderOptions controls how header paths are written.
type HeaderOptions struct {
	// IncludeDir, when set, makes every header path relative to it. The
	// preprocessor must then use the same directory as an include path.
	IncludeDir string
}

// RenderHeader produces the binding header text for the given declarations
// and resolved defaults. Output is sorted so it is stable across runs.
func RenderHeader(decls []ir.Declaration, defaults []Binding, opts HeaderOptions) ([]byte, error) {
	decls = append([]ir.Declaration(nil), decls...)
	sort.Slice(decls, func(i, j int) bool { return decls[i].Key.Less(decls[j].Key) })

	var b bytes.Buffer
	b.WriteString("#ifndef __ROOT__\n#define __ROOT__\n\n")
	b.WriteString("//This file is automatically generated, DO NOT EDIT!\n")
	b.WriteString("#define ____INTERFACE(I) INTERFACE____##I \n\n")
	b.WriteString("#define FX_INTERFACE(I) ____INTERFACE(I) \n\n")

	for _, d := range decls {
		path := d.Header
		if opts.IncludeDir != "" {
			rel, err := filepath.Rel(opts.IncludeDir, d.Header)
			if err != nil {
				return nil, fmt.Errorf("relative path of %s: %w", d.Header, err)
			}
			path = filepath.ToSlash(rel)
		}
		fmt.Fprintf(&b, "#define\t %s \"%s\" \n", KeyMacro(d.Key), path)
	}

	for _, def := range defaults {
		fmt.Fprintf(&b, "#define\t %s \t\t %s \n", InterfaceMacro(def.Interface), KeyMacro(def.Key()))
	}

	b.WriteString("#endif\n")
	return b.Bytes(), nil
}
