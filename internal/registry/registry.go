// Package registry builds the tables of interface declarations and
// implementation sources every later stage reads from.
package registry

import (
	"fmt"
	"sort"

	"github.com/efebarandurmaz/fxdj/internal/ir"
	"github.com/efebarandurmaz/fxdj/internal/metadata"
)

// AnnotationReader returns the annotations of a file.
type AnnotationReader interface {
	Read(path string) (metadata.Annotation, error)
}

// Registry is read-only once built.
type Registry struct {
	declarations    map[ir.BindingKey]ir.Declaration
	implementations map[ir.BindingKey][]string
	byInterface     map[string][]string
}

// Build reads every header for an interface annotation and every source for an
// implementation annotation. Files without one are skipped.
func Build(headers, sources []string, r AnnotationReader) (*Registry, error) {
	reg := &Registry{
		declarations:    make(map[ir.BindingKey]ir.Declaration),
		implementations: make(map[ir.BindingKey][]string),
		byInterface:     make(map[string][]string),
	}

	for _, h := range sortedCopy(headers) {
		a, err := r.Read(h)
		if err != nil {
			return nil, err
		}
		if a.Interface == nil {
			continue
		}
		key := *a.Interface
		if prev, ok := reg.declarations[key]; ok {
			return nil, &DuplicateDeclarationError{Key: key, First: prev.Header, Second: h}
		}
		reg.declarations[key] = ir.Declaration{Key: key, Header: h, Ctor: a.Ctor}
		reg.byInterface[key.Interface] = append(reg.byInterface[key.Interface], key.Implementation)
	}
	for iface := range reg.byInterface {
		sort.Strings(reg.byInterface[iface])
	}

	for _, s := range sortedCopy(sources) {
		a, err := r.Read(s)
		if err != nil {
			return nil, err
		}
		if a.Implementation == nil {
			continue
		}
		key := *a.Implementation
		reg.implementations[key] = append(reg.implementations[key], s)
	}

	return reg, nil
}

// Declaration returns the declaring header of key.
func (r *Registry) Declaration(key ir.BindingKey) (ir.Declaration, bool) {
	d, ok := r.declarations[key]
	return d, ok
}

// Declarations returns all declarations sorted by key.
func (r *Registry) Declarations() []ir.Declaration {
	out := make([]ir.Declaration, 0, len(r.declarations))
	for _, d := range r.declarations {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out
}

// Implementations returns the declared implementation names of iface, sorted.
func (r *Registry) Implementations(iface string) []string {
	return append([]string(nil), r.byInterface[iface]...)
}

// Interfaces returns every declared interface name, sorted.
func (r *Registry) Interfaces() []string {
	out := make([]string, 0, len(r.byInterface))
	for iface := range r.byInterface {
		out = append(out, iface)
	}
	sort.Strings(out)
	return out
}

// Sources returns the source files implementing key.
func (r *Registry) Sources(key ir.BindingKey) []string {
	return append([]string(nil), r.implementations[key]...)
}

// SourceTable returns a copy of the key -> sources table.
func (r *Registry) SourceTable() map[ir.BindingKey][]string {
	out := make(map[ir.BindingKey][]string, len(r.implementations))
	for k, v := range r.implementations {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Stats summarizes the registry for reports.
func (r *Registry) Stats() (declarations, implementations, ctors int) {
	for _, d := range r.declarations {
		if d.Ctor != nil {
			ctors++
		}
	}
	return len(r.declarations), len(r.implementations), ctors
}

func (r *Registry) String() string {
	d, i, c := r.Stats()
	return fmt.Sprintf("registry{declarations=%d implementations=%d ctors=%d}", d, i, c)
}

func sortedCopy(items []string) []string {
	out := append([]string(nil), items...)
	sort.Strings(out)
	return out
}
