// Package binding decides which implementation backs each interface and
// renders the binding header the preprocessor force-includes.
package binding

import (
	"fmt"
	"io"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/efebarandurmaz/fxdj/internal/ir"
)

// Declarations is the part of the registry the resolver needs.
type Declarations interface {
	Implementations(iface string) []string
	Interfaces() []string
	Declaration(key ir.BindingKey) (ir.Declaration, bool)
}

// MissingTargetImplementationError is returned when the requested target has
// no declared implementation and no alias.
type MissingTargetImplementationError struct {
	Interface string
}

func (e *MissingTargetImplementationError) Error() string {
	return fmt.Sprintf("no implementations found for target interface %s", e.Interface)
}

// Source tells where a default binding came from.
type Source string

const (
	SourceAlias    Source = "alias"
	SourceImplicit Source = "implicit"
)

// Binding is one resolved default for a bare interface name.
type Binding struct {
	Interface      string
	Implementation string
	Source         Source
}

// Key returns the binding key the default resolves to.
func (b Binding) Key() ir.BindingKey {
	return ir.Key(b.Interface, b.Implementation)
}

// Resolver applies the default-binding precedence: alias, then sole
// implementation, otherwise unbound.
type Resolver struct {
	decls   Declarations
	aliases Aliases
	log     logrus.FieldLogger
}

// NewResolver creates a resolver. A nil logger discards warnings.
func NewResolver(decls Declarations, aliases Aliases, log logrus.FieldLogger) *Resolver {
	if log == nil {
		l := logrus.New()
		l.Out = io.Discard
		log = l
	}
	if aliases == nil {
		aliases = Aliases{}
	}
	return &Resolver{decls: decls, aliases: aliases, log: log}
}

// ResolveDefault returns the default implementation of iface, if any.
func (r *Resolver) ResolveDefault(iface string) (Binding, bool) {
	if impl, ok := r.aliases[iface]; ok {
		return Binding{Interface: iface, Implementation: impl, Source: SourceAlias}, true
	}
	impls := r.decls.Implementations(iface)
	if len(impls) == 1 {
		return Binding{Interface: iface, Implementation: impls[0], Source: SourceImplicit}, true
	}
	return Binding{}, false
}

// ResolveTarget picks the implementation built for the command-line target.
// Unlike ResolveDefault it tolerates ambiguity: with several implementations
// and no alias it warns and takes the lexicographically smallest.
func (r *Resolver) ResolveTarget(iface string) (ir.BindingKey, error) {
	if impl, ok := r.aliases[iface]; ok {
		key := ir.Key(iface, impl)
		if _, declared := r.decls.Declaration(key); !declared {
			r.log.WithField("target", key.String()).Warn("alias selects an implementation with no declaring header")
		}
		return key, nil
	}
	impls := r.decls.Implementations(iface)
	switch len(impls) {
	case 0:
		return ir.BindingKey{}, &MissingTargetImplementationError{Interface: iface}
	case 1:
	default:
		r.log.WithFields(logrus.Fields{
			"target":          iface,
			"implementations": impls,
			"selected":        impls[0],
		}).Warn("multiple implementations for target and no alias")
	}
	return ir.Key(iface, impls[0]), nil
}

// Table returns the resolved default of every declared or aliased interface,
// sorted by interface name. Unbound interfaces are omitted.
func (r *Resolver) Table() []Binding {
	names := r.decls.Interfaces()
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}
	for iface := range r.aliases {
		if !known[iface] {
			names = append(names, iface)
			known[iface] = true
		}
	}
	sort.Strings(names)

	var out []Binding
	for _, iface := range names {
		if b, ok := r.ResolveDefault(iface); ok {
			out = append(out, b)
		}
	}
	return out
}

// Unbound returns interfaces with several implementations and no alias.
func (r *Resolver) Unbound() []string {
	var out []string
	for _, iface := range r.decls.Interfaces() {
		if _, ok := r.ResolveDefault(iface); !ok {
			out = append(out, iface)
		}
	}
	return out
}
