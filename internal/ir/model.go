// Package ir holds the shared model of the resolver: binding keys,
// interface declarations and constructor metadata.
package ir

import (
	"fmt"
	"sort"
	"strings"
)

// BindingKey identifies one implementation of one interface.
type BindingKey struct {
	Interface      string `json:"interface"`
	Implementation string `json:"implementation"`
}

// Key is a shorthand constructor for BindingKey.
func Key(iface, impl string) BindingKey {
	return BindingKey{Interface: iface, Implementation: impl}
}

// ParseKey parses the "Interface:Implementation" form produced by String.
func ParseKey(s string) (BindingKey, error) {
	iface, impl, ok := strings.Cut(s, ":")
	if !ok || iface == "" || impl == "" {
		return BindingKey{}, fmt.Errorf("invalid binding key %q (want Interface:Implementation)", s)
	}
	return Key(iface, impl), nil
}

func (k BindingKey) String() string {
	return k.Interface + ":" + k.Implementation
}

// Less orders keys by interface, then implementation.
func (k BindingKey) Less(o BindingKey) bool {
	if k.Interface != o.Interface {
		return k.Interface < o.Interface
	}
	return k.Implementation < o.Implementation
}

// SortKeys sorts keys in place and returns them.
func SortKeys(keys []BindingKey) []BindingKey {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// Scope tells the bootstrap code where a constructor runs.
type Scope string

const (
	ScopeBootCPU Scope = "on_boot_cpu"
	ScopeEachCPU Scope = "on_each_cpu"
)

// Valid reports whether s is one of the known scopes.
func (s Scope) Valid() bool {
	return s == ScopeBootCPU || s == ScopeEachCPU
}

// Ctor is the initializer routine declared by an interface header.
type Ctor struct {
	Name  string `json:"name"`
	Scope Scope  `json:"scope"`
}

// Declaration is a header exposing an interface implementation.
type Declaration struct {
	Key    BindingKey `json:"key"`
	Header string     `json:"header"`
	Ctor   *Ctor      `json:"ctor,omitempty"`
}
