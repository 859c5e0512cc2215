// Package oracle discovers which interfaces a set of sources references by
// running them through an external macro-expanding preprocessor.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/efebarandurmaz/fxdj/internal/ir"
	"github.com/efebarandurmaz/fxdj/internal/metadata"
)

// Oracle returns every binding key whose interface declaration is reachable
// in the expanded text of sources.
type Oracle interface {
	Discover(ctx context.Context, sources []string) ([]ir.BindingKey, error)
}

// Expander returns the macro-expanded text of one file.
type Expander interface {
	Expand(ctx context.Context, path string) ([]byte, error)
}

// ErrInvalidCommand is returned for an absent or malformed command template.
var ErrInvalidCommand = errors.New("invalid preprocessor command")

// PreprocessingError wraps a failed preprocessor invocation.
type PreprocessingError struct {
	Command  string
	Source   string
	ExitCode int
	Output   string
	Err      error
}

func (e *PreprocessingError) Error() string {
	msg := fmt.Sprintf("preprocessing %s failed (exit %d): %v", e.Source, e.ExitCode, e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + firstLine(out)
	}
	return msg
}

func (e *PreprocessingError) Unwrap() error { return e.Err }

// FromExpander adapts an Expander into an Oracle by scanning the expanded
// text of every source for interface annotations.
func FromExpander(x Expander) Oracle {
	return expanderOracle{x: x}
}

type expanderOracle struct {
	x Expander
}

func (o expanderOracle) Discover(ctx context.Context, sources []string) ([]ir.BindingKey, error) {
	var keys []ir.BindingKey
	seen := make(map[ir.BindingKey]bool)
	for _, src := range sources {
		text, err := o.x.Expand(ctx, src)
		if err != nil {
			return nil, err
		}
		for _, k := range metadata.Interfaces(text) {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys, nil
}

// Static is an Oracle backed by a fixed source -> keys table.
type Static map[string][]ir.BindingKey

func (s Static) Discover(ctx context.Context, sources []string) ([]ir.BindingKey, error) {
	var keys []ir.BindingKey
	seen := make(map[ir.BindingKey]bool)
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, k := range s[src] {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
