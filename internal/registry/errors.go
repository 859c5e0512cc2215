package registry

import (
	"fmt"

	"github.com/efebarandurmaz/fxdj/internal/ir"
)

// DuplicateDeclarationError is returned when two headers declare the same
// binding key.
type DuplicateDeclarationError struct {
	Key    ir.BindingKey
	First  string
	Second string
}

func (e *DuplicateDeclarationError) Error() string {
	return fmt.Sprintf("interface duplication %s: %s and %s", e.Key, e.First, e.Second)
}
