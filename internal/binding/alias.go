package binding

import (
	"fmt"
	"io"
	"regexp"

	"github.com/spf13/afero"
)

var aliasPattern = regexp.MustCompile(`(\w+)\s+=\s+(\w+)`)

// Aliases maps an interface to the implementation used for bare references.
type Aliases map[string]string

// ParseAliases reads "Interface = Implementation" entries. Later entries for
// the same interface override earlier ones; anything else is ignored.
func ParseAliases(r io.Reader) (Aliases, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read aliases: %w", err)
	}
	aliases := make(Aliases)
	for _, m := range aliasPattern.FindAllSubmatch(data, -1) {
		aliases[string(m[1])] = string(m[2])
	}
	return aliases, nil
}

// LoadAliases parses the alias file at path.
func LoadAliases(fs afero.Fs, path string) (Aliases, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open alias file: %w", err)
	}
	defer f.Close()
	return ParseAliases(f)
}
