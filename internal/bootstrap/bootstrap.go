// Package bootstrap generates the C initializer source that runs the
// constructors of a resolved target in dependency order.
package bootstrap

import (
	"bytes"
	"fmt"
	"regexp"
	"text/template"

	"github.com/efebarandurmaz/fxdj/internal/initorder"
)

const (
	DefaultOnceName = "fx_dj_init_once"
	DefaultEachName = "fx_dj_init_each"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Options names the two generated entry points.
type Options struct {
	OnceName string
	EachName string
}

type templateData struct {
	Target   string
	Externs  []string
	OnceName string
	EachName string
	Once     []string
	Each     []string
}

var sourceTemplate = template.Must(template.New("bootstrap").Parse(`/* This file is automatically generated, DO NOT EDIT! */
/* Initializers for {{.Target}} */
{{range .Externs}}
extern void {{.}}(void);
{{- end}}

void {{.OnceName}}(void)
{
{{- range .Once}}
	{{.}}();
{{- end}}
}

void {{.EachName}}(void)
{
{{- range .Each}}
	{{.}}();
{{- end}}
}
`))

// Render produces the initializer source for seq. target is only used in
// the file banner.
func Render(target string, seq *initorder.Sequence, opts Options) ([]byte, error) {
	if opts.OnceName == "" {
		opts.OnceName = DefaultOnceName
	}
	if opts.EachName == "" {
		opts.EachName = DefaultEachName
	}
	for _, name := range []string{opts.OnceName, opts.EachName} {
		if !identPattern.MatchString(name) {
			return nil, fmt.Errorf("invalid entry point name %q", name)
		}
	}
	if opts.OnceName == opts.EachName {
		return nil, fmt.Errorf("entry points must differ, both are %q", opts.OnceName)
	}

	data := templateData{
		Target:   target,
		OnceName: opts.OnceName,
		EachName: opts.EachName,
		Once:     seq.InitOnce,
		Each:     seq.InitEach,
	}
	seen := make(map[string]bool, len(seq.InitOnce))
	for _, name := range seq.InitOnce {
		if !identPattern.MatchString(name) {
			return nil, fmt.Errorf("invalid constructor name %q", name)
		}
		if !seen[name] {
			seen[name] = true
			data.Externs = append(data.Externs, name)
		}
	}

	var buf bytes.Buffer
	if err := sourceTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render initializer source: %w", err)
	}
	return buf.Bytes(), nil
}
