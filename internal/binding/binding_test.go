package binding

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/fxdj/internal/ir"
)

// fakeDecls is an in-memory Declarations.
type fakeDecls map[ir.BindingKey]ir.Declaration

func newDecls(keys ...ir.BindingKey) fakeDecls {
	d := fakeDecls{}
	for _, k := range keys {
		d[k] = ir.Declaration{Key: k, Header: "/inc/" + strings.ToLower(k.Interface+"_"+k.Implementation) + ".h"}
	}
	return d
}

func (d fakeDecls) Implementations(iface string) []string {
	var out []string
	for _, k := range ir.SortKeys(d.keys()) {
		if k.Interface == iface {
			out = append(out, k.Implementation)
		}
	}
	return out
}

func (d fakeDecls) Interfaces() []string {
	seen := map[string]bool{}
	var out []string
	for _, k := range ir.SortKeys(d.keys()) {
		if !seen[k.Interface] {
			seen[k.Interface] = true
			out = append(out, k.Interface)
		}
	}
	return out
}

func (d fakeDecls) Declaration(key ir.BindingKey) (ir.Declaration, bool) {
	decl, ok := d[key]
	return decl, ok
}

func (d fakeDecls) keys() []ir.BindingKey {
	out := make([]ir.BindingKey, 0, len(d))
	for k := range d {
		out = append(out, k)
	}
	return out
}

func (d fakeDecls) list() []ir.Declaration {
	var out []ir.Declaration
	for _, k := range ir.SortKeys(d.keys()) {
		out = append(out, d[k])
	}
	return out
}

func TestParseAliases(t *testing.T) {
	in := `
# default implementations
Log = Console
Timer = HwTimer
Log = File
garbage line
`
	aliases, err := ParseAliases(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, Aliases{"Log": "File", "Timer": "HwTimer"}, aliases)
}

func TestParseAliases_LongLine(t *testing.T) {
	in := "# " + strings.Repeat("x", 100*1024) + "\nNet = Udp\n"
	aliases, err := ParseAliases(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, Aliases{"Net": "Udp"}, aliases)
}

func TestLoadAliases(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/cfg/aliases", []byte("Net = Tcp\n"), 0o644))

	aliases, err := LoadAliases(fs, "/cfg/aliases")
	require.NoError(t, err)
	assert.Equal(t, "Tcp", aliases["Net"])

	_, err = LoadAliases(fs, "/cfg/missing")
	assert.Error(t, err)
}

func TestResolveDefault(t *testing.T) {
	decls := newDecls(
		ir.Key("Clock", "HwClock"),
		ir.Key("Log", "Console"),
		ir.Key("Log", "File"),
		ir.Key("Net", "Tcp"),
		ir.Key("Net", "Udp"),
	)
	r := NewResolver(decls, Aliases{"Net": "Udp"}, nil)

	tests := []struct {
		iface  string
		want   string
		source Source
		bound  bool
	}{
		{"Clock", "HwClock", SourceImplicit, true},
		{"Net", "Udp", SourceAlias, true},
		{"Log", "", "", false},
		{"Unknown", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.iface, func(t *testing.T) {
			b, ok := r.ResolveDefault(tt.iface)
			assert.Equal(t, tt.bound, ok)
			assert.Equal(t, tt.want, b.Implementation)
			assert.Equal(t, tt.source, b.Source)
		})
	}
	assert.Equal(t, []string{"Log"}, r.Unbound())
}

func TestResolveTarget_AmbiguousWarnsAndPicksSmallest(t *testing.T) {
	logger, hook := test.NewNullLogger()
	decls := newDecls(ir.Key("Log", "File"), ir.Key("Log", "Console"))
	r := NewResolver(decls, nil, logger)

	for i := 0; i < 5; i++ {
		key, err := r.ResolveTarget("Log")
		require.NoError(t, err)
		assert.Equal(t, ir.Key("Log", "Console"), key)
	}
	require.NotEmpty(t, hook.AllEntries())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestResolveTarget_AliasWins(t *testing.T) {
	logger, hook := test.NewNullLogger()
	decls := newDecls(ir.Key("Log", "File"), ir.Key("Log", "Console"))
	r := NewResolver(decls, Aliases{"Log": "File"}, logger)

	key, err := r.ResolveTarget("Log")
	require.NoError(t, err)
	assert.Equal(t, ir.Key("Log", "File"), key)
	assert.Empty(t, hook.AllEntries())
}

func TestResolveTarget_Missing(t *testing.T) {
	r := NewResolver(newDecls(ir.Key("Log", "File")), nil, nil)
	_, err := r.ResolveTarget("Timer")
	var missing *MissingTargetImplementationError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "Timer", missing.Interface)
}

func TestTable(t *testing.T) {
	decls := newDecls(ir.Key("Log", "File"), ir.Key("Log", "Console"), ir.Key("Clock", "Hw"))
	r := NewResolver(decls, Aliases{"Log": "File", "Extra": "Thing"}, nil)

	assert.Equal(t, []Binding{
		{Interface: "Clock", Implementation: "Hw", Source: SourceImplicit},
		{Interface: "Extra", Implementation: "Thing", Source: SourceAlias},
		{Interface: "Log", Implementation: "File", Source: SourceAlias},
	}, r.Table())
}

func TestRenderHeader(t *testing.T) {
	decls := newDecls(ir.Key("Log", "File"), ir.Key("Log", "Console"), ir.Key("Clock", "Hw"))
	r := NewResolver(decls, nil, nil)

	out, err := RenderHeader(decls.list(), r.Table(), HeaderOptions{})
	require.NoError(t, err)
	text := string(out)

	assert.True(t, strings.HasPrefix(text, "#ifndef __ROOT__\n#define __ROOT__\n"))
	assert.True(t, strings.HasSuffix(text, "#endif\n"))
	assert.Contains(t, text, "#define FX_INTERFACE(I) ____INTERFACE(I)")
	assert.Contains(t, text, "#define ____INTERFACE(I) INTERFACE____##I")
	assert.Contains(t, text, "#define\t INTERFACE____Log____File \"/inc/log_file.h\" \n")
	assert.Contains(t, text, "#define\t INTERFACE____Log____Console \"/inc/log_console.h\" \n")
	assert.Contains(t, text, "#define\t INTERFACE____Clock \t\t INTERFACE____Clock____Hw \n")
	// Ambiguous interface gets no bare macro.
	assert.NotContains(t, text, "INTERFACE____Log \t\t")

	// Key definitions are sorted.
	assert.Less(t, strings.Index(text, "INTERFACE____Clock____Hw"), strings.Index(text, "INTERFACE____Log____Console"))
}

func TestRenderHeader_AliasNotDuplicated(t *testing.T) {
	decls := newDecls(ir.Key("Clock", "Hw"))
	r := NewResolver(decls, Aliases{"Clock": "Hw"}, nil)

	out, err := RenderHeader(decls.list(), r.Table(), HeaderOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, bytes.Count(out, []byte("#define\t INTERFACE____Clock \t\t")))
}

func TestRenderHeader_IncludeDir(t *testing.T) {
	decls := fakeDecls{
		ir.Key("Clock", "Hw"): {Key: ir.Key("Clock", "Hw"), Header: "/proj/src/hal/clock.h"},
	}
	out, err := RenderHeader(decls.list(), nil, HeaderOptions{IncludeDir: "/proj/src"})
	require.NoError(t, err)
	assert.Contains(t, string(out), `INTERFACE____Clock____Hw "hal/clock.h"`)
}
