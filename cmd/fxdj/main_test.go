package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/fxdj/internal/depgraph"
	"github.com/efebarandurmaz/fxdj/internal/graph"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func TestOneLine(t *testing.T) {
	err := errors.Join(errors.New("no target interface given (-t)"), errors.New("empty output path (-o)"))
	assert.Equal(t, "no target interface given (-t); empty output path (-o)", oneLine(err))
	assert.Equal(t, "boom", oneLine(errors.New("boom\n")))
}

func TestRun_UnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"frobnicate"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "fxdj: ")
}

func TestRun_ResolveMissingFlags(t *testing.T) {
	t.Setenv("FX_PREP", "")
	t.Chdir(t.TempDir())

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"resolve", "-p", "src"}, &stdout, &stderr)
	assert.Equal(t, 1, code)

	msg := stderr.String()
	assert.Contains(t, msg, "no target interface given (-t)")
	assert.Contains(t, msg, "no alias file given (-a)")
	assert.Contains(t, msg, "FX_PREP")
	assert.NotContains(t, msg, "no source paths")
	assert.Equal(t, 1, strings.Count(msg, "\n"))
}

func TestRun_Interfaces(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"clock/clock.h":   "FX_METADATA(({ interface: [Clock, HwClock] ctor: [clk_init, on_boot_cpu] }))\n",
		"clock/hwclock.c": "FX_METADATA(({ implementation: [Clock, HwClock] }))\n",
		"log/uart.h":      "FX_METADATA(({ interface: [Log, Uart] }))\n",
		"log/file.h":      "FX_METADATA(({ interface: [Log, File] }))\n",
		"log/uart.c":      "FX_METADATA(({ implementation: [Log, Uart] }))\n",
		"log/file.c":      "FX_METADATA(({ implementation: [Log, File] }))\n",
	})
	t.Chdir(dir)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"interfaces", "-p", dir}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	out := stdout.String()
	assert.Contains(t, out, "Clock:HwClock")
	assert.Contains(t, out, "implicit")
	assert.Contains(t, out, "clk_init@on_boot_cpu")
	assert.Contains(t, out, "Log:File")
	assert.Contains(t, out, "No default binding: Log")
}

func storedClockTimer(t *testing.T) graph.Repository {
	t.Helper()
	g := &depgraph.Graph{
		Target: "Timer:HwTimer",
		Nodes: []depgraph.Node{
			{ID: "Clock:HwClock", Interface: "Clock", Implementation: "HwClock", Kind: depgraph.NodeBinding},
			{ID: "Timer:HwTimer", Interface: "Timer", Implementation: "HwTimer", Kind: depgraph.NodeBinding},
		},
		Edges: []depgraph.Edge{
			{From: "Timer:HwTimer", To: "Clock:HwClock", Kind: depgraph.EdgeDependsOn},
			{From: "Timer:HwTimer", To: "Clock:HwClock", Kind: depgraph.EdgeInitAfter, Label: "tmr_init"},
		},
	}
	repo := graph.NewMemory()
	require.NoError(t, repo.StoreGraph(context.Background(), g))
	return repo
}

func TestQueryStored_Graph(t *testing.T) {
	repo := storedClockTimer(t)

	var out bytes.Buffer
	require.NoError(t, queryStored(context.Background(), repo, []string{"Timer:HwTimer"}, depgraph.FormatDOT, &out))
	assert.Contains(t, out.String(), `"Timer:HwTimer" -> "Clock:HwClock"`)
	assert.Contains(t, out.String(), `label="tmr_init"`)
}

func TestQueryStored_Dependencies(t *testing.T) {
	repo := storedClockTimer(t)

	var out bytes.Buffer
	require.NoError(t, queryStored(context.Background(), repo, []string{"Timer:HwTimer", "Timer:HwTimer"}, "", &out))
	assert.Equal(t, "Clock:HwClock\n", out.String())

	out.Reset()
	require.NoError(t, queryStored(context.Background(), repo, []string{"Timer:HwTimer", "Clock:HwClock"}, "", &out))
	assert.Empty(t, out.String())
}

func TestQueryStored_Errors(t *testing.T) {
	repo := storedClockTimer(t)
	ctx := context.Background()
	var out bytes.Buffer

	err := queryStored(ctx, repo, []string{"Timer"}, "", &out)
	assert.ErrorContains(t, err, "invalid binding key")

	err = queryStored(ctx, repo, []string{"Timer:HwTimer", "Clock"}, "", &out)
	assert.ErrorContains(t, err, "invalid binding key")

	err = queryStored(ctx, repo, []string{"Net:Tcp"}, "", &out)
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestRun_DepsNeedsGraphURI(t *testing.T) {
	t.Setenv("FX_GRAPH_URI", "")
	t.Chdir(t.TempDir())

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"deps", "Timer:HwTimer"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "--graph-uri")
}
