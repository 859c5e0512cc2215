package pipeline

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/efebarandurmaz/fxdj/internal/binding"
	"github.com/efebarandurmaz/fxdj/internal/config"
	"github.com/efebarandurmaz/fxdj/internal/graph"
	"github.com/efebarandurmaz/fxdj/internal/initorder"
	"github.com/efebarandurmaz/fxdj/internal/ir"
	"github.com/efebarandurmaz/fxdj/internal/metrics"
	"github.com/efebarandurmaz/fxdj/internal/observability"
	"github.com/efebarandurmaz/fxdj/internal/oracle"
	"github.com/efebarandurmaz/fxdj/internal/registry"
)

var (
	clock = ir.Key("Clock", "HwClock")
	timer = ir.Key("Timer", "HwTimer")
)

func clockTimerFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	files := map[string]string{
		"/proj/clock/clock.h":   "FX_METADATA(({ interface: [Clock, HwClock] ctor: [clk_init, on_boot_cpu] }))\n",
		"/proj/clock/hwclock.c": "FX_METADATA(({ implementation: [Clock, HwClock] }))\n",
		"/proj/timer/timer.h":   "FX_METADATA(({ interface: [Timer, HwTimer] ctor: [tmr_init, on_each_cpu] }))\n",
		"/proj/timer/hwtimer.c": "FX_METADATA(({ implementation: [Timer, HwTimer] }))\n",
		"/proj/alias.txt":       "\n",
	}
	for path, content := range files {
		require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
	}
	require.NoError(t, fs.MkdirAll("/build", 0o755))
	return fs
}

var clockTimerOracle = oracle.Static{
	"/proj/clock/hwclock.c": {clock},
	"/proj/timer/hwtimer.c": {timer, clock},
	"/proj/timer/timer.h":   {timer, clock},
}

func baseConfig() *config.Config {
	return &config.Config{
		Paths:         "/proj",
		Target:        "Timer",
		Alias:         "/proj/alias.txt",
		Output:        "/build/sources",
		BindingHeader: "/build/map.tmp",
		Prep:          "cpp -include %s %s",
		Init:          config.InitConfig{OnceName: "fx_dj_init_once", EachName: "fx_dj_init_each"},
	}
}

func readFile(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	return string(data)
}

func TestRun_ClockTimer(t *testing.T) {
	fs := clockTimerFs(t)
	cfg := baseConfig()
	cfg.Init.Source = "/build/init.c"
	cfg.SDK = "/build/sdk.txt"
	report := metrics.New("Timer")
	rec := observability.NewRecorder()
	repo := graph.NewMemory()

	r, err := New(Options{Config: cfg, Fs: fs, Oracle: clockTimerOracle, Report: report, Recorder: rec, Graph: repo})
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, timer, res.Target)
	assert.Equal(t, []string{"/proj/clock/hwclock.c", "/proj/timer/hwtimer.c"}, res.Closure.Files)
	assert.Equal(t, []string{"clk_init", "tmr_init"}, res.Sequence.InitOnce)
	assert.Equal(t, []string{"tmr_init"}, res.Sequence.InitEach)

	assert.Equal(t, "/proj/clock/hwclock.c\n/proj/timer/hwtimer.c\n", readFile(t, fs, "/build/sources"))
	assert.Contains(t, readFile(t, fs, "/build/init.c"), "void fx_dj_init_each(void)\n{\n\ttmr_init();\n}")
	assert.Equal(t, "Timer\nClock\n", readFile(t, fs, "/build/sdk.txt"))

	header := readFile(t, fs, "/build/map.tmp")
	assert.Contains(t, header, `INTERFACE____Timer____HwTimer "/proj/timer/timer.h"`)
	assert.Contains(t, header, "INTERFACE____Clock \t\t INTERFACE____Clock____HwClock")

	assert.Equal(t, []string{"/build/sources", "/build/init.c", "/build/sdk.txt"}, res.Outputs)
	assert.Equal(t, 2, report.Closure.Files)
	assert.Equal(t, 2, report.Scan.Declarations)
	assert.Len(t, report.Stages, 7)

	stored, err := repo.LoadGraph(context.Background(), "Timer:HwTimer")
	require.NoError(t, err)
	assert.Len(t, stored.Nodes, 2)
}

func TestRun_DirectoryMode(t *testing.T) {
	fs := clockTimerFs(t)
	cfg := baseConfig()
	cfg.Output = "/build"

	r, err := New(Options{Config: cfg, Fs: fs, Oracle: clockTimerOracle})
	require.NoError(t, err)
	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "directory", string(res.Mode))
	for _, name := range []string{"/build/hwclock.c", "/build/hwtimer.c", "/build/Clock.h", "/build/Timer.h"} {
		ok, err := afero.Exists(fs, name)
		require.NoError(t, err)
		assert.True(t, ok, name)
	}
	assert.Contains(t, readFile(t, fs, "/build/Timer.h"), "interface: [Timer, HwTimer]")
}

func TestRun_DuplicateDeclaration(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/proj/a/net.h", []byte("FX_METADATA(({ interface: [Net, Tcp] }))"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/proj/b/net.h", []byte("FX_METADATA(({ interface: [Net, Tcp] }))"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/proj/alias.txt", nil, 0o644))
	cfg := baseConfig()
	cfg.Target = "Net"

	r, err := New(Options{Config: cfg, Fs: fs, Oracle: oracle.Static{}})
	require.NoError(t, err)
	_, err = r.Run(context.Background())

	var dup *registry.DuplicateDeclarationError
	require.True(t, errors.As(err, &dup))
	assert.Contains(t, err.Error(), "/proj/a/net.h")
	assert.Contains(t, err.Error(), "/proj/b/net.h")
	ok, _ := afero.Exists(fs, "/build/map.tmp")
	assert.False(t, ok)
}

func TestRun_MissingTarget(t *testing.T) {
	fs := clockTimerFs(t)
	cfg := baseConfig()
	cfg.Target = "Uart"

	r, err := New(Options{Config: cfg, Fs: fs, Oracle: clockTimerOracle})
	require.NoError(t, err)
	_, err = r.Run(context.Background())

	var missing *binding.MissingTargetImplementationError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "Uart", missing.Interface)
}

func TestRun_AmbiguousTarget(t *testing.T) {
	fs := afero.NewMemMapFs()
	for path, content := range map[string]string{
		"/proj/console.h": "FX_METADATA(({ interface: [Log, Console] }))",
		"/proj/file.h":    "FX_METADATA(({ interface: [Log, File] }))",
		"/proj/console.c": "FX_METADATA(({ implementation: [Log, Console] }))",
		"/proj/file.c":    "FX_METADATA(({ implementation: [Log, File] }))",
		"/proj/alias.txt": "",
	} {
		require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
	}
	require.NoError(t, fs.MkdirAll("/build", 0o755))
	cfg := baseConfig()
	cfg.Target = "Log"

	log, hook := test.NewNullLogger()
	r, err := New(Options{Config: cfg, Fs: fs, Oracle: oracle.Static{}, Logger: log})
	require.NoError(t, err)
	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ir.Key("Log", "Console"), res.Target)
	assert.Equal(t, []string{"Log"}, res.Unbound)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.NotContains(t, readFile(t, fs, "/build/map.tmp"), "INTERFACE____Log \t\t")

	require.NoError(t, afero.WriteFile(fs, "/proj/alias.txt", []byte("Log = File\n"), 0o644))
	res, err = r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ir.Key("Log", "File"), res.Target)
	assert.Equal(t, "/proj/file.c\n", readFile(t, fs, "/build/sources"))
	assert.Contains(t, readFile(t, fs, "/build/map.tmp"), "INTERFACE____Log \t\t INTERFACE____Log____File")
}

func TestRun_InitCycleWritesNoOutputs(t *testing.T) {
	fs := clockTimerFs(t)
	cyclic := oracle.Static{
		"/proj/clock/hwclock.c": {timer},
		"/proj/timer/hwtimer.c": {clock},
	}
	cfg := baseConfig()
	cfg.Init.Source = "/build/init.c"

	r, err := New(Options{Config: cfg, Fs: fs, Oracle: cyclic})
	require.NoError(t, err)
	_, err = r.Run(context.Background())

	var cerr *initorder.InitializationCycleError
	require.True(t, errors.As(err, &cerr))
	for _, path := range []string{"/build/sources", "/build/init.c"} {
		ok, _ := afero.Exists(fs, path)
		assert.False(t, ok, path)
	}
}

func TestRun_OracleFailure(t *testing.T) {
	fs := clockTimerFs(t)
	report := metrics.New("Timer")
	r, err := New(Options{Config: baseConfig(), Fs: fs, Oracle: failing{}, Report: report})
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	var perr *oracle.PreprocessingError
	require.True(t, errors.As(err, &perr))
	ok, _ := afero.Exists(fs, "/build/sources")
	assert.False(t, ok)

	last := report.Stages[len(report.Stages)-1]
	assert.Equal(t, StageClosure, last.Name)
	assert.True(t, last.Failed)
}

func TestRun_BrokenPreprocessorWritesNothing(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	fs := clockTimerFs(t)
	cfg := baseConfig()
	cfg.Prep = "false %s %s"
	report := metrics.New("Timer")
	r, err := New(Options{Config: cfg, Fs: fs, Report: report})
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	require.ErrorIs(t, err, oracle.ErrInvalidCommand)
	ok, _ := afero.Exists(fs, "/build/map.tmp")
	assert.False(t, ok)
	assert.Empty(t, report.Stages)
}

func TestRun_InvalidTemplateWithoutSelfTest(t *testing.T) {
	fs := clockTimerFs(t)
	cfg := baseConfig()
	cfg.Prep = "cpp %s"
	cfg.Oracle.SkipCheck = true
	r, err := New(Options{Config: cfg, Fs: fs})
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	require.ErrorIs(t, err, oracle.ErrInvalidCommand)
	ok, _ := afero.Exists(fs, "/build/map.tmp")
	assert.False(t, ok)
}

func TestResolve_SpanAttributes(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	r, err := New(Options{Config: baseConfig(), Fs: clockTimerFs(t), Oracle: clockTimerOracle})
	require.NoError(t, err)
	_, err = r.Resolve(context.Background())
	require.NoError(t, err)

	attrs := make(map[string]map[attribute.Key]attribute.Value)
	for _, span := range sr.Ended() {
		m := make(map[attribute.Key]attribute.Value)
		for _, kv := range span.Attributes() {
			m[kv.Key] = kv.Value
		}
		attrs[span.Name()] = m
	}

	closure := attrs["stage."+StageClosure]
	require.NotNil(t, closure)
	assert.Equal(t, "Timer:HwTimer", closure["closure.target"].AsString())
	assert.Equal(t, int64(2), closure["closure.files"].AsInt64())
	assert.Equal(t, int64(2), closure["closure.nodes"].AsInt64())

	ordering := attrs["stage."+StageInitOrder]
	require.NotNil(t, ordering)
	assert.Equal(t, int64(2), ordering["initorder.once"].AsInt64())
	assert.Equal(t, int64(1), ordering["initorder.each"].AsInt64())
}

type failing struct{}

func (failing) Discover(context.Context, []string) ([]ir.BindingKey, error) {
	return nil, &oracle.PreprocessingError{Source: "/proj/timer/hwtimer.c", ExitCode: 1, Err: errors.New("exit status 1")}
}

func TestPrepare_IncludeDir(t *testing.T) {
	fs := clockTimerFs(t)
	cfg := baseConfig()
	cfg.IncludeDir = "/proj"

	r, err := New(Options{Config: cfg, Fs: fs, Oracle: clockTimerOracle})
	require.NoError(t, err)
	_, err = r.Prepare(context.Background())
	require.NoError(t, err)
	assert.Contains(t, readFile(t, fs, "/build/map.tmp"), `"timer/timer.h"`)

	cfg.IncludeDir = "/nowhere"
	_, err = r.Prepare(context.Background())
	assert.ErrorContains(t, err, "incorrect base include path")
}

func TestRun_SDKWithoutDeclaration(t *testing.T) {
	fs := clockTimerFs(t)
	require.NoError(t, afero.WriteFile(fs, "/proj/alias.txt", []byte("Timer = SwTimer\n"), 0o644))
	cfg := baseConfig()
	cfg.SDK = "/build/sdk.txt"

	r, err := New(Options{Config: cfg, Fs: fs, Oracle: clockTimerOracle})
	require.NoError(t, err)
	_, err = r.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoTargetHeader)
	ok, _ := afero.Exists(fs, "/build/sources")
	assert.False(t, ok)
}

func TestNew_NilConfig(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestJoinKeys(t *testing.T) {
	assert.Equal(t, "Clock:HwClock,Timer:HwTimer", joinKeys([]ir.BindingKey{clock, timer}))
	assert.Empty(t, joinKeys(nil))
}
