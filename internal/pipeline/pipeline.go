// Package pipeline runs a full resolution: scan, registry, default
// bindings, binding header, closure, initialization order and emit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/trace"

	"github.com/efebarandurmaz/fxdj/internal/binding"
	"github.com/efebarandurmaz/fxdj/internal/bootstrap"
	"github.com/efebarandurmaz/fxdj/internal/closure"
	"github.com/efebarandurmaz/fxdj/internal/config"
	"github.com/efebarandurmaz/fxdj/internal/depgraph"
	"github.com/efebarandurmaz/fxdj/internal/graph"
	"github.com/efebarandurmaz/fxdj/internal/initorder"
	"github.com/efebarandurmaz/fxdj/internal/ir"
	"github.com/efebarandurmaz/fxdj/internal/metadata"
	"github.com/efebarandurmaz/fxdj/internal/metrics"
	"github.com/efebarandurmaz/fxdj/internal/observability"
	"github.com/efebarandurmaz/fxdj/internal/oracle"
	"github.com/efebarandurmaz/fxdj/internal/output"
	"github.com/efebarandurmaz/fxdj/internal/registry"
	"github.com/efebarandurmaz/fxdj/internal/scan"
)

// Stage names, also used as span and metric labels.
const (
	StageScan      = "scan"
	StageRegistry  = "registry"
	StageBindings  = "bindings"
	StageHeader    = "header"
	StageClosure   = "closure"
	StageInitOrder = "initorder"
	StageEmit      = "emit"
)

// ErrNoTargetHeader is returned when the SDK list is requested for a target
// that has no declaring header.
var ErrNoTargetHeader = errors.New("target has no declaring header")

// Options wires a Runner. Only Config is required.
type Options struct {
	Config *config.Config
	// Fs defaults to the OS filesystem.
	Fs afero.Fs
	// Oracle overrides the shell preprocessor built from Config.Prep.
	Oracle oracle.Oracle
	Logger logrus.FieldLogger
	// Recorder and Report are optional metric sinks.
	Recorder *observability.Recorder
	Report   *metrics.RunMetrics
	// Graph, when set, receives the binding graph after a successful run.
	Graph graph.Repository
}

// Runner executes the stages of one resolution.
type Runner struct {
	cfg      *config.Config
	fs       afero.Fs
	oracle   oracle.Oracle
	log      logrus.FieldLogger
	recorder *observability.Recorder
	report   *metrics.RunMetrics
	graph    graph.Repository
}

// Result carries everything the stages produced.
type Result struct {
	Scan     *scan.Result
	Registry *registry.Registry
	Aliases  binding.Aliases
	Defaults []binding.Binding
	Unbound  []string
	Target   ir.BindingKey
	Header   string
	Closure  *closure.Result
	Sequence *initorder.Sequence
	Graph    *depgraph.Graph
	Mode     output.Mode
	Outputs  []string
}

// New creates a Runner.
func New(opts Options) (*Runner, error) {
	if opts.Config == nil {
		return nil, errors.New("pipeline: nil config")
	}
	r := &Runner{
		cfg:      opts.Config,
		fs:       opts.Fs,
		oracle:   opts.Oracle,
		log:      opts.Logger,
		recorder: opts.Recorder,
		report:   opts.Report,
		graph:    opts.Graph,
	}
	if r.fs == nil {
		r.fs = afero.NewOsFs()
	}
	if r.log == nil {
		l := logrus.New()
		l.Out = io.Discard
		r.log = l
	}
	return r, nil
}

// stage times fn and reports it to every configured sink.
func (r *Runner) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := observability.StartStageSpan(ctx, name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	d := time.Since(start)

	observability.RecordError(span, err)
	if r.recorder != nil {
		r.recorder.ObserveStage(name, d)
	}
	if r.report != nil {
		r.report.AddStage(name, d, err)
	}
	r.log.WithFields(logrus.Fields{"stage": name, "duration": d}).Debug("stage finished")
	return err
}

// Inventory scans the source roots, builds the registry and resolves the
// default binding of every interface. It needs no target.
func (r *Runner) Inventory(ctx context.Context) (*Result, error) {
	res := &Result{}

	err := r.stage(ctx, StageScan, func(context.Context) error {
		opts := scan.Options{
			HeaderExts: r.cfg.Scan.HeaderExts,
			SourceExts: r.cfg.Scan.SourceExts,
			Exclude:    r.cfg.Scan.Exclude,
		}
		if len(opts.HeaderExts) == 0 || len(opts.SourceExts) == 0 {
			def := scan.DefaultOptions()
			opts.HeaderExts, opts.SourceExts = def.HeaderExts, def.SourceExts
		}
		sr, err := scan.Walk(r.fs, r.cfg.Roots(), opts)
		if err != nil {
			return err
		}
		res.Scan = sr
		r.log.WithField("paths", sr.Roots).Debug("source paths")
		for _, h := range sr.Headers {
			r.log.WithField("header", h).Debug("interface header")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = r.stage(ctx, StageRegistry, func(context.Context) error {
		reg, err := registry.Build(res.Scan.Headers, res.Scan.Sources, metadata.NewReader(r.fs))
		if err != nil {
			return err
		}
		res.Registry = reg
		for _, d := range reg.Declarations() {
			r.log.WithFields(logrus.Fields{"key": d.Key.String(), "header": d.Header}).Debug("declaration")
		}
		for key, srcs := range reg.SourceTable() {
			r.log.WithFields(logrus.Fields{"key": key.String(), "sources": strings.Join(srcs, ",")}).Debug("implementation")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = r.stage(ctx, StageBindings, func(context.Context) error {
		if r.cfg.Alias != "" {
			aliases, err := binding.LoadAliases(r.fs, r.cfg.Alias)
			if err != nil {
				return err
			}
			res.Aliases = aliases
		}
		resolver := r.resolver(res)
		res.Defaults = resolver.Table()
		res.Unbound = resolver.Unbound()
		for _, iface := range res.Unbound {
			r.log.WithField("interface", iface).Debug("no default binding")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if r.report != nil {
		decls, impls, ctors := res.Registry.Stats()
		r.report.Scan = metrics.ScanMetrics{
			Roots:           len(res.Scan.Roots),
			Headers:         len(res.Scan.Headers),
			Sources:         len(res.Scan.Sources),
			Declarations:    decls,
			Implementations: impls,
			Ctors:           ctors,
			Aliases:         len(res.Aliases),
			Unbound:         len(res.Unbound),
		}
	}
	return res, nil
}

func (r *Runner) resolver(res *Result) *binding.Resolver {
	return binding.NewResolver(res.Registry, res.Aliases, r.log)
}

// Prepare runs Inventory, picks the target implementation and writes the
// binding header.
func (r *Runner) Prepare(ctx context.Context) (*Result, error) {
	res, err := r.Inventory(ctx)
	if err != nil {
		return nil, err
	}
	err = r.stage(ctx, StageHeader, func(context.Context) error {
		target, err := r.resolver(res).ResolveTarget(r.cfg.Target)
		if err != nil {
			return err
		}
		res.Target = target
		return r.writeHeader(res)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Runner) writeHeader(res *Result) error {
	opts := binding.HeaderOptions{}
	if dir := r.cfg.IncludeDir; dir != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return err
		}
		if ok, err := afero.DirExists(r.fs, abs); err != nil || !ok {
			return fmt.Errorf("incorrect base include path %s", dir)
		}
		opts.IncludeDir = abs
	}
	text, err := binding.RenderHeader(res.Registry.Declarations(), res.Defaults, opts)
	if err != nil {
		return err
	}
	path, err := filepath.Abs(r.cfg.BindingHeader)
	if err != nil {
		return err
	}
	if err := output.WriteFileAtomic(r.fs, path, text, 0o644); err != nil {
		return fmt.Errorf("write binding header: %w", err)
	}
	res.Header = path
	return nil
}

// Resolve checks the preprocessor, runs Prepare, then the closure and
// initialization order stages. Nothing but the binding header is written.
func (r *Runner) Resolve(ctx context.Context) (*Result, error) {
	if err := r.checkPrep(ctx); err != nil {
		return nil, err
	}
	res, err := r.Prepare(ctx)
	if err != nil {
		return nil, err
	}

	o, err := r.buildOracle(res.Header)
	if err != nil {
		return nil, err
	}

	err = r.stage(ctx, StageClosure, func(ctx context.Context) error {
		cr, err := closure.Resolve(ctx, res.Registry.SourceTable(), res.Target, o)
		if err != nil {
			return err
		}
		res.Closure = cr
		observability.RecordResolution(trace.SpanFromContext(ctx), res.Target.String(), len(cr.Files), len(cr.Reached))
		for _, key := range cr.Reached {
			r.log.WithFields(logrus.Fields{"key": key.String(), "deps": joinKeys(cr.Edges[key])}).Debug("dependencies")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = r.stage(ctx, StageInitOrder, func(ctx context.Context) error {
		seq, err := initorder.Compute(res.Closure.Edges, res.Registry)
		if err != nil {
			return err
		}
		res.Sequence = seq
		observability.RecordInitOrder(trace.SpanFromContext(ctx), len(seq.InitOnce), len(seq.InitEach))
		return nil
	})
	if err != nil {
		return nil, err
	}

	res.Graph = depgraph.Analyze(res.Closure, res.Registry, res.Sequence)
	r.observeResult(res)
	r.oracle = o
	return res, nil
}

func (r *Runner) observeResult(res *Result) {
	nodes, files := len(res.Closure.Reached), len(res.Closure.Files)
	once, each := len(res.Sequence.InitOnce), len(res.Sequence.InitEach)
	if r.recorder != nil {
		r.recorder.SetClosure(nodes, files)
		r.recorder.SetInitOrder(once, each)
	}
	if r.report != nil {
		r.report.Closure.Nodes = nodes
		r.report.Closure.Leaves = len(res.Closure.Leaves)
		r.report.Closure.Files = files
		r.report.Init = metrics.InitMetrics{Once: once, Each: each}
	}
}

// Run resolves and then writes every configured output. Outputs are only
// written once every earlier stage succeeded.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	res, err := r.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.stage(ctx, StageEmit, func(ctx context.Context) error { return r.emit(ctx, res) }); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Runner) emit(ctx context.Context, res *Result) error {
	added := func(path string) {
		res.Outputs = append(res.Outputs, path)
		if r.report != nil {
			r.report.AddOutput(path)
		}
	}

	// The SDK list needs the oracle, so it is computed before anything is
	// written.
	var sdk []ir.BindingKey
	if r.cfg.SDK != "" {
		decl, ok := res.Registry.Declaration(res.Target)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoTargetHeader, res.Target)
		}
		keys, err := r.oracle.Discover(ctx, []string{decl.Header})
		if err != nil {
			return fmt.Errorf("sdk headers: %w", err)
		}
		sdk = keys
	}

	res.Mode = output.DetectMode(r.fs, r.cfg.Output)
	switch res.Mode {
	case output.ModeDirectory:
		headers := make(map[ir.BindingKey]string)
		for key := range res.Closure.Edges {
			if d, ok := res.Registry.Declaration(key); ok {
				headers[key] = d.Header
			}
		}
		plan := output.Plan(res.Closure.Files, headers)
		for _, c := range plan {
			r.log.WithFields(logrus.Fields{"src": c.Src, "dst": filepath.Join(r.cfg.Output, c.Name)}).Debug("copying")
		}
		if err := output.CopyAll(r.fs, r.cfg.Output, plan); err != nil {
			return err
		}
		added(r.cfg.Output)
	default:
		if err := output.WriteList(r.fs, r.cfg.Output, res.Closure.Files); err != nil {
			return err
		}
		added(r.cfg.Output)
	}

	if path := r.cfg.Init.Source; path != "" {
		src, err := bootstrap.Render(res.Target.String(), res.Sequence, bootstrap.Options{
			OnceName: r.cfg.Init.OnceName,
			EachName: r.cfg.Init.EachName,
		})
		if err != nil {
			return err
		}
		if err := output.WriteFileAtomic(r.fs, path, src, 0o644); err != nil {
			return err
		}
		added(path)
	}

	if r.cfg.SDK != "" {
		if err := output.WriteSDK(r.fs, r.cfg.SDK, sdk); err != nil {
			return err
		}
		added(r.cfg.SDK)
	}

	if r.graph != nil {
		if err := r.graph.StoreGraph(ctx, res.Graph); err != nil {
			return fmt.Errorf("store binding graph: %w", err)
		}
	}
	return nil
}

// checkPrep validates the preprocessor command, and self-tests it unless
// disabled. It runs before anything is written.
func (r *Runner) checkPrep(ctx context.Context) error {
	if r.oracle != nil {
		return nil
	}
	if r.cfg.Oracle.SkipCheck {
		return oracle.ValidateTemplate(r.cfg.Prep)
	}
	return oracle.SelfTest(ctx, r.cfg.Prep, r.cfg.Oracle.Shell)
}

func (r *Runner) buildOracle(header string) (oracle.Oracle, error) {
	if r.oracle != nil {
		return r.oracle, nil
	}
	var obs observers
	if r.recorder != nil {
		obs = append(obs, r.recorder)
	}
	if r.report != nil {
		obs = append(obs, r.report)
	}
	return oracle.NewPreprocessor(oracle.Config{
		Template:  r.cfg.Prep,
		Header:    header,
		Shell:     r.cfg.Oracle.Shell,
		CacheSize: r.cfg.Oracle.CacheSize,
		Observer:  obs,
		Logger:    r.log,
	})
}

type observers []oracle.Observer

func (o observers) ObservePreprocess(source string, d time.Duration, err error) {
	for _, x := range o {
		x.ObservePreprocess(source, d, err)
	}
}

func joinKeys(keys []ir.BindingKey) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k.String()
	}
	return strings.Join(parts, ",")
}
