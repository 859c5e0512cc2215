package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/efebarandurmaz/fxdj/internal/binding"
	"github.com/efebarandurmaz/fxdj/internal/config"
	"github.com/efebarandurmaz/fxdj/internal/depgraph"
	"github.com/efebarandurmaz/fxdj/internal/graph"
	"github.com/efebarandurmaz/fxdj/internal/graph/neo4j"
	"github.com/efebarandurmaz/fxdj/internal/ir"
	"github.com/efebarandurmaz/fxdj/internal/metrics"
	"github.com/efebarandurmaz/fxdj/internal/observability"
	"github.com/efebarandurmaz/fxdj/internal/oracle"
	"github.com/efebarandurmaz/fxdj/internal/output"
	"github.com/efebarandurmaz/fxdj/internal/pipeline"
)

const version = "1.9.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	logger := newLogger(stderr)
	root := newRootCmd(logger, stdout)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "fxdj: %s\n", oneLine(err))
		return 1
	}
	return 0
}

func oneLine(err error) string {
	return strings.ReplaceAll(strings.TrimSpace(err.Error()), "\n", "; ")
}

type globalFlags struct {
	configPath string
}

func newRootCmd(logger *logrus.Logger, stdout io.Writer) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "fxdj",
		Short:         "Static dependency injection resolver for C build trees",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "YAML config file")
	pf.BoolP("verbose", "v", false, "enable verbose listings (debug logging)")
	pf.String("log-level", "info", "log level")
	pf.String("log-format", "text", "log format: text or json")

	root.AddCommand(
		newResolveCmd(g, logger, stdout),
		newGraphCmd(g, logger, stdout),
		newInterfacesCmd(g, logger, stdout),
		newCheckPrepCmd(g, logger, stdout),
		newDepsCmd(g, logger, stdout),
	)
	return root
}

// addSourceFlags registers the flags every command that scans sources needs.
func addSourceFlags(fs *pflag.FlagSet) {
	fs.StringP("paths", "p", "", "comma separated interface source paths")
	fs.StringP("alias", "a", "", "default interface to implementation mapping")
	fs.StringSlice("exclude", nil, "glob patterns of files to skip, relative to each path")
}

// addTargetFlags registers the flags of commands that resolve a target.
func addTargetFlags(fs *pflag.FlagSet) {
	addSourceFlags(fs)
	fs.StringP("target", "t", "", "target interface to be built")
	fs.StringP("binding-header", "m", "map.tmp", "common header for dependency injection (must be included in sources)")
	fs.StringP("include-dir", "I", "", "base folder for include paths in the generated header")
	fs.String("prep", "", "preprocessor command, two %s slots: header, source (default $FX_PREP)")
	fs.Bool("no-prep-check", false, "skip the preprocessor self-test")
}

func loadConfig(cmd *cobra.Command, g *globalFlags, logger *logrus.Logger) (*config.Config, error) {
	cfg, err := config.Load(g.configPath, cmd.Flags())
	if err != nil {
		return nil, err
	}
	setupLogger(logger, cfg)
	for _, w := range cfg.Validate() {
		logger.Warn(w)
	}
	return cfg, nil
}

func initTracing(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) func() {
	tc := observability.DefaultTracingConfig()
	tc.ServiceVersion = version
	tc.OTLPEndpoint = cfg.Tracing.Endpoint
	tc.SampleRate = cfg.Tracing.SampleRate
	tp, err := observability.InitTracing(ctx, tc)
	if err != nil {
		logger.WithError(err).Warn("tracing disabled")
		return func() {}
	}
	return func() {
		if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.WithError(err).Debug("tracer shutdown")
		}
	}
}

func openGraph(ctx context.Context, cfg *config.Config) (graph.Repository, error) {
	if cfg.Graph.URI == "" {
		return nil, nil
	}
	return neo4j.NewNeo4j(ctx, cfg.Graph.URI, cfg.Graph.Username, cfg.Graph.Password)
}

func newResolveCmd(g *globalFlags, logger *logrus.Logger, stdout io.Writer) *cobra.Command {
	var (
		jsonReport  bool
		printReport bool
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a target interface and emit its build sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(cmd, g, logger)
			if err != nil {
				return err
			}
			if err := cfg.Check(); err != nil {
				return err
			}
			defer initTracing(ctx, cfg, logger)()

			repo, err := openGraph(ctx, cfg)
			if err != nil {
				return err
			}
			if repo != nil {
				defer repo.Close(context.WithoutCancel(ctx))
			}

			report := metrics.New(cfg.Target)
			rec := observability.NewRecorder()
			runner, err := pipeline.New(pipeline.Options{
				Config:   cfg,
				Fs:       afero.NewOsFs(),
				Logger:   logger,
				Recorder: rec,
				Report:   report,
				Graph:    repo,
			})
			if err != nil {
				return err
			}

			res, err := runner.Run(ctx)
			report.Finish(err)
			if jsonReport {
				if data, jerr := report.JSON(); jerr == nil {
					fmt.Fprintln(stdout, string(data))
				}
			} else if printReport {
				report.PrintSummary(stdout)
			}
			if err != nil {
				return err
			}

			if cfg.MetricsFile != "" {
				if err := rec.WriteTextfile(cfg.MetricsFile); err != nil {
					return err
				}
			}
			if !jsonReport {
				fmt.Fprintf(stdout, "Done. Output: %d source files.\n", len(res.Closure.Files))
			}
			return nil
		},
	}
	fs := cmd.Flags()
	addTargetFlags(fs)
	fs.StringP("output", "o", "sources", "list of sources to be built, or an existing directory to copy them into")
	fs.StringP("sdk", "l", "", "write the interface names reachable from the target header")
	fs.String("init-source", "", "write the generated initializer C source here")
	fs.String("once-name", "fx_dj_init_once", "name of the run-once initializer entry point")
	fs.String("each-name", "fx_dj_init_each", "name of the per-cpu initializer entry point")
	fs.String("metrics-file", "", "write Prometheus metrics in text format here")
	fs.String("graph-uri", "", "store the binding graph in this Neo4j database")
	fs.BoolVar(&jsonReport, "json", false, "print the run report as JSON")
	fs.BoolVar(&printReport, "report", false, "print a run summary")
	return cmd
}

func newGraphCmd(g *globalFlags, logger *logrus.Logger, stdout io.Writer) *cobra.Command {
	var (
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Export the resolved binding graph of a target",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(cmd, g, logger)
			if err != nil {
				return err
			}
			if err := cfg.Check(); err != nil {
				return err
			}
			defer initTracing(ctx, cfg, logger)()

			fs := afero.NewOsFs()
			runner, err := pipeline.New(pipeline.Options{Config: cfg, Fs: fs, Logger: logger})
			if err != nil {
				return err
			}
			res, err := runner.Resolve(ctx)
			if err != nil {
				return err
			}
			data, err := depgraph.Export(res.Graph, depgraph.Format(format))
			if err != nil {
				return err
			}
			if out == "" {
				_, err = stdout.Write(data)
				return err
			}
			return output.WriteFileAtomic(fs, out, data, 0o644)
		},
	}
	fs := cmd.Flags()
	addTargetFlags(fs)
	fs.StringVarP(&format, "format", "f", "stats", "export format: dot, mermaid, json or stats")
	fs.StringVar(&out, "out", "", "write the export to a file instead of stdout")
	return cmd
}

func newInterfacesCmd(g *globalFlags, logger *logrus.Logger, stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "interfaces",
		Short: "List declared interfaces and their default bindings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g, logger)
			if err != nil {
				return err
			}
			if len(cfg.Roots()) == 0 {
				return errors.New("no source paths given (-p)")
			}
			runner, err := pipeline.New(pipeline.Options{Config: cfg, Fs: afero.NewOsFs(), Logger: logger})
			if err != nil {
				return err
			}
			res, err := runner.Inventory(cmd.Context())
			if err != nil {
				return err
			}
			printInterfaces(stdout, res)
			return nil
		},
	}
	addSourceFlags(cmd.Flags())
	return cmd
}

func printInterfaces(w io.Writer, res *pipeline.Result) {
	defaults := make(map[string]binding.Binding, len(res.Defaults))
	for _, b := range res.Defaults {
		defaults[b.Interface] = b
	}

	fmt.Fprintf(w, "%-28s %-10s %-20s %s\n", "BINDING", "DEFAULT", "CTOR", "HEADER")
	for _, d := range res.Registry.Declarations() {
		mark := ""
		if b, ok := defaults[d.Key.Interface]; ok && b.Implementation == d.Key.Implementation {
			mark = string(b.Source)
		}
		ctor := "-"
		if d.Ctor != nil {
			ctor = d.Ctor.Name + "@" + string(d.Ctor.Scope)
		}
		fmt.Fprintf(w, "%-28s %-10s %-20s %s\n", d.Key, mark, ctor, d.Header)
	}
	if len(res.Unbound) > 0 {
		fmt.Fprintf(w, "\nNo default binding: %s\n", strings.Join(res.Unbound, ", "))
	}
}

func newCheckPrepCmd(g *globalFlags, logger *logrus.Logger, stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-prep",
		Short: "Check that the preprocessor command expands macros",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g, logger)
			if err != nil {
				return err
			}
			if err := oracle.SelfTest(cmd.Context(), cfg.Prep, cfg.Oracle.Shell); err != nil {
				return err
			}
			fmt.Fprintln(stdout, "Preprocessor OK")
			return nil
		},
	}
	cmd.Flags().String("prep", "", "preprocessor command, two %s slots: header, source (default $FX_PREP)")
	return cmd
}

func newDepsCmd(g *globalFlags, logger *logrus.Logger, stdout io.Writer) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "deps TARGET [BINDING]",
		Short: "Query a binding graph stored by resolve --graph-uri",
		Long: "Export the stored graph of TARGET (Interface:Implementation), or list\n" +
			"the bindings BINDING depends on within it.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(cmd, g, logger)
			if err != nil {
				return err
			}
			if cfg.Graph.URI == "" {
				return errors.New("no graph database given (--graph-uri)")
			}
			repo, err := openGraph(ctx, cfg)
			if err != nil {
				return err
			}
			defer repo.Close(context.WithoutCancel(ctx))
			return queryStored(ctx, repo, args, depgraph.Format(format), stdout)
		},
	}
	cmd.Flags().String("graph-uri", "", "Neo4j database holding stored binding graphs")
	cmd.Flags().StringVarP(&format, "format", "f", "stats", "export format: dot, mermaid, json or stats")
	return cmd
}

// queryStored answers a deps query against repo. args[0] is the target
// key; an optional args[1] narrows the answer to that binding's dependencies.
func queryStored(ctx context.Context, repo graph.Repository, args []string, format depgraph.Format, w io.Writer) error {
	target, err := ir.ParseKey(args[0])
	if err != nil {
		return err
	}

	if len(args) == 1 {
		bg, err := repo.LoadGraph(ctx, target.String())
		if err != nil {
			return err
		}
		data, err := depgraph.Export(bg, format)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}

	key, err := ir.ParseKey(args[1])
	if err != nil {
		return err
	}
	deps, err := repo.QueryDependencies(ctx, target.String(), key.String())
	if err != nil {
		return err
	}
	for _, d := range deps {
		fmt.Fprintln(w, d)
	}
	return nil
}
