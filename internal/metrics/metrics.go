// Package metrics collects a per-run report of a resolution.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
)

var (
	titleColor = color.New(color.FgCyan, color.Bold)
	valueColor = color.New(color.FgCyan)
	okColor    = color.New(color.FgGreen)
	failColor  = color.New(color.FgRed)
	grayColor  = color.New(color.Faint)
)

// RunMetrics collects statistics for a full resolution run.
type RunMetrics struct {
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at,omitempty"`
	Duration   time.Duration  `json:"duration_ms,omitempty"`
	Target     string         `json:"target"`
	Scan       ScanMetrics    `json:"scan"`
	Closure    ClosureMetrics `json:"closure"`
	Init       InitMetrics    `json:"init"`
	Stages     []StageMetrics `json:"stages"`
	Outputs    []string       `json:"outputs,omitempty"`
	Errors     []string       `json:"errors,omitempty"`
}

type ScanMetrics struct {
	Roots           int `json:"roots"`
	Headers         int `json:"headers"`
	Sources         int `json:"sources"`
	Declarations    int `json:"declarations"`
	Implementations int `json:"implementations"`
	Ctors           int `json:"ctors"`
	Aliases         int `json:"aliases"`
	Unbound         int `json:"unbound"`
}

type ClosureMetrics struct {
	Nodes           int `json:"nodes"`
	Leaves          int `json:"leaves"`
	Files           int `json:"files"`
	Preprocessed    int `json:"preprocessed"`
	PreprocessFails int `json:"preprocess_failures"`
}

type InitMetrics struct {
	Once int `json:"init_once"`
	Each int `json:"init_each"`
}

type StageMetrics struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration_ms"`
	Failed   bool          `json:"failed,omitempty"`
}

// New starts tracking a run.
func New(target string) *RunMetrics {
	return &RunMetrics{StartedAt: time.Now(), Target: target}
}

// AddStage records a single stage's timing and status.
func (m *RunMetrics) AddStage(name string, d time.Duration, err error) {
	m.Stages = append(m.Stages, StageMetrics{Name: name, Duration: d, Failed: err != nil})
}

// ObservePreprocess counts oracle invocations.
func (m *RunMetrics) ObservePreprocess(_ string, _ time.Duration, err error) {
	m.Closure.Preprocessed++
	if err != nil {
		m.Closure.PreprocessFails++
	}
}

// AddOutput records a written file.
func (m *RunMetrics) AddOutput(path string) {
	m.Outputs = append(m.Outputs, path)
}

// Finish marks the run as complete.
func (m *RunMetrics) Finish(err error) {
	m.FinishedAt = time.Now()
	m.Duration = m.FinishedAt.Sub(m.StartedAt)
	if err != nil {
		m.Errors = append(m.Errors, err.Error())
	}
}

// OK reports whether the run finished without errors.
func (m *RunMetrics) OK() bool { return len(m.Errors) == 0 }

// PrintSummary writes a human-readable summary.
func (m *RunMetrics) PrintSummary(w io.Writer) {
	line := grayColor.Sprint("╠══════════════════════════════════════╣")
	fmt.Fprintf(w, "\n%s\n", grayColor.Sprint("╔══════════════════════════════════════╗"))
	fmt.Fprintf(w, "║ %s ║\n", titleColor.Sprintf("%-36s", "FX-DJ RESOLUTION REPORT"))
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "║ Target:      %s\n", valueColor.Sprint(m.Target))
	fmt.Fprintf(w, "║ Duration:    %s\n", valueColor.Sprint(m.Duration.Round(time.Millisecond)))
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "║ SCAN\n")
	fmt.Fprintf(w, "║   Roots:         %d\n", m.Scan.Roots)
	fmt.Fprintf(w, "║   Headers:       %d\n", m.Scan.Headers)
	fmt.Fprintf(w, "║   Sources:       %d\n", m.Scan.Sources)
	fmt.Fprintf(w, "║   Declarations:  %d\n", m.Scan.Declarations)
	fmt.Fprintf(w, "║   Implemented:   %d\n", m.Scan.Implementations)
	fmt.Fprintf(w, "║   Ctors:         %d\n", m.Scan.Ctors)
	fmt.Fprintf(w, "║   Aliases:       %d\n", m.Scan.Aliases)
	fmt.Fprintf(w, "║   Unbound:       %d\n", m.Scan.Unbound)
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "║ CLOSURE\n")
	fmt.Fprintf(w, "║   Bindings:      %d (%d leaves)\n", m.Closure.Nodes, m.Closure.Leaves)
	fmt.Fprintf(w, "║   Files:         %d\n", m.Closure.Files)
	fmt.Fprintf(w, "║   Preprocessed:  %d\n", m.Closure.Preprocessed)
	fmt.Fprintf(w, "║   Init once:     %d\n", m.Init.Once)
	fmt.Fprintf(w, "║   Init each:     %d\n", m.Init.Each)
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "║ STAGES\n")
	for _, s := range m.Stages {
		status := okColor.Sprint("OK")
		if s.Failed {
			status = failColor.Sprint("FAILED")
		}
		fmt.Fprintf(w, "║   %-14s %8s  %s\n", s.Name, s.Duration.Round(time.Microsecond), status)
	}
	if len(m.Outputs) > 0 {
		fmt.Fprintln(w, line)
		fmt.Fprintf(w, "║ OUTPUTS\n")
		for _, o := range m.Outputs {
			fmt.Fprintf(w, "║   %s\n", o)
		}
	}
	if len(m.Errors) > 0 {
		fmt.Fprintln(w, line)
		fmt.Fprintf(w, "║ ERRORS\n")
		for _, e := range m.Errors {
			fmt.Fprintf(w, "║   • %s\n", failColor.Sprint(e))
		}
	}
	fmt.Fprintln(w, grayColor.Sprint("╚══════════════════════════════════════╝"))
}

// JSON returns the metrics as formatted JSON.
func (m *RunMetrics) JSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
