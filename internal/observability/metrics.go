package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds the Prometheus collectors of one resolver run. It uses a
// private registry so runs in the same process never share counters.
type Recorder struct {
	registry *prometheus.Registry

	preprocessTotal    prometheus.Counter
	preprocessFailures prometheus.Counter
	preprocessDuration prometheus.Histogram
	stageDuration      *prometheus.HistogramVec
	closureNodes       prometheus.Gauge
	emittedFiles       prometheus.Gauge
	initCtors          *prometheus.GaugeVec
}

// NewRecorder creates and registers all collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		preprocessTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fxdj_preprocess_total",
			Help: "Number of preprocessor invocations.",
		}),
		preprocessFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fxdj_preprocess_failures_total",
			Help: "Number of failed preprocessor invocations.",
		}),
		preprocessDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fxdj_preprocess_duration_seconds",
			Help:    "Time spent in one preprocessor invocation.",
			Buckets: prometheus.DefBuckets,
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fxdj_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		closureNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fxdj_closure_nodes",
			Help: "Binding keys reached by the dependency closure.",
		}),
		emittedFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fxdj_emitted_source_files",
			Help: "Source files emitted for the target.",
		}),
		initCtors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fxdj_init_ctors",
			Help: "Constructors in the initialization sequence by scope.",
		}, []string{"scope"}),
	}
	r.registry.MustRegister(
		r.preprocessTotal,
		r.preprocessFailures,
		r.preprocessDuration,
		r.stageDuration,
		r.closureNodes,
		r.emittedFiles,
		r.initCtors,
	)
	return r
}

// ObservePreprocess records one preprocessor invocation.
func (r *Recorder) ObservePreprocess(_ string, d time.Duration, err error) {
	r.preprocessTotal.Inc()
	if err != nil {
		r.preprocessFailures.Inc()
	}
	r.preprocessDuration.Observe(d.Seconds())
}

// ObserveStage records the duration of a pipeline stage.
func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// SetClosure records the size of the closure result.
func (r *Recorder) SetClosure(nodes, files int) {
	r.closureNodes.Set(float64(nodes))
	r.emittedFiles.Set(float64(files))
}

// SetInitOrder records constructor counts; once includes each-cpu ctors.
func (r *Recorder) SetInitOrder(once, each int) {
	r.initCtors.WithLabelValues("once").Set(float64(once))
	r.initCtors.WithLabelValues("each").Set(float64(each))
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile writes all metrics in the node-exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
