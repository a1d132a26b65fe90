package metrics

import (
	"strings"
	"time"

	"github.com/greeddj/dagger-cache/internal/dagger/helpers"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricLabelPhase  = "phase"
	metricLabelResult = "result"
	metricLabelStep   = "step"
)

// Recorder collects the metrics of one lifecycle phase. A nil Recorder
// ignores every call.
type Recorder struct {
	registry *prometheus.Registry
	latency  *LatencyTracker

	results      *prometheus.CounterVec
	cacheHit     prometheus.Gauge
	archiveBytes prometheus.Gauge
	volumeBytes  prometheus.Gauge
	stepDuration *prometheus.SummaryVec
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		latency:  NewLatencyTracker(helpers.MetricsRelativeAccuracy),
	}
	r.results = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: helpers.MetricsNamespace,
		Name:      "phase_result_count",
		Help:      "Outcome of restore and persist phases",
	}, []string{metricLabelPhase, metricLabelResult})
	r.cacheHit = r.newGauge("cache_hit", "1 when restore hydrated the engine volume from the cache")
	r.archiveBytes = r.newGauge("archive_bytes", "Size of the archive fetched or saved")
	r.volumeBytes = r.newGauge("volume_bytes", "Disk usage of the engine state volume")
	r.stepDuration = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: helpers.MetricsNamespace,
		Name:      "step_duration_seconds",
		Help:      "Duration of each lifecycle step",
	}, []string{metricLabelStep})
	r.registry.MustRegister(r.results, r.cacheHit, r.archiveBytes, r.volumeBytes, r.stepDuration)
	return r
}

func (r *Recorder) newGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: helpers.MetricsNamespace,
		Name:      name,
		Help:      help,
	})
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Result counts a phase outcome such as "hit", "miss", "saved" or a skip reason.
func (r *Recorder) Result(phase, result string) {
	if r == nil {
		return
	}
	r.results.WithLabelValues(phase, result).Inc()
}

// CacheHit records whether restore found an archive.
func (r *Recorder) CacheHit(hit bool) {
	if r == nil {
		return
	}
	if hit {
		r.cacheHit.Set(1)
		return
	}
	r.cacheHit.Set(0)
}

// ArchiveBytes records the archive size.
func (r *Recorder) ArchiveBytes(n int64) {
	if r == nil {
		return
	}
	r.archiveBytes.Set(float64(n))
}

// VolumeBytes records the engine volume size.
func (r *Recorder) VolumeBytes(n uint64) {
	if r == nil {
		return
	}
	r.volumeBytes.Set(float64(n))
}

// Observe records how long step took.
func (r *Recorder) Observe(step string, d time.Duration) {
	if r == nil {
		return
	}
	r.stepDuration.WithLabelValues(step).Observe(d.Seconds())
	r.latency.Record(step, d)
}

// Time runs fn and records its duration under step.
func (r *Recorder) Time(step string, fn func() error) error {
	start := time.Now()
	err := fn()
	r.Observe(step, time.Since(start))
	return err
}

// Summary returns one line per recorded step.
func (r *Recorder) Summary() []string {
	if r == nil {
		return nil
	}
	stats := r.latency.GetAllStats()
	lines := make([]string, 0, len(stats))
	for _, s := range stats {
		lines = append(lines, s.String())
	}
	return lines
}

// WriteTextfile writes the metrics in the node exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || strings.TrimSpace(path) == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
