// Package metrics exposes pipeline counters and gauges to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/relabs-tech/rideiq/internal/score"
)

const namespace = "rideiq"

// Recorder records tracker and transport activity.
type Recorder struct {
	samplesIngested prometheus.Counter
	sourceErrors    prometheus.Counter
	snapshotsDrop   prometheus.Counter
	publishErrors   *prometheus.CounterVec
	windowSamples   prometheus.Gauge
	state           *prometheus.GaugeVec
	scores          *prometheus.GaugeVec
	rms             *prometheus.GaugeVec
	tickDuration    prometheus.Histogram
}

// New registers the recorder's collectors on reg.
// Pass prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		samplesIngested: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_ingested_total",
			Help:      "Total number of samples appended to the window",
		}),
		sourceErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "motion_source_errors_total",
			Help:      "Ticks skipped because the motion source had no frame",
		}),
		snapshotsDrop: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_dropped_total",
			Help:      "Snapshots not delivered to a slow subscriber",
		}),
		publishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Failed publishes by transport",
		}, []string{"transport"}),
		windowSamples: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_samples",
			Help:      "Samples currently held in the scoring window",
		}),
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracker_state",
			Help:      "1 for the current tracker state, 0 otherwise",
		}, []string{"state"}),
		scores: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "score",
			Help:      "Current ride quality score per axis (0-10)",
		}, []string{"axis"}),
		rms: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rms_magnitude",
			Help:      "Windowed RMS magnitude per axis",
		}, []string{"axis"}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent sampling, aggregating and scoring one tick",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
	}
}

// SampleIngested counts one sample added to the window.
func (r *Recorder) SampleIngested() { r.samplesIngested.Inc() }

// SourceError counts one tick skipped for lack of motion data.
func (r *Recorder) SourceError() { r.sourceErrors.Inc() }

// SnapshotDropped counts one snapshot a subscriber did not receive.
func (r *Recorder) SnapshotDropped() { r.snapshotsDrop.Inc() }

// PublishError counts a failed publish on transport.
func (r *Recorder) PublishError(transport string) {
	r.publishErrors.WithLabelValues(transport).Inc()
}

// ObserveTick records the duration of one tick.
func (r *Recorder) ObserveTick(d time.Duration) { r.tickDuration.Observe(d.Seconds()) }

// SetWindow records the window length.
func (r *Recorder) SetWindow(n int) { r.windowSamples.Set(float64(n)) }

// SetState marks state as current among states.
func (r *Recorder) SetState(current string, states ...string) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		r.state.WithLabelValues(s).Set(v)
	}
}

// SetScores records the latest magnitudes and scores.
func (r *Recorder) SetScores(m score.Magnitudes, t score.Triple) {
	r.rms.WithLabelValues("lateral").Set(m.Lateral)
	r.rms.WithLabelValues("vertical").Set(m.Vertical)
	r.rms.WithLabelValues("rotation").Set(m.Rotation)
	r.scores.WithLabelValues("smoothness").Set(t.Smoothness)
	r.scores.WithLabelValues("stability").Set(t.Stability)
	r.scores.WithLabelValues("steadiness").Set(t.Steadiness)
}
