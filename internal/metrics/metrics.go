package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kpi-alerts/internal/detector"
	"kpi-alerts/internal/report"
)

const (
	// OutcomeDelivered labels a batch handed to every notifier.
	OutcomeDelivered = "delivered"
	// OutcomeFailed labels a batch at least one notifier rejected.
	OutcomeFailed = "failed"
	// OutcomeSuppressed labels a batch identical to the last delivered one.
	OutcomeSuppressed = "suppressed"
)

const namespace = "kpiwatch"

var (
	evaluationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Total number of evaluation passes.",
		},
	)

	anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Anomalies emitted, partitioned by severity and direction.",
		},
		[]string{"severity", "direction"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification batches, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	evaluationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_seconds",
			Help:      "Duration of one evaluation pass in seconds.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	invalidDates = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "invalid_dates",
			Help:      "Rows whose date did not parse in the last pass.",
		},
	)

	duplicateKeys = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "duplicate_keys",
			Help:      "Repeated (date, metric) pairs in the last pass.",
		},
	)
)

// Register attaches kpiwatch collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		evaluationsTotal,
		anomaliesTotal,
		notificationsTotal,
		evaluationSeconds,
		invalidDates,
		duplicateKeys,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveEvaluation records one evaluation pass.
func ObserveEvaluation(duration time.Duration, anomalies []detector.Anomaly, quality report.Quality) {
	evaluationsTotal.Inc()
	if duration < 0 {
		duration = 0
	}
	evaluationSeconds.Observe(duration.Seconds())
	for _, a := range anomalies {
		anomaliesTotal.WithLabelValues(string(a.Severity), string(a.Direction)).Inc()
	}
	invalidDates.Set(float64(quality.InvalidCount))
	duplicateKeys.Set(float64(quality.DuplicateCount))
}

// ObserveNotification counts one notification batch outcome.
func ObserveNotification(outcome string) {
	switch outcome {
	case OutcomeDelivered, OutcomeSuppressed:
	default:
		outcome = OutcomeFailed
	}
	notificationsTotal.WithLabelValues(outcome).Inc()
}

// Handler exposes the gatherer over HTTP.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
