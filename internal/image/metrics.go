package image

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Fetch outcomes reported to Observer.RecordFetch.
const (
	FetchServed      = "served"
	FetchNotModified = "not_modified"
	FetchNotFound    = "not_found"
	FetchFailed      = "error"
)

// Observer captures telemetry for upload lifecycle operations.
type Observer interface {
	RecordUpload(duration time.Duration, sizeBytes int, err error)
	RecordDelete(duration time.Duration, err error)
	RecordReconcile(duration time.Duration, removed int, err error)
	RecordFetch(outcome string)
}

type nopObserver struct{}

func (nopObserver) RecordUpload(time.Duration, int, error)    {}
func (nopObserver) RecordDelete(time.Duration, error)         {}
func (nopObserver) RecordReconcile(time.Duration, int, error) {}
func (nopObserver) RecordFetch(string)                        {}

// PrometheusObserver exports upload lifecycle metrics to Prometheus.
type PrometheusObserver struct {
	duration   *prometheus.HistogramVec
	failures   *prometheus.CounterVec
	rejected   *prometheus.CounterVec
	bytes      prometheus.Counter
	reconciled prometheus.Counter
	fetches    *prometheus.CounterVec
}

// NewPrometheusObserver registers upload/delete/reconcile/fetch metrics.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "uploads"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	var err error
	o := &PrometheusObserver{}
	if o.duration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Latency for upload, delete and reconcile operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})); err != nil {
		return nil, err
	}
	if o.failures, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operation_errors_total",
		Help:      "Operations that failed on the store.",
	}, []string{"operation"})); err != nil {
		return nil, err
	}
	if o.rejected, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rejected_total",
		Help:      "Uploads refused by validation, by reason.",
	}, []string{"reason"})); err != nil {
		return nil, err
	}
	if o.bytes, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bytes_total",
		Help:      "Cumulative payload size of accepted uploads.",
	})); err != nil {
		return nil, err
	}
	if o.reconciled, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciled_entries_total",
		Help:      "Index entries pruned because their blob was gone.",
	})); err != nil {
		return nil, err
	}
	if o.fetches, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetches_total",
		Help:      "Public image fetches by outcome.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	return o, nil
}

// register adds c to reg, reusing an identical collector that is already there.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register upload metric: %w", err)
	}
	return c, nil
}

// RecordUpload tracks upload duration, size, rejections and failures.
func (o *PrometheusObserver) RecordUpload(duration time.Duration, sizeBytes int, err error) {
	if o == nil {
		return
	}
	o.duration.WithLabelValues("upload").Observe(duration.Seconds())
	switch {
	case err == nil:
		o.bytes.Add(float64(sizeBytes))
	case errors.Is(err, ErrStoreUnavailable):
		o.failures.WithLabelValues("upload").Inc()
	default:
		o.rejected.WithLabelValues(rejectReason(err)).Inc()
	}
}

// RecordDelete tracks delete duration and store failures.
func (o *PrometheusObserver) RecordDelete(duration time.Duration, err error) {
	if o == nil {
		return
	}
	o.duration.WithLabelValues("delete").Observe(duration.Seconds())
	if errors.Is(err, ErrStoreUnavailable) {
		o.failures.WithLabelValues("delete").Inc()
	}
}

// RecordReconcile tracks reconciliation duration and pruned entries.
func (o *PrometheusObserver) RecordReconcile(duration time.Duration, removed int, err error) {
	if o == nil {
		return
	}
	o.duration.WithLabelValues("reconcile").Observe(duration.Seconds())
	if err != nil {
		o.failures.WithLabelValues("reconcile").Inc()
		return
	}
	o.reconciled.Add(float64(removed))
}

// RecordFetch counts a public fetch by outcome.
func (o *PrometheusObserver) RecordFetch(outcome string) {
	if o == nil {
		return
	}
	o.fetches.WithLabelValues(outcome).Inc()
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrNoFile):
		return "no_file"
	case errors.Is(err, ErrInvalidTTL):
		return "invalid_ttl"
	case errors.Is(err, ErrLimitReached):
		return "limit_reached"
	case errors.Is(err, ErrDuplicateFilename):
		return "duplicate_filename"
	default:
		return "other"
	}
}
