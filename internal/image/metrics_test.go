package image

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qxebear/upload-pics/internal/config"
)

func TestNewPrometheusObserverReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first, err := NewPrometheusObserver("uploads", reg)
	require.NoError(t, err)
	second, err := NewPrometheusObserver("uploads", reg)
	require.NoError(t, err)

	assert.Same(t, first.duration, second.duration)
	assert.Same(t, first.failures, second.failures)
	assert.Same(t, first.rejected, second.rejected)
	assert.Same(t, first.fetches, second.fetches)
	assert.Equal(t, first.bytes, second.bytes)
	assert.Equal(t, first.reconciled, second.reconciled)
}

func TestNewPrometheusObserverConflictingMetric(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "uploads",
		Name:      "bytes_total",
		Help:      "Something else entirely.",
	}))

	_, err := NewPrometheusObserver("uploads", reg)

	assert.ErrorContains(t, err, "register upload metric")
}

func TestRejectReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrNoFile, "no_file"},
		{ErrInvalidTTL, "invalid_ttl"},
		{ErrLimitReached, "limit_reached"},
		{fmt.Errorf("wrapped: %w", ErrDuplicateFilename), "duplicate_filename"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, rejectReason(tt.err), tt.err.Error())
	}
}

func TestObserverCountsUploadOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs, err := NewPrometheusObserver("uploads", reg)
	require.NoError(t, err)

	f := newFixture(t, func(c *config.Config) { c.MaxUploads = 2 })
	f.svc.observer = obs
	ctx := context.Background()

	f.upload(t, "a.png", "")
	_, err = f.svc.Upload(ctx, UploadInput{Filename: "a.png", Data: pngHeader})
	require.ErrorIs(t, err, ErrDuplicateFilename)
	_, err = f.svc.Upload(ctx, UploadInput{Filename: "x.png", Data: pngHeader, TTL: "later"})
	require.ErrorIs(t, err, ErrInvalidTTL)
	f.upload(t, "b.png", "")
	_, err = f.svc.Upload(ctx, UploadInput{Filename: "c.png", Data: pngHeader})
	require.ErrorIs(t, err, ErrLimitReached)

	assert.Equal(t, float64(2*len(pngHeader)), testutil.ToFloat64(obs.bytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.rejected.WithLabelValues("limit_reached")))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.rejected.WithLabelValues("duplicate_filename")))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.rejected.WithLabelValues("invalid_ttl")))
	assert.Zero(t, testutil.ToFloat64(obs.failures.WithLabelValues("upload")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "uploads_rejected_total")
	assert.Contains(t, names, "uploads_bytes_total")
	assert.Contains(t, names, "uploads_operation_duration_seconds")
}

func TestObserverCountsReconcileFetchAndFailures(t *testing.T) {
	obs, err := NewPrometheusObserver("uploads", prometheus.NewRegistry())
	require.NoError(t, err)

	f := newFixture(t)
	f.svc.observer = obs
	ctx := context.Background()

	f.upload(t, "keep.png", "")
	f.upload(t, "short.png", "5")
	f.mr.FastForward(6 * time.Second)

	_, err = f.svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.reconciled))

	_, err = f.svc.Fetch(ctx, "keep.png", Conditions{})
	require.NoError(t, err)
	_, err = f.svc.Fetch(ctx, "short.png", Conditions{})
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.fetches.WithLabelValues(FetchServed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.fetches.WithLabelValues(FetchNotFound)))

	f.mr.Close()
	require.Error(t, f.svc.Delete(ctx, "any"))
	_, err = f.svc.Upload(ctx, UploadInput{Filename: "n.png", Data: pngHeader})
	require.ErrorIs(t, err, ErrStoreUnavailable)

	assert.Equal(t, 1.0, testutil.ToFloat64(obs.failures.WithLabelValues("delete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.failures.WithLabelValues("upload")))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.failures.WithLabelValues("reconcile")))
}

func TestNilPrometheusObserverIsSafe(t *testing.T) {
	var o *PrometheusObserver

	assert.NotPanics(t, func() {
		o.RecordUpload(time.Second, 10, nil)
		o.RecordDelete(time.Second, ErrStoreUnavailable)
		o.RecordReconcile(time.Second, 3, nil)
		o.RecordFetch(FetchServed)
	})
}
