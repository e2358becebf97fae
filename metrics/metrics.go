package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tourgraph/models"
)

var (
	// Catalog API
	CatalogRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourgraph_catalog_requests_total",
			Help: "Catalog API requests by endpoint and HTTP status",
		},
		[]string{"endpoint", "status"},
	)

	CatalogRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tourgraph_catalog_request_duration_seconds",
			Help:    "Catalog API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	CatalogRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourgraph_catalog_retries_total",
			Help: "Retries issued against the catalog API",
		},
		[]string{"endpoint"},
	)

	CatalogThrottlePauses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourgraph_catalog_throttle_pauses_total",
			Help: "Pauses taken because of quota or pacing",
		},
		[]string{"reason"}, // "quota", "pacing"
	)

	// Sync
	SyncListings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourgraph_sync_listings_total",
			Help: "Listings classified during sync by outcome",
		},
		[]string{"outcome"}, // "new", "changed", "unchanged", "missing"
	)

	SyncPartitionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tourgraph_sync_partition_duration_seconds",
			Help:    "Wall time to sync one partition",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	SyncPartitionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourgraph_sync_partition_errors_total",
			Help: "Partitions whose sync failed, by error kind",
		},
		[]string{"kind"},
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tourgraph_sync_last_success_timestamp",
			Help: "Unix time of the last partition synced without error",
		},
	)

	// Store
	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tourgraph_store_query_duration_seconds",
			Help:    "Store operation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourgraph_store_errors_total",
			Help: "Store operation failures",
		},
		[]string{"operation"},
	)

	// Text generation
	TextGenRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourgraph_textgen_requests_total",
			Help: "Text generation calls by result",
		},
		[]string{"result"}, // "ok", "error", "breaker_open"
	)

	// Curation
	HandsDrawn = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tourgraph_hands_drawn_total",
			Help: "Hands produced by the hand selector",
		},
	)

	HandShortfall = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tourgraph_hand_quota_shortfall_total",
			Help: "Slots filled from the random pool because a category ran dry",
		},
	)
)

// RecordCatalogRequest records one catalog round trip. status is 0 when no
// response was received.
func RecordCatalogRequest(endpoint string, status int, duration time.Duration) {
	label := "network_error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	CatalogRequestsTotal.WithLabelValues(endpoint, label).Inc()
	CatalogRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordStoreOp records a store call and its failure, if any.
func RecordStoreOp(operation string, duration time.Duration, err error) {
	StoreQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		StoreErrors.WithLabelValues(operation).Inc()
	}
}

// RecordPartitionSync records the outcome of one partition sync.
func RecordPartitionSync(report models.SyncReport, err error) {
	SyncPartitionDuration.Observe(report.Duration.Seconds())
	SyncListings.WithLabelValues("new").Add(float64(report.New))
	SyncListings.WithLabelValues("changed").Add(float64(report.Changed))
	SyncListings.WithLabelValues("unchanged").Add(float64(report.Unchanged))
	SyncListings.WithLabelValues("missing").Add(float64(report.Missing))
	if err != nil {
		SyncPartitionErrors.WithLabelValues(errorKind(err)).Inc()
		return
	}
	SyncLastSuccess.Set(float64(time.Now().Unix()))
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case models.IsTransient(err):
		return "transient"
	case models.IsPermanent(err):
		return "permanent"
	case models.IsStore(err):
		return "store"
	case models.IsValidation(err):
		return "validation"
	default:
		return "other"
	}
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
