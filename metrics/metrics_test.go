package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"tourgraph/models"
)

func TestRecordCatalogRequestLabels(t *testing.T) {
	before := testutil.ToFloat64(CatalogRequestsTotal.WithLabelValues("search", "429"))
	RecordCatalogRequest("search", 429, 10*time.Millisecond)
	after := testutil.ToFloat64(CatalogRequestsTotal.WithLabelValues("search", "429"))
	if after-before != 1 {
		t.Errorf("search/429 counter delta = %v; want 1", after-before)
	}

	before = testutil.ToFloat64(CatalogRequestsTotal.WithLabelValues("detail", "network_error"))
	RecordCatalogRequest("detail", 0, time.Millisecond)
	after = testutil.ToFloat64(CatalogRequestsTotal.WithLabelValues("detail", "network_error"))
	if after-before != 1 {
		t.Errorf("detail/network_error counter delta = %v; want 1", after-before)
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&models.TransientError{Op: "search", StatusCode: 503}, "transient"},
		{&models.PermanentError{Op: "detail", StatusCode: 404}, "permanent"},
		{&models.StoreError{Op: "apply", Err: errors.New("locked")}, "store"},
		{&models.ValidationError{Field: "rating"}, "validation"},
		{errors.New("x"), "other"},
	}
	for _, tt := range tests {
		if got := errorKind(tt.err); got != tt.want {
			t.Errorf("errorKind(%v) = %q; want %q", tt.err, got, tt.want)
		}
	}
}

func TestRecordPartitionSyncCountsOutcomes(t *testing.T) {
	before := testutil.ToFloat64(SyncListings.WithLabelValues("missing"))
	RecordPartitionSync(models.SyncReport{Missing: 3}, nil)
	after := testutil.ToFloat64(SyncListings.WithLabelValues("missing"))
	if after-before != 3 {
		t.Errorf("missing delta = %v; want 3", after-before)
	}
}
