package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/linkctl/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("node-a", "GET", "/health", 200, 12*time.Millisecond)
	RecordReconcilePass(3 * time.Millisecond)
	SetLiveInstances("connection", 2)
	SetLANServices(4)
	RecordDatagram("applied")

	before := testutil.ToFloat64(instanceOps.WithLabelValues("endpoint", "create", "error"))
	RecordInstanceOp("endpoint", "create", errors.New("bind"))
	if got := testutil.ToFloat64(instanceOps.WithLabelValues("endpoint", "create", "error")); got != before+1 {
		t.Fatalf("instance op not counted: %v -> %v", before, got)
	}
	RecordConfigError("connect", "unknown_transport")
	if got := testutil.ToFloat64(configErrors.WithLabelValues("connect", "unknown_transport")); got < 1 {
		t.Fatalf("config error not counted")
	}
}
