package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "linkctl"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	reconcilePasses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "passes_total",
			Help:      "Reconciliation passes executed.",
		},
	)
	reconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "pass_duration_seconds",
			Help:      "Reconciliation pass duration in seconds.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
	)
	instanceOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "instance_ops_total",
			Help:      "Plugin calls issued by the reconciler.",
		},
		[]string{"kind", "op", "result"},
	)
	configErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "config_errors_total",
			Help:      "Table rows skipped because they could not be resolved.",
		},
		[]string{"table", "reason"},
	)
	liveInstances = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "live_instances",
			Help:      "Live instances owned by the reconciler.",
		},
		[]string{"kind"},
	)
	discoveryDatagrams = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "datagrams_total",
			Help:      "Discovery datagrams by outcome.",
		},
		[]string{"result"},
	)
	lanServices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "lan_services",
			Help:      "Rows currently held in the LAN Services table.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			reconcilePasses,
			reconcileDuration,
			instanceOps,
			configErrors,
			liveInstances,
			discoveryDatagrams,
			lanServices,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordReconcilePass(duration time.Duration) {
	RegisterMetrics()
	reconcilePasses.Inc()
	reconcileDuration.Observe(duration.Seconds())
}

// RecordInstanceOp counts one plugin call; kind is endpoint or connection.
func RecordInstanceOp(kind, op string, err error) {
	RegisterMetrics()
	result := "ok"
	if err != nil {
		result = "error"
	}
	instanceOps.WithLabelValues(kind, op, result).Inc()
}

func RecordConfigError(table, reason string) {
	RegisterMetrics()
	configErrors.WithLabelValues(table, reason).Inc()
}

func SetLiveInstances(kind string, n int) {
	RegisterMetrics()
	liveInstances.WithLabelValues(kind).Set(float64(n))
}

func RecordDatagram(result string) {
	RegisterMetrics()
	discoveryDatagrams.WithLabelValues(result).Inc()
}

func SetLANServices(n int) {
	RegisterMetrics()
	lanServices.Set(float64(n))
}
