/*
Package metrics exposes the Prometheus gauges that let an unattended
terminal's queue depth, network state, and exposure totals be scraped
by a fleet monitor.

Grounded on cuemby-warren/pkg/metrics.go (package-level prometheus.Gauge
vars registered at init, served over /metrics via promhttp). The
resource-accounting engine this core grew from has no analog (a single
ledger does not need fleet observability); this is a pure domain-stack
addition an unattended terminal's operation calls for.
*/
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pos_queue_operations",
			Help: "Operations in the outbound queue by status",
		},
		[]string{"status"},
	)

	NetworkOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pos_network_online",
			Help: "Whether the terminal currently considers itself online (1) or offline (0)",
		},
	)

	OfflineCashTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pos_offline_cash_total",
			Help: "Cumulative offline cash exposure since last reset",
		},
	)

	OfflineCardTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pos_offline_card_total",
			Help: "Cumulative offline card exposure since last reset",
		},
	)

	OfflineTransactionCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pos_offline_transaction_count",
			Help: "Count of offline transactions since last reset",
		},
	)

	LastSyncSuccessUnix = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pos_last_sync_success_timestamp",
			Help: "Unix timestamp of the last successful delta pull",
		},
	)

	DatasetVersion = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pos_dataset_version",
			Help: "Current cached dataset version by dataset key",
		},
		[]string{"dataset"},
	)
)

func init() {
	prometheus.MustRegister(
		QueueDepth,
		NetworkOnline,
		OfflineCashTotal,
		OfflineCardTotal,
		OfflineTransactionCount,
		LastSyncSuccessUnix,
		DatasetVersion,
	)
}

// Handler returns the promhttp handler the api façade mounts at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
