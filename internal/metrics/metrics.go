package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

var (
	marketPrice = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rebaser_market_price",
			Help: "Last observed price of the base asset in quote units.",
		},
	)
	targetMultiple = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rebaser_target_multiple",
			Help: "Target multiple of the start price at the last run.",
		},
	)
	supplyChangePct = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rebaser_supply_change_pct",
			Help: "Supply change in percent computed at the last run.",
		},
	)
	lastEpoch = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rebaser_last_epoch",
			Help: "Epoch of the last confirmed rebase.",
		},
	)
	runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rebaser_runs_total",
			Help: "Number of control-loop invocations by status.",
		},
		[]string{"status"},
	)
	failures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rebaser_failures_total",
			Help: "Number of failed invocations by pipeline stage.",
		},
		[]string{"stage"},
	)

	collectors = []prometheus.Collector{
		marketPrice,
		targetMultiple,
		supplyChangePct,
		lastEpoch,
		runs,
		failures,
	}

	registerOnce sync.Once
)

// Register adds the rebaser collectors to the default registry once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(collectors...)
	})
}

// ObserveComputation records the inputs and result of a delta computation.
func ObserveComputation(price decimal.Decimal, multiple float64, supplyPct decimal.Decimal) {
	marketPrice.Set(price.InexactFloat64())
	targetMultiple.Set(multiple)
	supplyChangePct.Set(supplyPct.InexactFloat64())
}

// ObserveEpoch records a confirmed epoch.
func ObserveEpoch(epoch decimal.Decimal) {
	lastEpoch.Set(epoch.InexactFloat64())
}

// ObserveRun counts an invocation and, when it failed, its stage.
func ObserveRun(status, failedStage string) {
	runs.WithLabelValues(status).Inc()
	if failedStage != "" {
		failures.WithLabelValues(failedStage).Inc()
	}
}
