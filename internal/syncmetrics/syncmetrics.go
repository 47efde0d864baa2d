// Package syncmetrics exposes the prometheus counters/histograms a
// sync run feeds via internal/sync's Callback hooks: per-pair
// added/modified/removed/conflict counts and the time the consumer
// spends blocked waiting on the producer iterator.
package syncmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	itemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pimsync_items_total",
		Help: "Total number of items the engine added, modified, or removed on each side of a sync pair.",
	}, []string{"pair", "side", "action"})

	conflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pimsync_conflicts_total",
		Help: "Total number of two-way conflicts resolved by duplicating the item on both sides.",
	}, []string{"pair"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pimsync_runs_total",
		Help: "Total number of sync runs, labeled by their finite Result.",
	}, []string{"pair", "result"})

	iteratorWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pimsync_iterator_wait_seconds",
		Help:    "Time the consumer spent blocked in Iterator.Next waiting on the producer.",
		Buckets: prometheus.DefBuckets,
	}, []string{"pair"})
)

// Side identifies which collaborator in a sync pair a stat applies
// to.
type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

// Action is one of the three item-level outcomes a Stats field
// counts.
type Action string

const (
	ActionAdded    Action = "added"
	ActionModified Action = "modified"
	ActionRemoved  Action = "removed"
)

// Record adds n to the pair's (side, action) counter. A no-op when
// n is zero, so callers can pass raw Stats fields unconditionally.
func Record(pair string, side Side, action Action, n int) {
	if n <= 0 {
		return
	}
	itemsTotal.WithLabelValues(pair, string(side), string(action)).Add(float64(n))
}

// RecordConflict increments the conflict counter for pair.
func RecordConflict(pair string) {
	conflictsTotal.WithLabelValues(pair).Inc()
}

// RecordResult increments the run counter for pair's finite outcome,
// given as its String() form so this package stays decoupled from
// internal/sync's Result type.
func RecordResult(pair, result string) {
	runsTotal.WithLabelValues(pair, result).Inc()
}

// ObserveIteratorWait records how long the consumer blocked waiting
// on Iterator.Next for pair.
func ObserveIteratorWait(pair string, since time.Time) {
	iteratorWaitSeconds.WithLabelValues(pair).Observe(time.Since(since).Seconds())
}
