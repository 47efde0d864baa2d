package sync

import (
	"time"

	"github.com/sonroyaalmerol/pimsync/internal/syncmetrics"
)

// WithMetrics wraps cb so every SyncFinished call also records the
// run's Stats and Result against pair's prometheus series, then
// forwards to cb's own SyncFinished (if any). Construct the engine's
// Config.Callback with this when a pair should be observable.
func WithMetrics(pair string, cb *Callback) *Callback {
	if cb == nil {
		cb = &Callback{}
	}
	wrapped := *cb
	inner := cb.SyncFinished
	wrapped.SyncFinished = func(result Result, stats Stats) {
		syncmetrics.Record(pair, syncmetrics.SideLocal, syncmetrics.ActionAdded, stats.LocallyAdded)
		syncmetrics.Record(pair, syncmetrics.SideLocal, syncmetrics.ActionModified, stats.LocallyModified)
		syncmetrics.Record(pair, syncmetrics.SideLocal, syncmetrics.ActionRemoved, stats.LocallyRemoved)
		syncmetrics.Record(pair, syncmetrics.SideRemote, syncmetrics.ActionAdded, stats.RemotelyAdded)
		syncmetrics.Record(pair, syncmetrics.SideRemote, syncmetrics.ActionModified, stats.RemotelyModified)
		syncmetrics.Record(pair, syncmetrics.SideRemote, syncmetrics.ActionRemoved, stats.RemotelyRemoved)
		syncmetrics.RecordResult(pair, result.String())
		if inner != nil {
			inner(result, stats)
		}
	}
	return &wrapped
}

// iteratorWaitTimer returns a func that, when called, records elapsed
// time against pair's iterator-wait histogram. Engines call the
// returned func around each blocking Iterator.Next.
func iteratorWaitTimer(pair string) func() {
	start := time.Now()
	return func() {
		syncmetrics.ObserveIteratorWait(pair, start)
	}
}
