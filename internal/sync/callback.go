// Package sync implements the one-way and two-way sync engines:
// phase-based reference-map mirroring and metadata-diff
// reconciliation over the storage.Store/Source contracts.
package sync

// Result is the finite outcome a sync run reports to Callback.SyncFinished.
type Result int

const (
	OkNoChange Result = iota
	OkWithChange
	Cancelled
	AlreadyInProgress
	Fail
)

func (r Result) String() string {
	switch r {
	case OkNoChange:
		return "OkNoChange"
	case OkWithChange:
		return "OkWithChange"
	case Cancelled:
		return "Cancelled"
	case AlreadyInProgress:
		return "AlreadyInProgress"
	case Fail:
		return "Fail"
	default:
		return "Unknown"
	}
}

// Stats accumulates per-run counters.
type Stats struct {
	LocallyAdded      int
	LocallyModified   int
	LocallyRemoved    int
	RemotelyAdded     int
	RemotelyModified  int
	RemotelyRemoved   int
}

func (s Stats) IsEmpty() bool {
	return s.LocallyAdded == 0 && s.LocallyModified == 0 && s.LocallyRemoved == 0 &&
		s.RemotelyAdded == 0 && s.RemotelyModified == 0 && s.RemotelyRemoved == 0
}

// Callback is the engine's external notification surface.
// Any method may be nil; the engine checks before calling.
type Callback struct {
	Print              func(msg string)
	SyncFinished       func(result Result, stats Stats)
	SyncProgress       func(phase string, fraction float64, processedCount int)
	SyncPhaseStarted   func(phase string)
	SyncPhaseFinished  func(phase string)
	MetadataUpdated    func(metadataJSON string)
}

func (cb *Callback) print(msg string) {
	if cb != nil && cb.Print != nil {
		cb.Print(msg)
	}
}

func (cb *Callback) finished(result Result, stats Stats) {
	if cb != nil && cb.SyncFinished != nil {
		cb.SyncFinished(result, stats)
	}
}

func (cb *Callback) progress(phase string, fraction float64, processed int) {
	if cb != nil && cb.SyncProgress != nil {
		cb.SyncProgress(phase, fraction, processed)
	}
}

func (cb *Callback) phaseStarted(phase string) {
	if cb != nil && cb.SyncPhaseStarted != nil {
		cb.SyncPhaseStarted(phase)
	}
}

func (cb *Callback) phaseFinished(phase string) {
	if cb != nil && cb.SyncPhaseFinished != nil {
		cb.SyncPhaseFinished(phase)
	}
}

func (cb *Callback) metadataUpdated(metadataJSON string) {
	if cb != nil && cb.MetadataUpdated != nil {
		cb.MetadataUpdated(metadataJSON)
	}
}
