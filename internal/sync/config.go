package sync

import "time"

// Phase is one one-way sync phase: a name plus the set of check
// fields to disable for its duration.
type Phase struct {
	Name          string
	IgnoredFields []string
}

// EngineConfig carries the options recognized by both engines. Pair
// is an opaque name (typically the SyncPair.Name an account file
// gives this source/store combination) used only to label
// syncmetrics series; leave it empty to opt a pair out of iterator-
// wait observation.
type EngineConfig struct {
	BatchSize             int
	SyncProgressFrequency time.Duration
	Callback              *Callback
	Pair                  string
}

func (c EngineConfig) batchSize() int {
	if c.BatchSize <= 0 {
		return 100
	}
	return c.BatchSize
}

func (c EngineConfig) progressFrequency() time.Duration {
	if c.SyncProgressFrequency <= 0 {
		return 200 * time.Millisecond
	}
	return c.SyncProgressFrequency
}
