package storage

import (
	"context"
	"sync"
	"time"

	"github.com/sonroyaalmerol/pimsync/pkg/pim"
)

// batchSize is the fixed href batch the producer fetches per
// multiget round-trip.
const batchSize = 1000

// iterStatus is the producer's terminal/non-terminal state, carried
// separately from the FIFO so the consumer can distinguish an empty-
// but-still-running queue from orderly end or failure.
type iterStatus int

const (
	statusOk iterStatus = iota
	statusEnd
	statusError
)

// Fetcher is the DAV-backed collaborator a streaming Iterator drives:
// a total href list plus a batched-fetch primitive. pkg/carddav and
// pkg/caldav clients satisfy this shape directly.
type Fetcher interface {
	Hrefs(ctx context.Context) ([]string, error)
	FetchBatch(ctx context.Context, hrefs []string) ([]*pim.Item, error)
}

// Iterator is the producer/consumer streaming download pipeline: one
// background producer goroutine feeds a FIFO that the consumer drains
// via Next. The FIFO has no size limit: the producer appends each
// fetched batch without waiting for the consumer, and only Suspend
// holds it back. Producer and consumer own disjoint
// item copies — Next returns a clone of the queue head, never the
// queue's own pointer.
type Iterator struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     []*pim.Item
	status    iterStatus
	paused    bool
	cancelled bool
	total     int
	started   bool
	done      chan struct{}
}

// NewIterator starts the background producer against fetcher and
// returns immediately; the producer begins downloading batches in the
// background.
func NewIterator(ctx context.Context, fetcher Fetcher) (*Iterator, error) {
	hrefs, err := fetcher.Hrefs(ctx)
	if err != nil {
		return nil, err
	}
	it := &Iterator{total: len(hrefs), done: make(chan struct{})}
	it.cond = sync.NewCond(&it.mu)
	it.started = true
	go it.run(ctx, fetcher, hrefs)
	return it, nil
}

func (it *Iterator) run(ctx context.Context, fetcher Fetcher, hrefs []string) {
	defer close(it.done)

	for offset := 0; offset < len(hrefs); offset += batchSize {
		for it.isPaused() && !it.isCancelled() {
			time.Sleep(time.Millisecond)
		}

		if it.isCancelled() {
			it.mu.Lock()
			it.cond.Signal()
			it.mu.Unlock()
			return
		}

		end := offset + batchSize
		if end > len(hrefs) {
			end = len(hrefs)
		}
		items, err := fetcher.FetchBatch(ctx, hrefs[offset:end])
		if err != nil {
			it.mu.Lock()
			it.status = statusError
			it.cond.Signal()
			it.mu.Unlock()
			return
		}

		it.mu.Lock()
		it.queue = append(it.queue, items...)
		it.cond.Signal()
		it.mu.Unlock()
	}

	it.mu.Lock()
	it.status = statusEnd
	it.cond.Signal()
	it.mu.Unlock()
}

func (it *Iterator) isPaused() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.paused
}

func (it *Iterator) isCancelled() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.cancelled
}

// Next returns the next item, blocking while the queue is empty and
// the producer is still running. It returns nil once the producer has
// reached End or Error with an empty queue, or once Cancel has been
// called and the queue has drained.
func (it *Iterator) Next() *pim.Item {
	it.mu.Lock()
	defer it.mu.Unlock()

	for len(it.queue) == 0 && it.status == statusOk && !it.cancelled {
		it.cond.Wait()
	}

	if len(it.queue) == 0 {
		return nil
	}

	head := it.queue[0]
	it.queue = it.queue[1:]
	clone := *head
	return &clone
}

// Failed reports whether the run ended in error.
func (it *Iterator) Failed() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.status == statusError
}

// TotalCount is the href count discovered at iterator construction.
func (it *Iterator) TotalCount() int {
	return it.total
}

// Suspend/Resume set/clear the paused flag. Calling Suspend on an
// iterator that never started, or after it has already reached End,
// is a no-op reported via NotSupported.
func (it *Iterator) Suspend() Outcome {
	it.mu.Lock()
	defer it.mu.Unlock()
	if !it.started || it.status != statusOk {
		return NotSupported
	}
	it.paused = true
	return Ok
}

func (it *Iterator) Resume() Outcome {
	it.mu.Lock()
	defer it.mu.Unlock()
	if !it.started || it.status != statusOk {
		return NotSupported
	}
	it.paused = false
	return Ok
}

// Cancel is non-preemptive: an in-flight FetchBatch completes before
// the producer observes cancelled. It blocks until the producer
// goroutine has exited.
func (it *Iterator) Cancel() {
	it.mu.Lock()
	it.cancelled = true
	it.mu.Unlock()
	<-it.done
}
