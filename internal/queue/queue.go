// Package queue admits requests into the proxy under a global
// concurrency ceiling, holding excess callers in a bounded FIFO.
package queue

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	apierrors "antigravity2api-go/internal/errors"
	"antigravity2api-go/internal/monitoring"
)

// Queue is the admission gate in front of the upstream client. At most
// limit requests run at once; up to queueLimit more wait in arrival
// order, each for at most timeout.
type Queue struct {
	mu       sync.Mutex
	limit    int
	inFlight int
	paused   bool
	waiters  *list.List

	queueLimit int
	timeout    time.Duration
}

type waiter struct {
	granted chan struct{}
}

// Options configures a Queue.
type Options struct {
	// Concurrency is the number of requests admitted at once.
	Concurrency int
	// QueueLimit caps the number of waiting requests; further arrivals
	// are rejected immediately.
	QueueLimit int
	// Timeout bounds how long one request may wait for admission.
	Timeout time.Duration
}

// New builds a Queue.
func New(opts Options) *Queue {
	return &Queue{
		limit:      opts.Concurrency,
		queueLimit: opts.QueueLimit,
		timeout:    opts.Timeout,
		waiters:    list.New(),
	}
}

// ReleaseFunc frees an admitted slot. Safe to call more than once.
type ReleaseFunc func()

// Acquire admits the caller or queues it. It returns a queue-full
// error when the wait line is at capacity, a timeout error when the
// wait exceeds the configured bound, and ctx.Err when the caller gives
// up first.
func (q *Queue) Acquire(ctx context.Context) (ReleaseFunc, error) {
	q.mu.Lock()
	if !q.paused && q.waiters.Len() == 0 && q.inFlight < q.limit {
		q.inFlight++
		q.mu.Unlock()
		return q.releaseFunc(), nil
	}

	if q.waiters.Len() >= q.queueLimit {
		waiting := q.waiters.Len()
		q.mu.Unlock()
		return nil, apierrors.NewQueueFull(fmt.Sprintf("request queue is full (%d waiting)", waiting))
	}

	w := &waiter{granted: make(chan struct{})}
	elem := q.waiters.PushBack(w)
	waiting := q.waiters.Len()
	q.mu.Unlock()

	monitoring.QueueWaiting.Set(float64(waiting))
	log.WithField("waiting", waiting).Debug("request queued for admission")
	defer func() {
		q.mu.Lock()
		monitoring.QueueWaiting.Set(float64(q.waiters.Len()))
		q.mu.Unlock()
	}()

	timer := time.NewTimer(q.timeout)
	defer timer.Stop()

	select {
	case <-w.granted:
		return q.releaseFunc(), nil
	case <-timer.C:
		if q.abandon(elem, w) {
			return nil, apierrors.NewTimeout("timed out waiting for an execution slot")
		}
		return q.releaseFunc(), nil
	case <-ctx.Done():
		if q.abandon(elem, w) {
			return nil, ctx.Err()
		}
		return q.releaseFunc(), nil
	}
}

// abandon removes a waiter from the line. It reports false when the
// grant raced ahead of the cancellation, in which case the caller owns
// a slot after all.
func (q *Queue) abandon(elem *list.Element, w *waiter) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	select {
	case <-w.granted:
		return false
	default:
	}
	q.waiters.Remove(elem)
	return true
}

func (q *Queue) releaseFunc() ReleaseFunc {
	var released atomic.Bool
	return func() {
		if !released.CompareAndSwap(false, true) {
			return
		}
		q.mu.Lock()
		q.inFlight--
		q.dispatchLocked()
		q.mu.Unlock()
	}
}

// dispatchLocked hands free slots to the head of the line. Caller
// holds q.mu.
func (q *Queue) dispatchLocked() {
	for !q.paused && q.inFlight < q.limit && q.waiters.Len() > 0 {
		elem := q.waiters.Front()
		q.waiters.Remove(elem)
		q.inFlight++
		close(elem.Value.(*waiter).granted)
	}
}

// Timeout returns the per-request bound; it covers both the wait for
// admission and the admitted handler's execution.
func (q *Queue) Timeout() time.Duration {
	return q.timeout
}

// Pause stops admitting new requests. In-flight requests finish
// normally; waiters stay queued until Resume or their deadline.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
	log.Info("admission queue paused")
}

// Resume re-enables admission and drains eligible waiters.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.dispatchLocked()
	q.mu.Unlock()
	log.Info("admission queue resumed")
}

// SetConcurrency adjusts the admission ceiling at runtime, used when
// the credential set changes under automatic sizing.
func (q *Queue) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	q.mu.Lock()
	q.limit = n
	q.dispatchLocked()
	q.mu.Unlock()
	log.WithField("concurrency", n).Info("admission concurrency updated")
}

// Snapshot describes the queue for the stats endpoints.
type Snapshot struct {
	Concurrency int  `json:"concurrency"`
	InFlight    int  `json:"in_flight"`
	Waiting     int  `json:"waiting"`
	Paused      bool `json:"paused"`
}

// Stats returns a point-in-time snapshot.
func (q *Queue) Stats() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Snapshot{
		Concurrency: q.limit,
		InFlight:    q.inFlight,
		Waiting:     q.waiters.Len(),
		Paused:      q.paused,
	}
}
