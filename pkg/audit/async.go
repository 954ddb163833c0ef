package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// AsyncSink wraps another Sink behind a bounded queue, trading the
// synchronous durability guarantee for evaluation latency.
//
// With the default synchronous Logger an edge is never reported created
// until its audit entry is on disk. AsyncSink deliberately weakens that:
// LogEdgeAction enqueues and returns immediately, a single worker drains
// the queue in order, and entries offered to a full queue are DROPPED and
// counted rather than blocking the evaluation path. Callers opt in to
// this trade explicitly; it is never the default.
type AsyncSink struct {
	inner Sink

	queue   chan *EdgeLog
	done    chan struct{}
	dropped atomic.Int64

	// mu serializes enqueue against Close so nothing sends on a closed
	// channel.
	mu        sync.RWMutex
	closeOnce sync.Once
	closed    bool
}

var _ Sink = (*AsyncSink)(nil)

// NewAsyncSink starts a worker draining into inner. queueSize bounds the
// in-flight backlog; non-positive sizes fall back to 1024.
func NewAsyncSink(inner Sink, queueSize int) *AsyncSink {
	if queueSize <= 0 {
		queueSize = 1024
	}
	s := &AsyncSink{
		inner: inner,
		queue: make(chan *EdgeLog, queueSize),
		done:  make(chan struct{}),
	}
	go s.drain()
	return s
}

func (s *AsyncSink) drain() {
	defer close(s.done)
	for entry := range s.queue {
		// Inner sink errors cannot be returned to the evaluation that
		// caused them; the entry is counted as dropped instead.
		if err := s.inner.LogEdgeAction(context.Background(), entry); err != nil {
			s.dropped.Add(1)
		}
	}
}

// LogEdgeAction enqueues the entry without blocking. A full queue or a
// closed sink drops the entry and bumps the dropped counter; the caller
// always gets nil unless its context is already canceled.
//
// The entry is copied before enqueueing: the worker assigns ID, Timestamp,
// and PrevHash on its copy, so the caller's entry is never touched after
// this returns and carries no trail id in async mode.
func (s *AsyncSink) LogEdgeAction(ctx context.Context, entry *EdgeLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.dropped.Add(1)
		return nil
	}

	queued := *entry
	select {
	case s.queue <- &queued:
	default:
		s.dropped.Add(1)
	}
	return nil
}

// Dropped reports how many entries were lost to backpressure, shutdown,
// or inner sink failures.
func (s *AsyncSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close stops accepting entries, waits for the queue to fully drain, then
// closes the inner sink.
func (s *AsyncSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()

		<-s.done
		err = s.inner.Close()
	})
	return err
}
