package feature

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RecordSink receives one EvaluationRecord per successful evaluation. The
// evaluator treats delivery as best effort: a sink error is logged for
// operator diagnostics and discarded.
type RecordSink interface {
	Record(ctx context.Context, record *EvaluationRecord) error
}

// RecordSinkFunc adapts a function to the RecordSink interface.
type RecordSinkFunc func(ctx context.Context, record *EvaluationRecord) error

func (f RecordSinkFunc) Record(ctx context.Context, record *EvaluationRecord) error {
	return f(ctx, record)
}

// NewStorageSink writes records through the storage's audit table.
func NewStorageSink(storage Storage) RecordSink {
	return RecordSinkFunc(func(ctx context.Context, record *EvaluationRecord) error {
		return storage.CreateEvaluation(ctx, record)
	})
}

// AsyncSink decouples record delivery from the evaluation hot path with a
// buffered worker. Records are dropped (and counted) when the buffer is full:
// the audit trail is best effort and must never apply backpressure to
// evaluations.
type AsyncSink struct {
	next    RecordSink
	records chan *EvaluationRecord
	done    chan struct{}
	wg      sync.WaitGroup
	logger  *slog.Logger

	mu      sync.Mutex
	closed  bool
	dropped uint64
}

// AsyncSinkOption configures an AsyncSink.
type AsyncSinkOption func(*AsyncSink)

// WithSinkLogger configures the logger for delivery diagnostics.
func WithSinkLogger(logger *slog.Logger) AsyncSinkOption {
	return func(s *AsyncSink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// DefaultSinkBuffer is the default number of records queued in memory.
const DefaultSinkBuffer = 1000

// NewAsyncSink wraps a sink with a background worker and a buffer of the
// given size (DefaultSinkBuffer when size is not positive).
func NewAsyncSink(next RecordSink, size int, opts ...AsyncSinkOption) *AsyncSink {
	if next == nil {
		panic("feature: async sink requires a next sink")
	}
	if size <= 0 {
		size = DefaultSinkBuffer
	}

	s := &AsyncSink{
		next:    next,
		records: make(chan *EvaluationRecord, size),
		done:    make(chan struct{}),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.worker()

	return s
}

// Record queues the record for delivery. It never blocks: a full buffer drops
// the record, a closed sink returns ErrSinkClosed.
func (s *AsyncSink) Record(ctx context.Context, record *EvaluationRecord) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSinkClosed
	}
	s.mu.Unlock()

	select {
	case s.records <- record:
		return nil
	default:
		s.mu.Lock()
		s.dropped++
		dropped := s.dropped
		s.mu.Unlock()
		s.logger.Warn("evaluation record dropped, buffer full",
			slog.Uint64("dropped_total", dropped))
		return nil
	}
}

// Dropped returns the number of records discarded because the buffer was full.
func (s *AsyncSink) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *AsyncSink) worker() {
	defer s.wg.Done()

	for {
		select {
		case record := <-s.records:
			s.deliver(record)
		case <-s.done:
			// Drain whatever is still buffered before shutting down.
			for {
				select {
				case record := <-s.records:
					s.deliver(record)
				default:
					return
				}
			}
		}
	}
}

func (s *AsyncSink) deliver(record *EvaluationRecord) {
	// Delivery runs outside any request scope; bound it so a stuck storage
	// can't wedge the worker.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.next.Record(ctx, record); err != nil {
		s.logger.Warn("evaluation record delivery failed",
			slog.String("flag_id", record.FlagID.String()),
			slog.Any("error", err))
	}
}

// Close stops the worker after draining the buffer.
func (s *AsyncSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	return nil
}
