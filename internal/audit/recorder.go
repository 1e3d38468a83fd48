package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golnet1/majordomo-bridge/internal/infrastructure/logging"
)

// writeTimeout bounds how long a single audit insert may take.
const writeTimeout = 5 * time.Second

// Notifier receives failed-action notifications. Implemented by the
// Telegram channel; a nil notifier disables forwarding.
type Notifier interface {
	NotifyFailure(rec Record)
}

// Recorder is the asynchronous audit front used on the dispatch path.
//
// Thread Safety:
//   - Record is safe for concurrent use and never blocks; when the buffer
//     is full the entry is dropped and counted.
type Recorder struct {
	repo     Repository
	notifier Notifier
	logger   *logging.Logger

	buf     chan Record
	dropped atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

// NewRecorder starts the writer goroutine and returns the recorder.
//
// Parameters:
//   - repo: Destination repository
//   - notifier: Optional failed-action sink (may be nil)
//   - bufferSize: Channel capacity; records beyond it are dropped
//   - logger: Structured logger
func NewRecorder(repo Repository, notifier Notifier, bufferSize int, logger *logging.Logger) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 256
	}

	r := &Recorder{
		repo:     repo,
		notifier: notifier,
		logger:   logger.With("component", "audit"),
		buf:      make(chan Record, bufferSize),
		done:     make(chan struct{}),
	}
	go r.writeLoop()
	return r
}

// Record enqueues an audit entry for asynchronous persistence.
func (r *Recorder) Record(rec Record) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	select {
	case r.buf <- rec:
	default:
		n := r.dropped.Add(1)
		r.logger.Warn("audit buffer full, record dropped",
			"correlation_id", rec.CorrelationID,
			"dropped_total", n,
		)
	}
}

// Dropped returns how many records were discarded due to a full buffer.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close stops accepting records, flushes the buffer and waits for the
// writer goroutine to finish.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.buf)
		<-r.done
	})
}

// writeLoop drains the buffer into the repository until Close.
func (r *Recorder) writeLoop() {
	defer close(r.done)

	for rec := range r.buf {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := r.repo.Create(ctx, &rec)
		cancel()
		if err != nil {
			r.logger.Error("writing audit record",
				"correlation_id", rec.CorrelationID,
				"error", err,
			)
			continue
		}

		if r.notifier != nil && rec.Failed() {
			r.notifier.NotifyFailure(rec)
		}
	}
}
