package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lexsignal/internal/pkg/logx"
)

const (
	// DefaultBufferSize bounds the records waiting for the worker.
	DefaultBufferSize = 1024

	// sinkTimeout bounds one sink write.
	sinkTimeout = 3 * time.Second
)

// Recorder accepts telemetry records. Record must never block.
type Recorder interface {
	Record(Event)
}

// Sink persists or forwards records. Write may block on I/O; it is only called from the worker.
type Sink interface {
	Name() string
	Write(ctx context.Context, e Event) error
	Close() error
}

// Discard is a Recorder that drops everything.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(Event) {}

// AsyncRecorder queues records and fans them out to sinks on a single worker goroutine.
type AsyncRecorder struct {
	sinks []Sink
	queue chan Event

	// mu guards closed; Record holds the read side so Close cannot close queue mid-send.
	mu     sync.RWMutex
	closed bool

	wg     sync.WaitGroup
	logger zerolog.Logger
}

// NewAsyncRecorder starts the worker. bufferSize <= 0 selects DefaultBufferSize.
func NewAsyncRecorder(bufferSize int, sinks ...Sink) *AsyncRecorder {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	r := &AsyncRecorder{
		sinks:  sinks,
		queue:  make(chan Event, bufferSize),
		logger: logx.Component("telemetry"),
	}

	r.wg.Add(1)
	go r.run()

	return r
}

// Record enqueues e, dropping it with a warning when the buffer is full or the recorder is closed.
func (r *AsyncRecorder) Record(e Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return
	}

	select {
	case r.queue <- e:
	default:
		r.logger.Warn().
			Str("kind", string(e.Kind)).
			Int("queue_len", len(r.queue)).
			Msg("Telemetry queue full, dropping record")
	}
}

func (r *AsyncRecorder) run() {
	defer r.wg.Done()

	for e := range r.queue {
		for _, sink := range r.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			if err := sink.Write(ctx, e); err != nil {
				r.logger.Error().Err(err).
					Str("sink", sink.Name()).
					Str("kind", string(e.Kind)).
					Msg("Telemetry sink write failed")
			}
			cancel()
		}
	}
}

// Close drains queued records, then closes every sink. It is safe to call more than once.
func (r *AsyncRecorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()

	var errs []error
	for _, sink := range r.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	r.logger.Info().Msg("Telemetry recorder closed.")
	return errors.Join(errs...)
}
