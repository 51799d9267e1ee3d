// Package relay moves capture chunks from a connection to the transcoder
// feed. One relay goroutine per connection is the only reader, so chunk order
// into the pipeline always matches arrival order on the wire.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"camcast/internal/observability/metrics"
)

// ChunkSource yields binary capture chunks in arrival order. Implementations
// return io.EOF when the peer closes the connection cleanly.
type ChunkSource interface {
	NextChunk(ctx context.Context) ([]byte, error)
}

// Sink accepts chunks for transcoding. Write never blocks on the process;
// backpressure is absorbed downstream.
type Sink interface {
	Write(chunk []byte)
}

// Relay forwards chunks from one source to one sink.
type Relay struct {
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// New builds a Relay. Nil arguments select the package defaults.
func New(logger *slog.Logger, recorder *metrics.Recorder) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Relay{logger: logger, metrics: recorder}
}

// Run forwards chunks until the source is exhausted or ctx is cancelled. A
// clean peer close returns nil; any other read failure is returned wrapped.
func (r *Relay) Run(ctx context.Context, src ChunkSource, sink Sink) error {
	for {
		chunk, err := src.NextChunk(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.logger.Debug("capture source closed")
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read capture chunk: %w", err)
		}
		if len(chunk) == 0 {
			continue
		}
		r.metrics.ObserveChunk(len(chunk))
		sink.Write(chunk)
	}
}
