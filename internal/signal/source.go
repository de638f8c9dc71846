// Package signal produces the TradingSignal stream the executor consumes.
//
// A Source pushes signals onto a channel until its context ends. The Mux
// fans any number of sources into a single stream, stamping the IDs and
// timestamps sources leave empty. The news source scores RSS headlines
// with a keyword model; rule-driven and replayed signals come in through
// FuncSource and Slice.
package signal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/seaquant/tradeflow/internal/metrics"
	"github.com/seaquant/tradeflow/pkg/models"
)

// Source emits trading signals until ctx is cancelled. Run must not close
// out; the channel belongs to the caller. A nil return means the source
// finished or was cancelled, an error means it stopped early.
type Source interface {
	Name() string
	Run(ctx context.Context, out chan<- models.TradingSignal) error
}

// ════════════════════════════════════════════════════════════════════
// FuncSource
// ════════════════════════════════════════════════════════════════════

// FuncSource polls a function on a fixed interval and emits whatever it
// returns. An error from the function stops the source; transient
// failures should be handled inside it (return an empty batch).
type FuncSource struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) ([]models.TradingSignal, error)
}

// NewFunc builds a polling source from a plain function. A non-positive
// interval falls back to one minute.
func NewFunc(name string, interval time.Duration, fn func(ctx context.Context) ([]models.TradingSignal, error)) *FuncSource {
	if interval <= 0 {
		interval = time.Minute
	}
	return &FuncSource{name: name, interval: interval, fn: fn}
}

// Name returns the source name.
func (s *FuncSource) Name() string { return s.name }

// Run polls immediately, then on every tick.
func (s *FuncSource) Run(ctx context.Context, out chan<- models.TradingSignal) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		batch, err := s.fn(ctx)
		if err != nil {
			return fmt.Errorf("signal source %s: %w", s.name, err)
		}
		for _, sig := range batch {
			if sig.Source == "" {
				sig.Source = s.name
			}
			select {
			case out <- sig:
			case <-ctx.Done():
				return nil
			}
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

// ════════════════════════════════════════════════════════════════════
// Slice
// ════════════════════════════════════════════════════════════════════

// Slice returns a source that emits a fixed batch once and stops. The
// paper command uses it to replay signals loaded from a file.
func Slice(name string, signals ...models.TradingSignal) Source {
	return &sliceSource{name: name, signals: signals}
}

type sliceSource struct {
	name    string
	signals []models.TradingSignal
}

func (s *sliceSource) Name() string { return s.name }

func (s *sliceSource) Run(ctx context.Context, out chan<- models.TradingSignal) error {
	for _, sig := range s.signals {
		if sig.Source == "" {
			sig.Source = s.name
		}
		select {
		case out <- sig:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// ════════════════════════════════════════════════════════════════════
// Mux
// ════════════════════════════════════════════════════════════════════

// Mux runs sources concurrently and fans their signals into one stream.
type Mux struct {
	sources []Source
	buffer  int
	log     zerolog.Logger
}

// NewMux wires sources to a shared output stream.
func NewMux(log zerolog.Logger, sources ...Source) *Mux {
	return &Mux{
		sources: sources,
		buffer:  16,
		log:     log.With().Str("component", "signal").Logger(),
	}
}

// Start launches every source and returns the merged stream. The channel
// closes once all sources have returned, so feeding it to Executor.Run
// ends the run when the last source finishes. A source error ends that
// source only; the rest keep flowing.
func (m *Mux) Start(ctx context.Context) <-chan models.TradingSignal {
	raw := make(chan models.TradingSignal, m.buffer)
	out := make(chan models.TradingSignal, m.buffer)

	var wg sync.WaitGroup
	for _, src := range m.sources {
		src := src
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.log.Debug().Str("source", src.Name()).Msg("signal source started")
			if err := src.Run(ctx, raw); err != nil {
				m.log.Error().Err(err).Str("source", src.Name()).Msg("signal source stopped")
				return
			}
			m.log.Debug().Str("source", src.Name()).Msg("signal source finished")
		}()
	}
	go func() {
		wg.Wait()
		close(raw)
	}()

	// Stamp the fields sources commonly leave empty. After cancellation
	// the loop keeps draining raw so source goroutines can exit.
	go func() {
		defer close(out)
		for sig := range raw {
			if sig.ID == "" {
				sig.ID = uuid.NewString()
			}
			if sig.Timestamp.IsZero() {
				sig.Timestamp = time.Now().UTC()
			}
			metrics.SignalsEmitted.WithLabelValues(sig.Source).Inc()
			select {
			case out <- sig:
			case <-ctx.Done():
			}
		}
	}()
	return out
}
