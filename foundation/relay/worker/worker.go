// Package worker implements the background support for the relay core:
// reaping and replenishing pooled connections and refreshing block headers.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/blocksprint/relay/foundation/relay/channel"
	"github.com/blocksprint/relay/foundation/relay/headers"
	"github.com/blocksprint/relay/foundation/relay/pool"
)

// Default intervals for the background operations.
const (
	DefaultReapInterval    = 5 * time.Second
	DefaultRefreshInterval = 15 * time.Second
)

// maintenanceBudget bounds how long one reap/replenish or refresh pass may
// take.
const maintenanceBudget = 10 * time.Second

// Config represents the dependencies and timing for the background work.
type Config struct {
	Pool            *pool.Pool
	Headers         *headers.Tracker
	Nodes           []headers.Node
	Clock           clock.Clock
	ReapInterval    time.Duration
	RefreshInterval time.Duration
	EvHandler       channel.EventHandler
}

// Worker manages the background workflows for the relay core.
type Worker struct {
	pool    *pool.Pool
	headers *headers.Tracker
	nodes   []headers.Node
	clock   clock.Clock
	reap    time.Duration
	refresh time.Duration
	ev      channel.EventHandler
	wg      sync.WaitGroup
	shut    chan struct{}
}

// Run creates a worker, registers the worker with the channel, and starts
// up all the background processes.
func Run(ch *channel.Channel, cfg Config) *Worker {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultReapInterval
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}

	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	w := Worker{
		pool:    cfg.Pool,
		headers: cfg.Headers,
		nodes:   cfg.Nodes,
		clock:   cfg.Clock,
		reap:    cfg.ReapInterval,
		refresh: cfg.RefreshInterval,
		ev:      ev,
		shut:    make(chan struct{}),
	}

	// Register this worker with the channel.
	ch.Worker = &w

	// Load the set of operations we need to run.
	operations := []func(){
		w.reaperOperations,
	}
	if len(w.nodes) > 0 {
		operations = append(operations, w.headerOperations)
	}

	// Set waitgroup to match the number of G's we need for the set
	// of operations we have.
	g := len(operations)
	w.wg.Add(g)

	// We don't want to return until we know all the G's are up and running.
	hasStarted := make(chan bool)

	// Start all the operational G's.
	for _, op := range operations {
		go func(op func()) {
			defer w.wg.Done()
			hasStarted <- true
			op()
		}(op)
	}

	// Wait for the G's to report they are running.
	for i := 0; i < g; i++ {
		<-hasStarted
	}

	return &w
}

// Shutdown terminates the goroutines performing work.
func (w *Worker) Shutdown() {
	w.ev("worker: shutdown: started")
	defer w.ev("worker: shutdown: completed")

	close(w.shut)
	w.wg.Wait()
}

// =============================================================================

// reaperOperations keeps the pool within its idle bounds on an interval.
func (w *Worker) reaperOperations() {
	w.ev("worker: reaperOperations: G started")
	defer w.ev("worker: reaperOperations: G completed")

	ticker := w.clock.Ticker(w.reap)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), maintenanceBudget)
			w.pool.Reap()
			w.pool.Replenish(ctx)
			cancel()

		case <-w.shut:
			return
		}
	}
}

// headerOperations refreshes the latest block headers on an interval.
func (w *Worker) headerOperations() {
	w.ev("worker: headerOperations: G started")
	defer w.ev("worker: headerOperations: G completed")

	ticker := w.clock.Ticker(w.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), maintenanceBudget)
			w.headers.Refresh(ctx, w.nodes)
			cancel()

		case <-w.shut:
			return
		}
	}
}
