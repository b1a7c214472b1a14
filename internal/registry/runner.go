package registry

import (
	"context"
	"sync"
	"time"

	"Veristamp/internal/logger"
	"Veristamp/internal/snapshot"
	"Veristamp/internal/store"
)

const (
	// defaultSweepInterval is the default interval between automation
	// sweeps over due batches.
	defaultSweepInterval = 30 * time.Second

	// batchTimeout bounds the external calls of one batch's build and
	// publish cycle.
	batchTimeout = 2 * time.Minute
)

// Runner drives snapshot automation: every interval it walks the complete
// batches and builds or publishes whatever is missing. All retry behavior
// lives here, in the form of the next sweep; the components themselves
// never retry.
type Runner struct {
	registry *Registry
	interval time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewRunner creates a runner. A non-positive interval falls back to the
// default.
func NewRunner(r *Registry, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	return &Runner{
		registry: r,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins the periodic sweep loop.
func (r *Runner) Start() {
	r.wg.Add(1)
	go r.loop()
}

// Stop stops the runner and waits for an in-flight sweep to finish.
func (r *Runner) Stop() {
	close(r.stop)
	r.wg.Wait()
}

// loop runs the periodic sweeps.
func (r *Runner) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep builds and publishes every batch that is due or stuck in batched
// state. Failures are logged and left for the next sweep; batches are
// independent, so one failure does not block the rest.
func (r *Runner) sweep() {
	complete := r.registry.Count() / snapshot.BatchSize

	for batch := uint64(1); batch <= complete; batch++ {
		state, err := r.registry.BatchState(batch)
		if err != nil {
			logger.Error("batch state lookup failed", "batch", batch, "error", err)
			continue
		}

		switch state {
		case store.StateAnchored:
			continue

		case store.StateDue:
			if _, err := r.registry.BuildSnapshotForBatch(batch); err != nil {
				logger.Error("snapshot build failed", "batch", batch, "error", err)
				continue
			}
			fallthrough

		case store.StateBatched:
			ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
			_, err := r.registry.PublishSnapshot(ctx, batch)
			cancel()

			if err != nil {
				logger.Error("snapshot publication failed", "batch", batch, "error", err)
			}
		}
	}
}
