/*
scheduler.go - Automated expiry sweeper

PURPOSE:
  Periodically releases soft reservations whose expiry timestamp has
  passed. The engine itself runs no timers; reservation expiry is data
  until something sweeps it. This is that something.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each pass re-checks status and expiry under the lot lock, so a
    reservation confirmed between scan and sweep survives
  - Sweeping twice is harmless (release is idempotent)

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 minute)
  - Enabled: Whether the sweeper is active (default: true)

USAGE:
  sweeper := NewExpirySweeper(handler)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - handlers.go: SweepExpired endpoint (manual trigger, same code path)
  - inventory/controller.go: ReleaseExpired
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"
)

// ExpirySweeper releases expired soft reservations in the background.
type ExpirySweeper struct {
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewExpirySweeper creates a new sweeper.
func NewExpirySweeper(handler *Handler) *ExpirySweeper {
	return &ExpirySweeper{
		Handler:       handler,
		CheckInterval: 1 * time.Minute,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the sweeper.
func (es *ExpirySweeper) Start() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.Enabled {
		log.Println("[Sweeper] Disabled, not starting")
		return
	}

	es.ticker = time.NewTicker(es.CheckInterval)
	es.wg.Add(1)

	go es.run()

	log.Printf("[Sweeper] Started with check interval: %v", es.CheckInterval)
}

// Stop stops the sweeper.
func (es *ExpirySweeper) Stop() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.ticker != nil {
		es.ticker.Stop()
		close(es.stop)
		es.wg.Wait()
		log.Println("[Sweeper] Stopped")
	}
}

func (es *ExpirySweeper) run() {
	defer es.wg.Done()

	// Run immediately on start
	es.sweep()

	for {
		select {
		case <-es.ticker.C:
			es.sweep()
		case <-es.stop:
			return
		}
	}
}

func (es *ExpirySweeper) sweep() {
	ctx := context.Background()
	now := es.Handler.Clock.Now()

	released, err := es.Handler.Controller.ReleaseExpired(ctx, now)
	if err != nil {
		log.Printf("[Sweeper] Error releasing expired reservations: %v", err)
		return
	}
	if len(released) > 0 {
		log.Printf("[Sweeper] Released %d expired reservations", len(released))
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (es *ExpirySweeper) RunNow() {
	es.sweep()
}

// GetNextRunTime returns when the next scheduled sweep will occur.
func (es *ExpirySweeper) GetNextRunTime() time.Time {
	return time.Now().Add(es.CheckInterval)
}
