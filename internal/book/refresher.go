package book

import (
	"context"
	"sync"
	"time"

	"Cradle-storage/internal/metrics"
)

// Refresher periodically reloads the pages of every registered book so that
// page switches made by other writers become visible.
type Refresher struct {
	registry *Registry
	ticker   *time.Ticker
	stop     chan struct{}
	wg       sync.WaitGroup
}

// StartRefresher launches the refresh loop. A non-positive interval
// disables it and returns nil.
func StartRefresher(r *Registry, interval time.Duration) *Refresher {
	if interval <= 0 {
		return nil
	}
	rf := &Refresher{
		registry: r,
		ticker:   time.NewTicker(interval),
		stop:     make(chan struct{}),
	}
	rf.wg.Add(1)
	go rf.refreshLoop()
	return rf
}

func (rf *Refresher) refreshLoop() {
	defer rf.wg.Done()
	for {
		select {
		case <-rf.ticker.C:
			rf.RefreshAll(context.Background())
		case <-rf.stop:
			return
		}
	}
}

// RefreshAll refreshes each book once. Failures are logged and counted.
func (rf *Refresher) RefreshAll(ctx context.Context) {
	for _, b := range rf.registry.Books() {
		if _, err := rf.registry.Refresh(ctx, b.ID); err != nil {
			metrics.ErrorsTotal.WithLabelValues("book_refresh").Inc()
			rf.registry.log.Warn("periodic book refresh failed", "book", b.ID, "error", err)
		}
	}
}

// Stop ends the loop and waits for it. Safe on a nil Refresher.
func (rf *Refresher) Stop() {
	if rf == nil {
		return
	}
	rf.ticker.Stop()
	close(rf.stop)
	rf.wg.Wait()
}
