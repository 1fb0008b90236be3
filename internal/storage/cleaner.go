package storage

import (
	"log/slog"
	"time"
)

// Cleaner periodically removes recordings past the retention age from
// backends that support cleanup.
type Cleaner struct {
	store       Backend
	maxAgeHours int
	interval    time.Duration
	stopCh      chan struct{}
}

// NewCleaner creates a Cleaner that deletes recordings older than maxAgeHours.
// If maxAgeHours is 0 the cleaner does nothing when started.
func NewCleaner(store Backend, maxAgeHours int, interval time.Duration) *Cleaner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Cleaner{
		store:       store,
		maxAgeHours: maxAgeHours,
		interval:    interval,
		stopCh:      make(chan struct{}),
	}
}

// Start launches the cleanup goroutine. It returns immediately.
func (c *Cleaner) Start() {
	if c.maxAgeHours <= 0 {
		return
	}
	if _, ok := c.store.(Cleanable); !ok {
		slog.Info("storage backend does not support cleanup, retention disabled")
		return
	}
	go c.loop()
}

// Stop signals the cleanup goroutine to exit.
func (c *Cleaner) Stop() {
	close(c.stopCh)
}

func (c *Cleaner) loop() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.run()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cleaner) run() {
	cl, ok := c.store.(Cleanable)
	if !ok || c.maxAgeHours <= 0 {
		return
	}
	if n := cl.CleanupOldRecordings(c.maxAgeHours); n > 0 {
		slog.Info("recording cleanup: deleted expired recordings",
			"count", n, "max_age_hours", c.maxAgeHours)
	}
}
