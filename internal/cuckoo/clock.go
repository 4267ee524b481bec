package cuckoo

import (
	"sync/atomic"
	"time"
)

// Clock is a coarse, second-granularity monotonic-ish clock updated by
// a single background goroutine. Expiry checks compare against it
// instead of calling time.Now() on every access.
//
// Grounded on the calibrating background goroutine in orca-zhang's
// ecache, adapted from nanosecond to second granularity since the
// protocol's expiry field is seconds-since-epoch.
type Clock struct {
	now   int64 // atomic: current absolute unix seconds
	stopc chan struct{}
}

// NewClock starts the calibration goroutine and returns a running Clock.
// Call Stop to release it.
func NewClock() *Clock {
	c := &Clock{
		now:   time.Now().Unix(),
		stopc: make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *Clock) run() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			atomic.StoreInt64(&c.now, time.Now().Unix())
		case <-c.stopc:
			return
		}
	}
}

// Now returns the current coarse unix-seconds timestamp.
func (c *Clock) Now() uint32 {
	return uint32(atomic.LoadInt64(&c.now))
}

// Stop halts the calibration goroutine.
func (c *Clock) Stop() {
	close(c.stopc)
}
