// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// Fake is a deterministic Clock for tests. Time only moves when the
// test calls Advance. Waiters registered through After, Sleep, and
// NewTicker fire synchronously inside Advance, so a test that advances
// past a poll interval knows the poll has observed the tick by the
// time Advance returns (the tick channels are buffered; delivery does
// not require the polling goroutine to be scheduled first).
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	target   time.Time
	interval time.Duration // 0 for one-shot
	ch       chan time.Time
	stopped  bool
}

// NewFake returns a Fake whose current time is the given instant.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After returns a channel that fires when Advance moves the clock past
// duration d. If d <= 0 the channel fires immediately.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- f.now
		return ch
	}
	f.waiters = append(f.waiters, &fakeWaiter{target: f.now.Add(d), ch: ch})
	return ch
}

// NewTicker returns a Ticker that fires once per interval crossed by
// Advance. Panics if d <= 0, matching time.NewTicker.
func (f *Fake) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("non-positive interval for NewTicker")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	waiter := &fakeWaiter{target: f.now.Add(d), interval: d, ch: make(chan time.Time, 1)}
	f.waiters = append(f.waiters, waiter)

	return &Ticker{
		C: waiter.ch,
		stopFunc: func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			waiter.stopped = true
		},
	}
}

// Sleep blocks until Advance moves the clock past duration d. A test
// must advance the clock from another goroutine or the sleeper hangs.
func (f *Fake) Sleep(d time.Duration) {
	<-f.After(d)
}

// Advance moves the fake time forward by d, firing every waiter whose
// target falls inside the window. Tickers fire once per elapsed
// interval (subject to the capacity-1 drop rule) and re-arm.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = f.now.Add(d)

	remaining := f.waiters[:0]
	for _, waiter := range f.waiters {
		if waiter.stopped {
			continue
		}
		for !waiter.target.After(f.now) {
			select {
			case waiter.ch <- waiter.target:
			default: // consumer behind; drop the tick
			}
			if waiter.interval == 0 {
				waiter.stopped = true
				break
			}
			waiter.target = waiter.target.Add(waiter.interval)
		}
		if !waiter.stopped {
			remaining = append(remaining, waiter)
		}
	}
	f.waiters = remaining
}
