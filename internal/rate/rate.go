// Copyright 2026 The Cobble Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package rate provides write pacing for background work. Compactions and
// flushes throttle their disk writes through a Limiter so that background
// I/O does not starve foreground traffic.
package rate

import (
	"sync"
	"time"

	"github.com/cockroachdb/tokenbucket"
)

// A Limiter controls how frequently events are allowed to happen. It
// implements a token bucket of a given burst size, refilled at a given rate.
type Limiter struct {
	mu sync.Mutex
	tb tokenbucket.TokenBucket

	rate  float64
	burst float64
}

// NewLimiter returns a new Limiter that allows events up to rate r tokens
// per second and permits bursts of at most burst tokens.
func NewLimiter(r float64, burst float64) *Limiter {
	l := &Limiter{rate: r, burst: burst}
	l.tb.Init(tokenbucket.TokensPerSecond(r), tokenbucket.Tokens(burst))
	return l
}

// Wait blocks until n tokens are available.
func (l *Limiter) Wait(n float64) {
	for {
		l.mu.Lock()
		ok, d := l.tb.TryToFulfill(tokenbucket.Tokens(n))
		l.mu.Unlock()
		if ok {
			return
		}
		time.Sleep(d)
	}
}

// Rate returns the configured refill rate in tokens per second.
func (l *Limiter) Rate() float64 {
	return l.rate
}
