// Copyright 2025 The Kestrel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package retry implements a retry helper with exponential backoff.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Options provides control of the retry loop's behavior.
type Options struct {
	// InitialBackoff is the duration of the first backoff period. If zero,
	// a 50ms default is used.
	InitialBackoff time.Duration
	// MaxBackoff caps the backoff growth. If zero, a 2s default is used.
	MaxBackoff time.Duration
	// Multiplier is applied to the backoff after each retry. If zero, a
	// default of 2 is used.
	Multiplier float64
	// RandomizationFactor jitters each backoff period by +/- this fraction
	// of its nominal duration. If zero, a default of 0.15 is used; set it
	// negative to disable jitter.
	RandomizationFactor float64
	// MaxRetries, if positive, bounds the number of retries after the first
	// attempt. Zero means retry indefinitely.
	MaxRetries int
	// Closer, if set, stops the loop when closed.
	Closer <-chan struct{}
}

// Retry implements the public methods necessary to control an exponential-
// backoff retry loop. The usual pattern is:
//
//	for r := retry.StartWithCtx(ctx, opts); r.Next(); {
//		// ... do work, break on success ...
//	}
type Retry struct {
	opts           Options
	ctx            context.Context
	currentAttempt int
	isReset        bool
}

// Start returns a new Retry initialized to its first attempt.
func Start(opts Options) Retry {
	return StartWithCtx(context.Background(), opts)
}

// StartWithCtx is like Start, but the returned Retry also stops when the
// given context is canceled.
func StartWithCtx(ctx context.Context, opts Options) Retry {
	if opts.InitialBackoff == 0 {
		opts.InitialBackoff = 50 * time.Millisecond
	}
	if opts.MaxBackoff == 0 {
		opts.MaxBackoff = 2 * time.Second
	}
	if opts.Multiplier == 0 {
		opts.Multiplier = 2
	}
	if opts.RandomizationFactor == 0 {
		opts.RandomizationFactor = 0.15
	}
	r := Retry{opts: opts, ctx: ctx}
	r.Reset()
	return r
}

// Reset re-initializes the Retry so that the next call to Next returns true
// immediately and the backoff restarts from InitialBackoff.
func (r *Retry) Reset() {
	r.currentAttempt = 0
	r.isReset = true
}

// CurrentAttempt returns the zero-based index of the current attempt.
func (r *Retry) CurrentAttempt() int {
	return r.currentAttempt
}

func (r *Retry) retryIn() time.Duration {
	backoff := float64(r.opts.InitialBackoff) * math.Pow(r.opts.Multiplier, float64(r.currentAttempt))
	if maxBackoff := float64(r.opts.MaxBackoff); backoff > maxBackoff {
		backoff = maxBackoff
	}
	if r.opts.RandomizationFactor > 0 {
		delta := r.opts.RandomizationFactor * backoff
		backoff = backoff - delta + rand.Float64()*2*delta
		// Jitter applies to the clamped value, so clamp once more: the
		// cap bounds the period itself, not just its nominal base.
		if maxBackoff := float64(r.opts.MaxBackoff); backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return time.Duration(backoff)
}

// Next returns whether the retry loop should continue, blocking for the
// current backoff period first if this is not the first attempt. It returns
// false once MaxRetries has been exceeded, the context has been canceled,
// or the Closer has been closed.
func (r *Retry) Next() bool {
	if r.isReset {
		r.isReset = false
		return true
	}
	if r.opts.MaxRetries > 0 && r.currentAttempt >= r.opts.MaxRetries {
		return false
	}
	select {
	case <-time.After(r.retryIn()):
		r.currentAttempt++
		return true
	case <-r.ctx.Done():
		return false
	case <-r.opts.Closer:
		return false
	}
}
