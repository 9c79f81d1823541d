// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

// Package retry runs a function until it succeeds, a retry budget is
// exhausted, or the context is done.
package retry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/stratosearch/stratos/internal/log"
)

type config struct {
	attempts     uint
	sleep        time.Duration
	maxSleepTime time.Duration
}

// Option configures a retry loop.
type Option func(*config)

// Attempts sets the maximum number of tries.
func Attempts(attempts uint) Option {
	return func(c *config) {
		c.attempts = attempts
	}
}

// Sleep sets the initial back-off interval. The interval doubles after each
// failure up to MaxSleepTime.
func Sleep(sleep time.Duration) Option {
	return func(c *config) {
		c.sleep = sleep
	}
}

// MaxSleepTime caps the back-off interval.
func MaxSleepTime(d time.Duration) Option {
	return func(c *config) {
		c.maxSleepTime = d
	}
}

func newDefaultConfig() *config {
	return &config{
		attempts:     10,
		sleep:        200 * time.Millisecond,
		maxSleepTime: 3 * time.Second,
	}
}

type unrecoverableError struct {
	error
}

// Unrecoverable marks err so Do gives up immediately.
func Unrecoverable(err error) error {
	return unrecoverableError{err}
}

// Do executes fn until it returns nil or the retry budget runs out. The last
// error is returned.
func Do(ctx context.Context, fn func() error, opts ...Option) error {
	c := newDefaultConfig()
	for _, opt := range opts {
		opt(c)
	}

	var lastErr error
	for i := uint(0); i < c.attempts; i++ {
		if err := fn(); err != nil {
			if i%4 == 0 {
				log.Debug("retry func failed", zap.Uint("retry time", i), zap.Error(err))
			}
			if _, ok := err.(unrecoverableError); ok {
				return err
			}
			lastErr = err

			select {
			case <-time.After(c.sleep):
			case <-ctx.Done():
				return ctx.Err()
			}

			c.sleep *= 2
			if c.sleep > c.maxSleepTime {
				c.sleep = c.maxSleepTime
			}
			continue
		}
		return nil
	}
	return lastErr
}
