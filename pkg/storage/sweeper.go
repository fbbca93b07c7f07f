// Copyright 2025 The fawa Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"context"
	"sync"
	"time"

	"github.com/fawa-io/coverup/pkg/clock"
	"github.com/fawa-io/coverup/pkg/fwlog"
)

// Sweeper calls Store.Sweep on a fixed interval, independent of traffic.
type Sweeper struct {
	store    Store
	clock    clock.Clock
	interval time.Duration
	log      fwlog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewSweeper returns a sweeper for store. An interval <= 0 means TTL.
func NewSweeper(store Store, clk clock.Clock, interval time.Duration) *Sweeper {
	if clk == nil {
		clk = clock.Real()
	}
	if interval <= 0 {
		interval = TTL
	}
	return &Sweeper{
		store:    store,
		clock:    clk,
		interval: interval,
		log:      fwlog.With("component", "sweeper"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. The ticker is created before Start
// returns, so ticks from a fake clock advanced afterwards are observed.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	go func() {
		defer close(s.done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// RunOnce performs a single sweep and logs the outcome.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	n, err := s.store.Sweep(ctx)
	if err != nil {
		s.log.Errorf("Sweep failed after removing %d share(s): %v", n, err)
		return n
	}
	if n > 0 {
		s.log.Infof("Swept %d expired share(s)", n)
	} else {
		s.log.Debug("Sweep found nothing to remove")
	}
	return n
}

// Stop ends the loop and waits for an in-progress sweep to finish.
// It must only be called after Start.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}
