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
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fawa-io/coverup/pkg/clock"
)

var epoch = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

type backend struct {
	name string
	open func(t *testing.T, clk clock.Clock, maxPayload int64) Store
}

func backends() []backend {
	return []backend{
		{"memory", func(_ *testing.T, clk clock.Clock, maxPayload int64) Store {
			return NewMemoryStore(clk, maxPayload)
		}},
		{"object", func(_ *testing.T, clk clock.Clock, maxPayload int64) Store {
			return NewObjectStore(newFakeBucket(), newMemIndex(), clk, maxPayload)
		}},
		{"local", func(t *testing.T, clk clock.Clock, maxPayload int64) Store {
			s, err := OpenLocalStore(filepath.Join(t.TempDir(), "shares.db"), 2, clk, maxPayload)
			require.NoError(t, err)
			return s
		}},
	}
}

// forEachBackend runs fn once per backend with a fresh store and clock.
func forEachBackend(t *testing.T, fn func(t *testing.T, s Store, clk *clock.FakeClock)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			clk := clock.Fake(epoch)
			s := b.open(t, clk, 1<<20)
			t.Cleanup(func() { _ = s.Close() })
			fn(t, s, clk)
		})
	}
}

func TestStoreRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ *clock.FakeClock) {
		ctx := context.Background()
		payload := bytes.Repeat([]byte("\x89PNG cover "), 64)

		require.NoError(t, s.Put(ctx, "1717243200000-abc1234", payload, "Blue Train"))

		rec, err := s.Get(ctx, "1717243200000-abc1234")
		require.NoError(t, err)
		assert.Equal(t, payload, rec.Payload)
		assert.Equal(t, "Blue Train", rec.Label)
		assert.Equal(t, "1717243200000-abc1234", rec.ID)
		assert.True(t, rec.CreatedAt.Equal(epoch), "created at %s", rec.CreatedAt)
	})
}

func TestStorePutCopiesPayload(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ *clock.FakeClock) {
		ctx := context.Background()
		payload := []byte("original")
		require.NoError(t, s.Put(ctx, "copy", payload, "x"))
		payload[0] = 'X'

		rec, err := s.Get(ctx, "copy")
		require.NoError(t, err)
		assert.Equal(t, []byte("original"), rec.Payload)
	})
}

func TestStoreTTLBoundary(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clk *clock.FakeClock) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, "ttl", []byte("bytes"), "label"))

		clk.Advance(TTL - time.Second)
		_, err := s.Get(ctx, "ttl")
		require.NoError(t, err, "still inside TTL")

		clk.Advance(time.Second)
		_, err = s.Get(ctx, "ttl")
		require.NoError(t, err, "exactly TTL old is still retrievable")

		clk.Advance(time.Second)
		_, err = s.Get(ctx, "ttl")
		assert.ErrorIs(t, err, ErrNotFound)

		// The failed lookup removed the record, so there is nothing to sweep.
		n, err := s.Sweep(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestStoreSweep(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clk *clock.FakeClock) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, "old-1", []byte("a"), "a"))
		require.NoError(t, s.Put(ctx, "old-2", []byte("b"), "b"))

		clk.Advance(30 * time.Minute)
		require.NoError(t, s.Put(ctx, "fresh", []byte("c"), "c"))

		clk.Advance(31 * time.Minute)

		n, err := s.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = s.Sweep(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		rec, err := s.Get(ctx, "fresh")
		require.NoError(t, err)
		assert.Equal(t, []byte("c"), rec.Payload)

		_, err = s.Get(ctx, "old-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStoreDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ *clock.FakeClock) {
		ctx := context.Background()

		require.NoError(t, s.Delete(ctx, "never-existed"))
		_, err := s.Get(ctx, "never-existed")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.Put(ctx, "gone", []byte("x"), "x"))
		require.NoError(t, s.Delete(ctx, "gone"))
		_, err = s.Get(ctx, "gone")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStorePutReplaces(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clk *clock.FakeClock) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, "same", []byte("first"), "one"))
		clk.Advance(50 * time.Minute)
		require.NoError(t, s.Put(ctx, "same", []byte("second"), "two"))
		clk.Advance(50 * time.Minute)

		rec, err := s.Get(ctx, "same")
		require.NoError(t, err)
		assert.Equal(t, []byte("second"), rec.Payload)
		assert.Equal(t, "two", rec.Label)
	})
}

func TestStoreRejects(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ *clock.FakeClock) {
		ctx := context.Background()

		err := s.Put(ctx, "big", make([]byte, 1<<20+1), "x")
		assert.ErrorIs(t, err, ErrPayloadTooLarge)

		assert.NoError(t, s.Put(ctx, "limit", make([]byte, 1<<20), "x"))

		assert.ErrorIs(t, s.Put(ctx, "", []byte("x"), "x"), ErrInvalidID)
		assert.ErrorIs(t, s.Put(ctx, "../etc/passwd", []byte("x"), "x"), ErrInvalidID)
		assert.ErrorIs(t, s.Put(ctx, "empty", nil, "x"), ErrEmptyPayload)
	})
}

func TestValidateID(t *testing.T) {
	for _, id := range []string{"1717243200000-abc1234", "a", "A_b.c-9"} {
		assert.NoError(t, ValidateID(id), id)
	}
	for _, id := range []string{"", ".", "..", "a/b", "with space", "ü", string(make([]byte, maxIDLength+1))} {
		assert.ErrorIs(t, ValidateID(id), ErrInvalidID, "%q", id)
	}
}

func TestExpired(t *testing.T) {
	assert.False(t, Expired(epoch, epoch))
	assert.False(t, Expired(epoch, epoch.Add(TTL)))
	assert.True(t, Expired(epoch, epoch.Add(TTL+time.Millisecond)))
}

func TestStoreSweepSparesReput(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clk *clock.FakeClock) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, "cover", []byte("old"), "x"))
		require.NoError(t, s.Put(ctx, "stale", []byte("stale"), "x"))

		clk.Advance(2 * time.Hour)
		require.NoError(t, s.Put(ctx, "cover", []byte("new"), "y"))

		n, err := s.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		rec, err := s.Get(ctx, "cover")
		require.NoError(t, err)
		assert.Equal(t, []byte("new"), rec.Payload)
	})
}

func TestStoreSweepConcurrentWithPut(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clk *clock.FakeClock) {
		ctx := context.Background()
		ids := make([]string, 20)
		for i := range ids {
			ids[i] = fmt.Sprintf("cover-%02d", i)
			require.NoError(t, s.Put(ctx, ids[i], []byte("old"), "x"))
		}
		clk.Advance(2 * time.Hour)

		stop := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if _, err := s.Sweep(ctx); err != nil {
					t.Errorf("Sweep() error = %v", err)
					return
				}
			}
		}()

		for _, id := range ids {
			require.NoError(t, s.Put(ctx, id, []byte("new"), "y"))
			rec, err := s.Get(ctx, id)
			if assert.NoError(t, err, id) {
				assert.Equal(t, []byte("new"), rec.Payload)
			}
		}
		close(stop)
		wg.Wait()
	})
}
