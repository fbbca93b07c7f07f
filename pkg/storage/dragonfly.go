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
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fawa-io/coverup/pkg/config"
)

const (
	indexKey   = "share:index"
	metaPrefix = "share:meta:"
)

// IndexEntry is the metadata kept for one object-backed record.
// CreatedAt is in unix milliseconds.
type IndexEntry struct {
	Label     string `json:"label"`
	ObjectKey string `json:"objectKey"`
	Size      int64  `json:"size"`
	CreatedAt int64  `json:"createdAt"`
}

// IndexMember is one id in the index together with the creation time it
// was indexed under, in unix milliseconds.
type IndexMember struct {
	ID        string
	CreatedAt int64
}

// Index tracks which objects exist and when they were created, so that
// expiry does not depend on the object store's own lifecycle rules.
type Index interface {
	Save(ctx context.Context, id string, entry *IndexEntry) error
	Load(ctx context.Context, id string) (*IndexEntry, error)
	// Remove drops id and returns the entry it dropped, or nil when id was
	// not indexed. A non-zero createdAt makes the removal conditional: an
	// id re-saved under another creation time is left alone.
	Remove(ctx context.Context, id string, createdAt int64) (*IndexEntry, error)
	// Expired lists members created strictly before cutoff.
	Expired(ctx context.Context, cutoff time.Time) ([]IndexMember, error)
	Close() error
}

// DragonflyIndex implements Index on Dragonfly (or Redis). Each record has
// a JSON meta key and a member in one sorted set scored by creation time.
type DragonflyIndex struct {
	client redis.Cmdable
	closer func() error
}

// NewDragonflyIndex creates a new instance of DragonflyIndex and checks
// the connection.
func NewDragonflyIndex(ctx context.Context, cfg config.DragonflyConfig) (*DragonflyIndex, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &DragonflyIndex{client: client, closer: client.Close}, nil
}

func metaKey(id string) string { return metaPrefix + id }

// KEYS[1] meta key, KEYS[2] index; ARGV[1] id, ARGV[2] expected creation
// time or 0. Returns {meta, score} of what was removed, or nil.
var removeScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[2], ARGV[1])
local want = tonumber(ARGV[2])
if want ~= 0 and (not score or tonumber(score) ~= want) then
  return false
end
local meta = redis.call('GET', KEYS[1])
if not score and not meta then
  return false
end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return {meta or '', score or ''}
`)

// Save writes the sorted set member first and the meta key last. A record
// is only visible to Load once its meta key exists.
func (d *DragonflyIndex) Save(ctx context.Context, id string, entry *IndexEntry) error {
	if entry == nil {
		return errors.New("index entry cannot be nil")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := d.client.ZAdd(ctx, indexKey, redis.Z{Score: float64(entry.CreatedAt), Member: id}).Err(); err != nil {
		return err
	}
	// The key outlives TTL so a missed sweep does not leak it forever.
	return d.client.Set(ctx, metaKey(id), data, 2*TTL).Err()
}

func (d *DragonflyIndex) Load(ctx context.Context, id string) (*IndexEntry, error) {
	val, err := d.client.Get(ctx, metaKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var entry IndexEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Remove checks the creation time and deletes both keys in one script, so a
// concurrent Save of the same id either wins entirely or is not touched.
func (d *DragonflyIndex) Remove(ctx context.Context, id string, createdAt int64) (*IndexEntry, error) {
	vals, err := removeScript.Run(ctx, d.client, []string{metaKey(id), indexKey}, id, createdAt).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(vals) != 2 {
		return nil, errors.New("unexpected reply from remove script")
	}

	if vals[0] != "" {
		var entry IndexEntry
		if err := json.Unmarshal([]byte(vals[0]), &entry); err != nil {
			return nil, err
		}
		return &entry, nil
	}
	// Only the sorted set member was left; the meta key had expired.
	score, err := strconv.ParseFloat(vals[1], 64)
	if err != nil {
		return nil, err
	}
	created := int64(math.Round(score))
	return &IndexEntry{ObjectKey: objectKey(id, created), CreatedAt: created}, nil
}

func (d *DragonflyIndex) Expired(ctx context.Context, cutoff time.Time) ([]IndexMember, error) {
	zs, err := d.client.ZRangeByScoreWithScores(ctx, indexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	members := make([]IndexMember, 0, len(zs))
	for _, z := range zs {
		id, ok := z.Member.(string)
		if !ok {
			continue
		}
		members = append(members, IndexMember{ID: id, CreatedAt: int64(math.Round(z.Score))})
	}
	return members, nil
}

func (d *DragonflyIndex) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer()
}
