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
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/fawa-io/coverup/pkg/clock"
	"github.com/fawa-io/coverup/pkg/fwlog"
)

// UploadWindow is how long a presigned upload URL stays valid.
const UploadWindow = 15 * time.Minute

const objectPrefix = "shares/"

// objectKey names one version of id. Re-putting an id writes a new object,
// so evicting the old version can never remove the new bytes.
func objectKey(id string, createdAt int64) string {
	return objectPrefix + id + "/" + strconv.FormatInt(createdAt, 10)
}

// ObjectStore keeps payloads in a Bucket and tracks their age in an
// Index. Expired records are deleted as soon as they are noticed, either
// by Get or by Sweep.
type ObjectStore struct {
	bucket     Bucket
	index      Index
	clock      clock.Clock
	maxPayload int64
	log        fwlog.Logger
}

func NewObjectStore(bucket Bucket, index Index, clk clock.Clock, maxPayload int64) *ObjectStore {
	if clk == nil {
		clk = clock.Real()
	}
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &ObjectStore{
		bucket:     bucket,
		index:      index,
		clock:      clk,
		maxPayload: maxPayload,
		log:        fwlog.With("backend", "object"),
	}
}

// Put uploads the object before indexing it, so a reader never sees an
// index entry without bytes behind it.
func (o *ObjectStore) Put(ctx context.Context, id string, payload []byte, label string) error {
	if err := validatePut(id, payload, o.maxPayload); err != nil {
		return err
	}
	createdAt := o.clock.Now().UnixMilli()
	key := objectKey(id, createdAt)
	size := int64(len(payload))
	prev := o.previous(ctx, id)

	if err := o.bucket.Put(ctx, key, bytes.NewReader(payload), size, http.DetectContentType(payload)); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	entry := &IndexEntry{
		Label:     label,
		ObjectKey: key,
		Size:      size,
		CreatedAt: createdAt,
	}
	if err := o.index.Save(ctx, id, entry); err != nil {
		if rmErr := o.bucket.Remove(ctx, key); rmErr != nil {
			o.log.Warnf("Failed to roll back object %s: %v", key, rmErr)
		}
		return fmt.Errorf("index %s: %w", id, err)
	}
	o.discard(ctx, prev, key)
	return nil
}

func (o *ObjectStore) Get(ctx context.Context, id string) (*Record, error) {
	entry, data, err := o.fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	createdAt := time.UnixMilli(entry.CreatedAt)
	rec := &Record{
		ID:        id,
		Payload:   data,
		Label:     entry.Label,
		CreatedAt: createdAt,
	}
	if u, err := o.bucket.URL(ctx, entry.ObjectKey, o.remaining(createdAt)); err == nil {
		rec.URL = u
	} else {
		o.log.Warnf("Failed to sign URL for %s: %v", entry.ObjectKey, err)
	}
	return rec, nil
}

// fetch downloads the live version of id. A missing object is retried once
// in case a concurrent Put replaced the version between the two reads.
func (o *ObjectStore) fetch(ctx context.Context, id string) (*IndexEntry, []byte, error) {
	var lastKey string
	for attempt := 0; attempt < 2; attempt++ {
		entry, err := o.live(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		if entry.ObjectKey == lastKey {
			break
		}
		lastKey = entry.ObjectKey

		data, err := o.bucket.Get(ctx, entry.ObjectKey)
		if err == nil {
			return entry, data, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, nil, fmt.Errorf("download %s: %w", entry.ObjectKey, err)
		}
	}
	// Indexed through an upload token but never uploaded.
	return nil, nil, ErrNotFound
}

// Locate returns a URL the object can be downloaded from directly. It
// stops working when the record expires.
func (o *ObjectStore) Locate(ctx context.Context, id string) (string, error) {
	entry, err := o.live(ctx, id)
	if err != nil {
		return "", err
	}
	return o.bucket.URL(ctx, entry.ObjectKey, o.remaining(time.UnixMilli(entry.CreatedAt)))
}

// IssueUploadToken presigns a size-limited form upload for id and
// registers the record, whose TTL starts now. Get reports ErrNotFound until
// the upload lands.
func (o *ObjectStore) IssueUploadToken(ctx context.Context, id, label string) (*UploadToken, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	now := o.clock.Now()
	key := objectKey(id, now.UnixMilli())
	prev := o.previous(ctx, id)

	uploadURL, fields, err := o.bucket.PresignPost(ctx, key, UploadWindow, o.maxPayload)
	if err != nil {
		return nil, fmt.Errorf("presign upload %s: %w", key, err)
	}
	if err := o.index.Save(ctx, id, &IndexEntry{Label: label, ObjectKey: key, CreatedAt: now.UnixMilli()}); err != nil {
		return nil, fmt.Errorf("index %s: %w", id, err)
	}
	o.discard(ctx, prev, key)

	downloadURL, err := o.bucket.URL(ctx, key, TTL)
	if err != nil {
		return nil, fmt.Errorf("sign download %s: %w", key, err)
	}
	return &UploadToken{
		URL:         uploadURL,
		Method:      http.MethodPost,
		Fields:      fields,
		MaxBytes:    o.maxPayload,
		ExpiresAt:   now.Add(UploadWindow),
		DownloadURL: downloadURL,
	}, nil
}

func (o *ObjectStore) Delete(ctx context.Context, id string) error {
	_, err := o.evict(ctx, id, 0)
	return err
}

func (o *ObjectStore) Sweep(ctx context.Context) (int, error) {
	members, err := o.index.Expired(ctx, o.clock.Now().Add(-TTL))
	if err != nil {
		return 0, fmt.Errorf("list expired: %w", err)
	}
	removed := 0
	var errs []error
	for _, m := range members {
		// Conditional on the listed creation time: a Put that landed since
		// the listing keeps its record.
		ok, err := o.evict(ctx, m.ID, m.CreatedAt)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			removed++
		}
	}
	return removed, errors.Join(errs...)
}

func (o *ObjectStore) Close() error {
	return o.index.Close()
}

// live loads the index entry for id, evicting it if it has expired.
func (o *ObjectStore) live(ctx context.Context, id string) (*IndexEntry, error) {
	entry, err := o.index.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if Expired(time.UnixMilli(entry.CreatedAt), o.clock.Now()) {
		if _, err := o.evict(ctx, id, entry.CreatedAt); err != nil {
			o.log.Warnf("Failed to evict expired share %s: %v", id, err)
		}
		return nil, ErrNotFound
	}
	return entry, nil
}

// evict drops the index entry first, then the object it pointed at.
// createdAt 0 removes whatever version is indexed.
func (o *ObjectStore) evict(ctx context.Context, id string, createdAt int64) (bool, error) {
	entry, err := o.index.Remove(ctx, id, createdAt)
	if err != nil {
		return false, fmt.Errorf("unindex %s: %w", id, err)
	}
	if entry == nil {
		return false, nil
	}
	if err := o.bucket.Remove(ctx, entry.ObjectKey); err != nil {
		return true, fmt.Errorf("remove object %s: %w", entry.ObjectKey, err)
	}
	return true, nil
}

// previous returns the entry id is indexed under before a replacement.
func (o *ObjectStore) previous(ctx context.Context, id string) *IndexEntry {
	entry, err := o.index.Load(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			o.log.Warnf("Failed to load previous entry for %s: %v", id, err)
		}
		return nil
	}
	return entry
}

// discard removes the object of a replaced entry.
func (o *ObjectStore) discard(ctx context.Context, prev *IndexEntry, current string) {
	if prev == nil || prev.ObjectKey == current {
		return
	}
	if err := o.bucket.Remove(ctx, prev.ObjectKey); err != nil {
		o.log.Warnf("Failed to remove replaced object %s: %v", prev.ObjectKey, err)
	}
}

func (o *ObjectStore) remaining(createdAt time.Time) time.Duration {
	d := TTL - o.clock.Now().Sub(createdAt)
	if d < time.Second {
		d = time.Second
	}
	return d
}
