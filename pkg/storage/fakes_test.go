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
	"errors"
	"io"
	"net/url"
	"sort"
	"sync"
	"time"
)

type fakeBucket struct {
	mu       sync.Mutex
	objects  map[string][]byte
	putErr   error
	maxBytes int64
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: make(map[string][]byte)}
}

func (b *fakeBucket) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if b.putErr != nil {
		return b.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.objects[key] = data
	b.mu.Unlock()
	return nil
}

func (b *fakeBucket) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (b *fakeBucket) Remove(_ context.Context, key string) error {
	b.mu.Lock()
	delete(b.objects, key)
	b.mu.Unlock()
	return nil
}

func (b *fakeBucket) URL(_ context.Context, key string, expires time.Duration) (string, error) {
	return "https://objects.test/" + url.PathEscape(key) + "?expires=" + expires.String(), nil
}

func (b *fakeBucket) PresignPost(_ context.Context, key string, _ time.Duration, maxBytes int64) (string, map[string]string, error) {
	b.mu.Lock()
	b.maxBytes = maxBytes
	b.mu.Unlock()
	return "https://objects.test/upload", map[string]string{"key": key, "policy": "signed"}, nil
}

func (b *fakeBucket) keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (b *fakeBucket) has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok
}

// memIndex is an in-process Index with the same ordering rules as the
// Dragonfly one.
type memIndex struct {
	mu      sync.Mutex
	entries map[string]IndexEntry
	saveErr error
	// afterList runs once Expired has taken its snapshot.
	afterList func()
}

func newMemIndex() *memIndex {
	return &memIndex{entries: make(map[string]IndexEntry)}
}

func (m *memIndex) Save(_ context.Context, id string, entry *IndexEntry) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	if entry == nil {
		return errors.New("index entry cannot be nil")
	}
	m.mu.Lock()
	m.entries[id] = *entry
	m.mu.Unlock()
	return nil
}

func (m *memIndex) Load(_ context.Context, id string) (*IndexEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (m *memIndex) Remove(_ context.Context, id string, createdAt int64) (*IndexEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || (createdAt != 0 && e.CreatedAt != createdAt) {
		return nil, nil
	}
	delete(m.entries, id)
	return &e, nil
}

func (m *memIndex) Expired(_ context.Context, cutoff time.Time) ([]IndexMember, error) {
	m.mu.Lock()
	var members []IndexMember
	for id, e := range m.entries {
		if e.CreatedAt < cutoff.UnixMilli() {
			members = append(members, IndexMember{ID: id, CreatedAt: e.CreatedAt})
		}
	}
	m.mu.Unlock()

	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	if m.afterList != nil {
		m.afterList()
	}
	return members, nil
}

func (m *memIndex) Close() error { return nil }
