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
)

type memoryRecord struct {
	payload   []byte
	label     string
	createdAt time.Time
}

// MemoryStore keeps records in process memory. Records do not survive a
// restart.
type MemoryStore struct {
	mu         sync.RWMutex
	records    map[string]memoryRecord
	clock      clock.Clock
	maxPayload int64
}

func NewMemoryStore(clk clock.Clock, maxPayload int64) *MemoryStore {
	if clk == nil {
		clk = clock.Real()
	}
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &MemoryStore{
		records:    make(map[string]memoryRecord),
		clock:      clk,
		maxPayload: maxPayload,
	}
}

func (m *MemoryStore) Put(_ context.Context, id string, payload []byte, label string) error {
	if err := validatePut(id, payload, m.maxPayload); err != nil {
		return err
	}
	rec := memoryRecord{
		payload:   clonePayload(payload),
		label:     label,
		createdAt: m.clock.Now(),
	}

	m.mu.Lock()
	m.records[id] = rec
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	now := m.clock.Now()

	m.mu.RLock()
	rec, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	if Expired(rec.createdAt, now) {
		m.mu.Lock()
		// Only drop the entry we looked at; a concurrent Put may have
		// replaced it.
		if cur, ok := m.records[id]; ok && cur.createdAt.Equal(rec.createdAt) {
			delete(m.records, id)
		}
		m.mu.Unlock()
		return nil, ErrNotFound
	}

	return &Record{
		ID:        id,
		Payload:   clonePayload(rec.payload),
		Label:     rec.label,
		CreatedAt: rec.createdAt,
	}, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.records, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Sweep(_ context.Context) (int, error) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, rec := range m.records {
		if Expired(rec.createdAt, now) {
			delete(m.records, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of records held, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryStore) Close() error { return nil }
