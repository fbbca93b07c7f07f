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
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fawa-io/coverup/pkg/clock"
	"github.com/fawa-io/coverup/pkg/util"
)

const localSchema = `
CREATE TABLE IF NOT EXISTS shares (
	id         TEXT PRIMARY KEY,
	label      TEXT NOT NULL,
	payload    BLOB NOT NULL,
	compressed INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS shares_created_at ON shares (created_at);
`

// LocalStore keeps records in a SQLite file on the local disk.
// CreatedAt is stored in unix milliseconds.
type LocalStore struct {
	db         *sql.DB
	compressor *Compressor
	clock      clock.Clock
	maxPayload int64
}

// OpenLocalStore opens (creating if needed) the SQLite database at path.
func OpenLocalStore(path string, compressionLevel int, clk clock.Clock, maxPayload int64) (*LocalStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("local store path is required")
	}
	if clk == nil {
		clk = clock.Real()
	}
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}

	cleanPath := filepath.Clean(path)
	if err := util.EnsureParentDir(cleanPath); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	dsn := cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(localSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	compressor, err := NewCompressor(compressionLevel)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init compressor: %w", err)
	}

	return &LocalStore{
		db:         db,
		compressor: compressor,
		clock:      clk,
		maxPayload: maxPayload,
	}, nil
}

func (s *LocalStore) Put(ctx context.Context, id string, payload []byte, label string) error {
	if err := validatePut(id, payload, s.maxPayload); err != nil {
		return err
	}
	data, compressed := s.compressor.Compress(payload)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO shares (id, label, payload, compressed, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			label = excluded.label,
			payload = excluded.payload,
			compressed = excluded.compressed,
			created_at = excluded.created_at`,
		id, label, data, boolToInt(compressed), s.clock.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put share: %w", err)
	}
	return nil
}

func (s *LocalStore) Get(ctx context.Context, id string) (*Record, error) {
	var (
		label      string
		data       []byte
		compressed int64
		createdAt  int64
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT label, payload, compressed, created_at FROM shares WHERE id = ?`, id)
	if err := row.Scan(&label, &data, &compressed, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get share: %w", err)
	}

	created := time.UnixMilli(createdAt)
	if Expired(created, s.clock.Now()) {
		// Conditional on created_at so a concurrent re-put survives.
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM shares WHERE id = ? AND created_at = ?`, id, createdAt); err != nil {
			return nil, fmt.Errorf("delete expired share: %w", err)
		}
		return nil, ErrNotFound
	}

	if compressed != 0 {
		var err error
		if data, err = s.compressor.Decompress(data); err != nil {
			return nil, fmt.Errorf("decompress share %s: %w", id, err)
		}
	}
	return &Record{ID: id, Payload: data, Label: label, CreatedAt: created}, nil
}

func (s *LocalStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM shares WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete share: %w", err)
	}
	return nil
}

// Sweep deletes every expired row in one transaction.
func (s *LocalStore) Sweep(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-TTL).UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin sweep: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM shares WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep shares: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep shares: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit sweep: %w", err)
	}
	return int(n), nil
}

func (s *LocalStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	_ = s.compressor.Close()
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
