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

// Package storage keeps shared artifacts for a fixed time-to-live.
//
// Every backend implements Store. A record is readable while
// now - CreatedAt <= TTL; after that it behaves as if it never existed
// and is removed by the failed lookup or by the next Sweep.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TTL is how long a shared record stays retrievable.
const TTL = time.Hour

// DefaultMaxPayload is the payload ceiling applied when none is configured.
const DefaultMaxPayload = 50 << 20

const maxIDLength = 128

var (
	ErrNotFound        = errors.New("storage: record not found")
	ErrPayloadTooLarge = errors.New("storage: payload too large")
	ErrInvalidID       = errors.New("storage: invalid id")
	ErrEmptyPayload    = errors.New("storage: empty payload")
	ErrUnsupported     = errors.New("storage: operation not supported by backend")
)

// Record is one shared artifact. URL is only set by backends that can
// serve the payload directly.
type Record struct {
	ID        string
	Payload   []byte
	Label     string
	CreatedAt time.Time
	URL       string
}

// Store is the contract shared by the memory, object and local backends.
// Get returns ErrNotFound for absent and expired ids alike. Delete of an
// absent id is not an error.
type Store interface {
	Put(ctx context.Context, id string, payload []byte, label string) error
	Get(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
	Sweep(ctx context.Context) (int, error)
	Close() error
}

// Locator is implemented by stores whose records have a URL that can be
// fetched without going through this service.
type Locator interface {
	Locate(ctx context.Context, id string) (string, error)
}

// UploadToken authorises one direct upload to object storage. The client
// sends a multipart form to URL with Fields followed by the file; the
// object store rejects bodies larger than MaxBytes.
type UploadToken struct {
	URL         string            `json:"uploadUrl"`
	Method      string            `json:"method"`
	Fields      map[string]string `json:"fields"`
	MaxBytes    int64             `json:"maxBytes"`
	ExpiresAt   time.Time         `json:"expiresAt"`
	DownloadURL string            `json:"downloadUrl"`
}

// Uploader is implemented by stores that let clients upload the payload
// themselves. The record is registered when the token is issued.
type Uploader interface {
	IssueUploadToken(ctx context.Context, id, label string) (*UploadToken, error)
}

// Expired reports whether a record created at createdAt is past TTL at now.
func Expired(createdAt, now time.Time) bool {
	return now.Sub(createdAt) > TTL
}

// ValidateID rejects ids that cannot be used verbatim as an object key
// or URL path segment.
func ValidateID(id string) error {
	if id == "" || len(id) > maxIDLength {
		return fmt.Errorf("%w: length must be 1..%d", ErrInvalidID, maxIDLength)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
	}
	if id == "." || id == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func validatePut(id string, payload []byte, maxPayload int64) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	if int64(len(payload)) > maxPayload {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(payload), maxPayload)
	}
	return nil
}

func clonePayload(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
