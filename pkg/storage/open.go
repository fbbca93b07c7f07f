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
	"fmt"
	"strings"

	"github.com/fawa-io/coverup/pkg/clock"
	"github.com/fawa-io/coverup/pkg/config"
	"github.com/fawa-io/coverup/pkg/fwlog"
)

const (
	BackendMemory = "memory"
	BackendObject = "object"
	BackendLocal  = "local"
)

// Open builds the store selected by cfg.Share.Backend.
func Open(ctx context.Context, cfg config.Config, clk clock.Clock) (Store, error) {
	maxPayload := cfg.Share.MaxPayloadBytes

	switch backend := strings.ToLower(strings.TrimSpace(cfg.Share.Backend)); backend {
	case "", BackendMemory:
		fwlog.Info("Using in-memory share store")
		return NewMemoryStore(clk, maxPayload), nil

	case BackendObject:
		bucket, err := NewMinioBucket(ctx, cfg.Minio)
		if err != nil {
			return nil, fmt.Errorf("object backend: %w", err)
		}
		index, err := NewDragonflyIndex(ctx, cfg.Dragonfly)
		if err != nil {
			return nil, fmt.Errorf("object backend: connect dragonfly at %s: %w", cfg.Dragonfly.Addr, err)
		}
		fwlog.Infof("Using object share store (bucket %s, index %s)", cfg.Minio.Bucket, cfg.Dragonfly.Addr)
		return NewObjectStore(bucket, index, clk, maxPayload), nil

	case BackendLocal:
		s, err := OpenLocalStore(cfg.Local.Path, cfg.Local.CompressionLevel, clk, maxPayload)
		if err != nil {
			return nil, fmt.Errorf("local backend: %w", err)
		}
		fwlog.Infof("Using local share store at %s", cfg.Local.Path)
		return s, nil

	default:
		return nil, fmt.Errorf("unknown share backend %q", backend)
	}
}
