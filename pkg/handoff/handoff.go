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

// Package handoff moves a shared artifact from one device to another: the
// sender gets a link and its QR code, the receiver resolves the link back
// into bytes.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/fawa-io/coverup/pkg/clock"
	"github.com/fawa-io/coverup/pkg/fwlog"
	"github.com/fawa-io/coverup/pkg/storage"
	"github.com/fawa-io/coverup/pkg/util"
)

var (
	// ErrNotFound covers both ids that never existed and ids that expired.
	ErrNotFound    = errors.New("handoff: not found or expired")
	ErrUnsupported = errors.New("handoff: not supported by the share backend")
)

// DownloadPath is the route that serves a resolved handoff.
const DownloadPath = "/download/"

// Ticket is what the sending device shows to the receiving one.
type Ticket struct {
	ID   string `json:"id"`
	Link string `json:"link"`
	QR   []byte `json:"qrPng"`
}

// Artifact is a resolved share.
type Artifact struct {
	ID        string
	Payload   []byte
	Label     string
	CreatedAt time.Time
}

// Upload is an issued direct-upload authorisation plus the ticket the
// receiver will scan.
type Upload struct {
	Ticket
	Token *storage.UploadToken
}

type Handoff struct {
	store   storage.Store
	encoder *Encoder
	baseURL string
	clock   clock.Clock
}

// New returns a Handoff that builds links under baseURL.
func New(store storage.Store, encoder *Encoder, baseURL string, clk clock.Clock) *Handoff {
	if clk == nil {
		clk = clock.Real()
	}
	return &Handoff{
		store:   store,
		encoder: encoder,
		baseURL: strings.TrimRight(baseURL, "/"),
		clock:   clk,
	}
}

// Share stores payload and returns the ticket for it. An empty id is
// replaced by a freshly generated one.
func (h *Handoff) Share(ctx context.Context, id string, payload []byte, label string) (*Ticket, error) {
	if id == "" {
		id = util.NewShareID(h.clock.Now())
	}
	if err := h.store.Put(ctx, id, payload, label); err != nil {
		return nil, err
	}
	return h.ticket(ctx, id)
}

// Link returns what the QR code for id should carry: the object's own URL
// when the backend can serve it directly, the download route otherwise.
func (h *Handoff) Link(ctx context.Context, id string) (string, error) {
	if loc, ok := h.store.(storage.Locator); ok {
		u, err := loc.Locate(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return "", ErrNotFound
			}
			return "", err
		}
		return u, nil
	}
	return h.baseURL + DownloadPath + url.PathEscape(id), nil
}

// MakeCode renders a retrieval identifier as a QR PNG.
func (h *Handoff) MakeCode(identifier string) ([]byte, error) {
	return h.encoder.PNG(identifier)
}

// Resolve fetches the artifact behind id.
func (h *Handoff) Resolve(ctx context.Context, id string) (*Artifact, error) {
	if storage.ValidateID(id) != nil {
		return nil, ErrNotFound
	}
	rec, err := h.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("resolve %s: %w", id, err)
	}
	return &Artifact{
		ID:        rec.ID,
		Payload:   rec.Payload,
		Label:     rec.Label,
		CreatedAt: rec.CreatedAt,
	}, nil
}

// Revoke deletes id before it expires.
func (h *Handoff) Revoke(ctx context.Context, id string) error {
	if storage.ValidateID(id) != nil {
		return nil
	}
	return h.store.Delete(ctx, id)
}

// IssueUpload registers id and returns a presigned upload together with
// the ticket for the eventual object.
func (h *Handoff) IssueUpload(ctx context.Context, id, label string) (*Upload, error) {
	up, ok := h.store.(storage.Uploader)
	if !ok {
		return nil, ErrUnsupported
	}
	if id == "" {
		id = util.NewShareID(h.clock.Now())
	}
	tok, err := up.IssueUploadToken(ctx, id, label)
	if err != nil {
		return nil, err
	}
	t, err := h.ticket(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Upload{Ticket: *t, Token: tok}, nil
}

func (h *Handoff) ticket(ctx context.Context, id string) (*Ticket, error) {
	link, err := h.Link(ctx, id)
	if err != nil {
		return nil, err
	}
	qr, err := h.MakeCode(link)
	if err != nil {
		return nil, err
	}
	fwlog.Debugf("Share %s ready at %s", id, link)
	return &Ticket{ID: id, Link: link, QR: qr}, nil
}
