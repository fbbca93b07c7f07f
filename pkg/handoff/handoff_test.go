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

package handoff

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"regexp"
	"testing"
	"time"

	"github.com/skip2/go-qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fawa-io/coverup/pkg/clock"
	"github.com/fawa-io/coverup/pkg/storage"
	"github.com/fawa-io/coverup/pkg/upscale"
)

var epoch = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

func newHandoff(t *testing.T, store storage.Store, clk clock.Clock) *Handoff {
	t.Helper()
	enc, err := NewEncoder(0, "")
	require.NoError(t, err)
	return New(store, enc, "https://coverup.example/", clk)
}

func TestShareAndResolve(t *testing.T) {
	clk := clock.Fake(epoch)
	h := newHandoff(t, storage.NewMemoryStore(clk, 0), clk)
	ctx := context.Background()

	tk, err := h.Share(ctx, "1717243200000-abc1234", []byte("cover bytes"), "Blue Train")
	require.NoError(t, err)
	assert.Equal(t, "1717243200000-abc1234", tk.ID)
	assert.Equal(t, "https://coverup.example/download/1717243200000-abc1234", tk.Link)

	cfg, err := png.DecodeConfig(bytes.NewReader(tk.QR))
	require.NoError(t, err)
	assert.Equal(t, DefaultSize, cfg.Width)
	assert.Equal(t, DefaultSize, cfg.Height)

	a, err := h.Resolve(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("cover bytes"), a.Payload)
	assert.Equal(t, "Blue Train", a.Label)
}

func TestShareGeneratesID(t *testing.T) {
	clk := clock.Fake(epoch)
	h := newHandoff(t, storage.NewMemoryStore(clk, 0), clk)

	tk, err := h.Share(context.Background(), "", []byte("x"), "x")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^1748779200000-[A-Za-z0-9]{7}$`), tk.ID)
}

func TestResolveIsUniform(t *testing.T) {
	clk := clock.Fake(epoch)
	h := newHandoff(t, storage.NewMemoryStore(clk, 0), clk)
	ctx := context.Background()

	_, err := h.Share(ctx, "expiring", []byte("x"), "x")
	require.NoError(t, err)
	clk.Advance(storage.TTL + time.Second)

	_, errExpired := h.Resolve(ctx, "expiring")
	_, errMissing := h.Resolve(ctx, "never-shared")
	_, errInvalid := h.Resolve(ctx, "../../etc")

	assert.ErrorIs(t, errExpired, ErrNotFound)
	assert.ErrorIs(t, errMissing, ErrNotFound)
	assert.ErrorIs(t, errInvalid, ErrNotFound)
	assert.Equal(t, errExpired.Error(), errMissing.Error())
}

func TestRevoke(t *testing.T) {
	h := newHandoff(t, storage.NewMemoryStore(nil, 0), nil)
	ctx := context.Background()

	_, err := h.Share(ctx, "bye", []byte("x"), "x")
	require.NoError(t, err)
	require.NoError(t, h.Revoke(ctx, "bye"))
	require.NoError(t, h.Revoke(ctx, "bye"))

	_, err = h.Resolve(ctx, "bye")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestShareRejectsOversized(t *testing.T) {
	h := newHandoff(t, storage.NewMemoryStore(nil, 8), nil)
	_, err := h.Share(context.Background(), "big", []byte("123456789"), "x")
	assert.ErrorIs(t, err, storage.ErrPayloadTooLarge)
}

// directStore pretends to be an object backend that serves records from
// its own URLs and accepts direct uploads.
type directStore struct {
	*storage.MemoryStore
}

func (d directStore) Locate(ctx context.Context, id string) (string, error) {
	if _, err := d.Get(ctx, id); err != nil {
		return "", err
	}
	return "https://objects.example/shares/" + id, nil
}

func (d directStore) IssueUploadToken(ctx context.Context, id, label string) (*storage.UploadToken, error) {
	if err := d.Put(ctx, id, []byte("placeholder"), label); err != nil {
		return nil, err
	}
	return &storage.UploadToken{
		URL:      "https://objects.example/upload",
		Method:   "POST",
		Fields:   map[string]string{"key": "shares/" + id},
		MaxBytes: storage.DefaultMaxPayload,
	}, nil
}

func TestLinkUsesLocator(t *testing.T) {
	h := newHandoff(t, directStore{storage.NewMemoryStore(nil, 0)}, nil)
	ctx := context.Background()

	tk, err := h.Share(ctx, "direct", []byte("x"), "x")
	require.NoError(t, err)
	assert.Equal(t, "https://objects.example/shares/direct", tk.Link)

	_, err = h.Link(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIssueUpload(t *testing.T) {
	ctx := context.Background()

	plain := newHandoff(t, storage.NewMemoryStore(nil, 0), nil)
	_, err := plain.IssueUpload(ctx, "x", "x")
	assert.ErrorIs(t, err, ErrUnsupported)

	h := newHandoff(t, directStore{storage.NewMemoryStore(nil, 0)}, nil)
	up, err := h.IssueUpload(ctx, "", "Label")
	require.NoError(t, err)
	assert.NotEmpty(t, up.ID)
	assert.Equal(t, "POST", up.Token.Method)
	assert.Equal(t, "shares/"+up.ID, up.Token.Fields["key"])
	assert.Equal(t, "https://objects.example/shares/"+up.ID, up.Link)
	assert.NotEmpty(t, up.QR)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want qrcode.RecoveryLevel
	}{
		{"", qrcode.Medium},
		{"medium", qrcode.Medium},
		{"L", qrcode.Low},
		{"quartile", qrcode.High},
		{"High", qrcode.Highest},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	_, err := ParseLevel("ultra")
	assert.Error(t, err)
}

func TestEncoder(t *testing.T) {
	_, err := NewEncoder(10, "low")
	assert.Error(t, err)
	_, err = NewEncoder(400, "ultra")
	assert.Error(t, err)

	enc, err := NewEncoder(256, "high")
	require.NoError(t, err)
	assert.Equal(t, 256, enc.Size())

	data, err := enc.PNG("https://coverup.example/download/x")
	require.NoError(t, err)
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.Width)

	_, err = enc.PNG("")
	assert.Error(t, err)

	s, err := enc.Terminal("hello")
	require.NoError(t, err)
	assert.NotEmpty(t, s)
}

func TestUpscaleShareResolveEndToEnd(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 640, 640))
	for y := 0; y < 640; y++ {
		for x := 0; x < 640; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x ^ y), G: uint8(y), B: uint8(x), A: 255})
		}
	}
	var src bytes.Buffer
	require.NoError(t, png.Encode(&src, img))

	engine := upscale.New(upscale.Options{})
	defer engine.Close()

	res := engine.Upscale(context.Background(), upscale.Request{Source: src.Bytes(), Scale: 4})
	require.True(t, res.Success, res.Error)
	cfg, err := png.DecodeConfig(bytes.NewReader(res.ImageBytes))
	require.NoError(t, err)
	require.Equal(t, 2560, cfg.Width)
	require.Equal(t, 2560, cfg.Height)

	clk := clock.Fake(epoch)
	h := newHandoff(t, storage.NewMemoryStore(clk, 0), clk)
	ctx := context.Background()

	tk, err := h.Share(ctx, "", res.ImageBytes, "Blue Train")
	require.NoError(t, err)

	clk.Advance(59 * time.Minute)
	a, err := h.Resolve(ctx, tk.ID)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(res.ImageBytes, a.Payload), "payload changed in the store")

	clk.Advance(2 * time.Minute)
	_, err = h.Resolve(ctx, tk.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
