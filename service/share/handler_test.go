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

package share

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fawa-io/coverup/pkg/clock"
	"github.com/fawa-io/coverup/pkg/handoff"
	"github.com/fawa-io/coverup/pkg/rpcjson"
	"github.com/fawa-io/coverup/pkg/storage"
)

type fixture struct {
	srv *httptest.Server
	clk *clock.FakeClock
}

func newFixture(t *testing.T, maxPayload int64) *fixture {
	t.Helper()
	clk := clock.Fake(time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC))
	enc, err := handoff.NewEncoder(200, "medium")
	require.NoError(t, err)

	store := storage.NewMemoryStore(clk, maxPayload)
	svc := &ShareServiceHandler{
		Handoff:         handoff.New(store, enc, "https://coverup.example", clk),
		MaxPayloadBytes: maxPayload,
	}
	mux := http.NewServeMux()
	mux.Handle(NewShareServiceHandler(svc))
	svc.RegisterREST(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, clk: clk}
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func tinyPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 3, 3))))
	return buf.Bytes()
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	return m
}

func TestShareRoundTripREST(t *testing.T) {
	f := newFixture(t, 0)
	img := tinyPNG(t)
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(img)

	resp := f.do(t, http.MethodPost, "/share", `{"id":"abc-123","payload":"`+dataURL+`","label":"Blue Train"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON(t, resp)
	assert.Equal(t, "https://coverup.example/download/abc-123", body["link"])

	resp = f.do(t, http.MethodGet, "/share?id=abc-123", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeJSON(t, resp)
	assert.Equal(t, "Blue Train", body["label"])
	assert.Equal(t, dataURL, body["payload"])

	f.clk.Advance(61 * time.Minute)
	resp = f.do(t, http.MethodGet, "/share?id=abc-123", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSharePutLegacyFields(t *testing.T) {
	f := newFixture(t, 0)
	payload := base64.StdEncoding.EncodeToString([]byte("raw bytes"))

	resp := f.do(t, http.MethodPost, "/share", `{"shareId":"legacy","imageData":"`+payload+`","albumName":"Kind of Blue"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/share?id=legacy", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Kind of Blue", decodeJSON(t, resp)["label"])
}

func TestSharePutErrors(t *testing.T) {
	f := newFixture(t, 16)
	b64 := func(n int) string { return base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{'x'}, n)) }

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing label", `{"id":"a","payload":"` + b64(4) + `"}`, http.StatusBadRequest},
		{"missing id", `{"payload":"` + b64(4) + `","label":"x"}`, http.StatusBadRequest},
		{"bad base64", `{"id":"a","payload":"%%%","label":"x"}`, http.StatusBadRequest},
		{"bad id", `{"id":"a/b","payload":"` + b64(4) + `","label":"x"}`, http.StatusBadRequest},
		{"over the ceiling", `{"id":"a","payload":"` + b64(17) + `","label":"x"}`, http.StatusRequestEntityTooLarge},
		{"body too large", `{"id":"a","payload":"` + b64(100<<10) + `","label":"x"}`, http.StatusRequestEntityTooLarge},
		{"not json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/share", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.NotEmpty(t, decodeJSON(t, resp)["error"])
		})
	}
}

func TestShareGetErrors(t *testing.T) {
	f := newFixture(t, 0)

	resp := f.do(t, http.MethodGet, "/share", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/share?id=nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "share not found or expired", decodeJSON(t, resp)["error"])
}

func TestShareDeleteREST(t *testing.T) {
	f := newFixture(t, 0)
	payload := base64.StdEncoding.EncodeToString([]byte("x"))
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/share", `{"id":"d","payload":"`+payload+`","label":"x"}`).StatusCode)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/share?id=d", "").StatusCode)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/share?id=d", "").StatusCode)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/share?id=d", "").StatusCode)
}

func TestDownload(t *testing.T) {
	f := newFixture(t, 0)
	img := tinyPNG(t)
	payload := base64.StdEncoding.EncodeToString(img)
	require.Equal(t, http.StatusOK,
		f.do(t, http.MethodPost, "/share", `{"id":"dl","payload":"`+payload+`","label":"Blue Train"}`).StatusCode)

	resp := f.do(t, http.MethodGet, "/download/dl", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="Blue Train-upscaled.png"`, resp.Header.Get("Content-Disposition"))

	var got bytes.Buffer
	_, err := got.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, img, got.Bytes())

	resp = f.do(t, http.MethodGet, "/download/unknown", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadTokenUnsupported(t *testing.T) {
	f := newFixture(t, 0)
	resp := f.do(t, http.MethodPost, "/share/upload-token", `{"label":"x"}`)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

// uploadStore hands out form upload tokens the way the object backend does.
type uploadStore struct {
	*storage.MemoryStore
}

func (u uploadStore) IssueUploadToken(ctx context.Context, id, label string) (*storage.UploadToken, error) {
	if err := u.Put(ctx, id, []byte("pending"), label); err != nil {
		return nil, err
	}
	return &storage.UploadToken{
		URL:      "https://objects.example/coverup",
		Method:   http.MethodPost,
		Fields:   map[string]string{"key": "shares/" + id + "/1", "policy": "signed"},
		MaxBytes: 1 << 20,
	}, nil
}

func TestUploadTokenREST(t *testing.T) {
	enc, err := handoff.NewEncoder(200, "medium")
	require.NoError(t, err)
	svc := &ShareServiceHandler{
		Handoff: handoff.New(uploadStore{storage.NewMemoryStore(nil, 0)}, enc, "https://coverup.example", nil),
	}
	mux := http.NewServeMux()
	svc.RegisterREST(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	f := &fixture{srv: srv}

	resp := f.do(t, http.MethodPost, "/share/upload-token", `{"id":"direct","label":"Nevermind"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tok UploadTokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tok))
	assert.Equal(t, "direct", tok.ID)
	assert.Equal(t, http.MethodPost, tok.Method)
	assert.Equal(t, "https://objects.example/coverup", tok.UploadURL)
	assert.Equal(t, "shares/direct/1", tok.Fields["key"])
	assert.Equal(t, int64(1<<20), tok.MaxBytes)
}

func TestShareRPC(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	httpClient := f.srv.Client()

	share := rpcjson.NewClient[ShareRequest, ShareResponse](httpClient, f.srv.URL, ShareServiceShareProcedure)
	resolve := rpcjson.NewClient[ResolveRequest, ResolveResponse](httpClient, f.srv.URL, ShareServiceResolveProcedure)
	del := rpcjson.NewClient[DeleteRequest, DeleteResponse](httpClient, f.srv.URL, ShareServiceDeleteProcedure)
	upload := rpcjson.NewClient[UploadTokenRequest, UploadTokenResponse](httpClient, f.srv.URL, ShareServiceIssueUploadTokenProcedure)

	img := tinyPNG(t)
	res, err := share.CallUnary(ctx, connect.NewRequest(&ShareRequest{Payload: img, Label: "Giant Steps"}))
	require.NoError(t, err)
	id := res.Msg.ID
	require.NotEmpty(t, id)
	assert.Equal(t, "https://coverup.example/download/"+id, res.Msg.Link)
	cfg, err := png.DecodeConfig(bytes.NewReader(res.Msg.QRPng))
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Width)

	got, err := resolve.CallUnary(ctx, connect.NewRequest(&ResolveRequest{ID: id}))
	require.NoError(t, err)
	assert.Equal(t, img, got.Msg.Payload)
	assert.Equal(t, "Giant Steps", got.Msg.Label)

	_, err = del.CallUnary(ctx, connect.NewRequest(&DeleteRequest{ID: id}))
	require.NoError(t, err)

	_, err = resolve.CallUnary(ctx, connect.NewRequest(&ResolveRequest{ID: id}))
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	_, err = share.CallUnary(ctx, connect.NewRequest(&ShareRequest{Label: "empty"}))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = upload.CallUnary(ctx, connect.NewRequest(&UploadTokenRequest{Label: "x"}))
	assert.Equal(t, connect.CodeUnimplemented, connect.CodeOf(err))
}

func TestDecodePayload(t *testing.T) {
	want := []byte("hello")
	for _, in := range []string{
		"aGVsbG8=",
		"aGVsbG8",
		"data:image/png;base64,aGVsbG8=",
	} {
		got, err := decodePayload(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := decodePayload("data:text/plain,hello")
	assert.Error(t, err)
}

func TestDownloadName(t *testing.T) {
	assert.Equal(t, "cover-upscaled.png", downloadName("  ", "image/png"))
	assert.Equal(t, "ACDC-upscaled.jpg", downloadName("AC/DC", "image/jpeg"))
	assert.Equal(t, "ACDC-upscaled.bin", downloadName("AC/DC", "application/octet-stream"))
}
