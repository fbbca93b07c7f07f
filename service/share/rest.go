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
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/fawa-io/coverup/pkg/fwlog"
	"github.com/fawa-io/coverup/pkg/handoff"
	"github.com/fawa-io/coverup/pkg/storage"
	"github.com/fawa-io/coverup/pkg/util"
)

const (
	ShareRoute       = "/share"
	UploadTokenRoute = "/share/upload-token"
)

// shareBody is the POST /share body. The second set of names is what
// older web clients send.
type shareBody struct {
	ID      string `json:"id"`
	Payload string `json:"payload"`
	Label   string `json:"label"`

	ShareID   string `json:"shareId"`
	ImageData string `json:"imageData"`
	AlbumName string `json:"albumName"`
}

func (b *shareBody) normalize() {
	if b.ID == "" {
		b.ID = b.ShareID
	}
	if b.Payload == "" {
		b.Payload = b.ImageData
	}
	if b.Label == "" {
		b.Label = b.AlbumName
	}
}

// RegisterREST mounts the plain JSON share routes and the download route.
func (s *ShareServiceHandler) RegisterREST(mux *http.ServeMux) {
	mux.HandleFunc("POST "+ShareRoute, s.servePut)
	mux.HandleFunc("GET "+ShareRoute, s.serveGet)
	mux.HandleFunc("DELETE "+ShareRoute, s.serveDelete)
	mux.HandleFunc("POST "+UploadTokenRoute, s.serveUploadToken)
	mux.HandleFunc("GET "+handoff.DownloadPath+"{id}", s.serveDownload)
}

func (s *ShareServiceHandler) maxPayload() int64 {
	if s.MaxPayloadBytes > 0 {
		return s.MaxPayloadBytes
	}
	return storage.DefaultMaxPayload
}

func (s *ShareServiceHandler) servePut(w http.ResponseWriter, r *http.Request) {
	// base64 inflates by 4/3; leave room for the data URL prefix and label.
	limit := s.maxPayload()/3*4 + 64<<10
	var body shareBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit)).Decode(&body); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			util.WriteError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		util.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	body.normalize()
	if body.ID == "" || body.Payload == "" || body.Label == "" {
		util.WriteError(w, http.StatusBadRequest, "missing required fields")
		return
	}

	payload, err := decodePayload(body.Payload)
	if err != nil {
		util.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	tk, err := s.Handoff.Share(r.Context(), body.ID, payload, body.Label)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrPayloadTooLarge):
		util.WriteError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	case errors.Is(err, storage.ErrInvalidID), errors.Is(err, storage.ErrEmptyPayload):
		util.WriteError(w, http.StatusBadRequest, err.Error())
		return
	default:
		fwlog.Errorf("Error storing shared image: %v", err)
		util.WriteError(w, http.StatusInternalServerError, "failed to store image")
		return
	}
	util.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"id":      tk.ID,
		"link":    tk.Link,
	})
}

func (s *ShareServiceHandler) serveGet(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		util.WriteError(w, http.StatusBadRequest, "missing share id")
		return
	}
	a, err := s.Handoff.Resolve(r.Context(), id)
	if err != nil {
		if errors.Is(err, handoff.ErrNotFound) {
			util.WriteError(w, http.StatusNotFound, "share not found or expired")
			return
		}
		fwlog.Errorf("Error retrieving shared image: %v", err)
		util.WriteError(w, http.StatusInternalServerError, "failed to retrieve image")
		return
	}
	util.WriteJSON(w, http.StatusOK, map[string]string{
		"payload": encodePayload(a.Payload),
		"label":   a.Label,
	})
}

func (s *ShareServiceHandler) serveDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.Handoff.Revoke(r.Context(), r.URL.Query().Get("id")); err != nil {
		fwlog.Errorf("Error deleting shared image: %v", err)
		util.WriteError(w, http.StatusInternalServerError, "failed to delete image")
		return
	}
	util.WriteJSON(w, http.StatusOK, struct{}{})
}

func (s *ShareServiceHandler) serveUploadToken(w http.ResponseWriter, r *http.Request) {
	var req UploadTokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		util.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	up, err := s.Handoff.IssueUpload(r.Context(), req.ID, req.Label)
	switch {
	case err == nil:
	case errors.Is(err, handoff.ErrUnsupported):
		util.WriteError(w, http.StatusNotImplemented, "direct upload needs the object backend")
		return
	case errors.Is(err, storage.ErrInvalidID):
		util.WriteError(w, http.StatusBadRequest, err.Error())
		return
	default:
		fwlog.Errorf("Error issuing upload token: %v", err)
		util.WriteError(w, http.StatusInternalServerError, "failed to issue upload token")
		return
	}
	util.WriteJSON(w, http.StatusOK, newUploadTokenResponse(up))
}

func (s *ShareServiceHandler) serveDownload(w http.ResponseWriter, r *http.Request) {
	a, err := s.Handoff.Resolve(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, handoff.ErrNotFound) {
			http.Error(w, "This link has expired or is invalid.", http.StatusNotFound)
			return
		}
		fwlog.Errorf("Download error: %v", err)
		http.Error(w, "There was an error downloading the image.", http.StatusInternalServerError)
		return
	}

	ctype := http.DetectContentType(a.Payload)
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Payload)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": downloadName(a.Label, ctype),
	}))
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(a.Payload)
}

// decodePayload accepts a data URL or bare standard base64.
func decodePayload(s string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		meta, data, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return nil, errors.New("payload data URL must be base64 encoded")
		}
		s = data
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if b, err = base64.RawStdEncoding.DecodeString(s); err != nil {
			return nil, fmt.Errorf("payload is not valid base64")
		}
	}
	return b, nil
}

func encodePayload(b []byte) string {
	return "data:" + http.DetectContentType(b) + ";base64," + base64.StdEncoding.EncodeToString(b)
}

// downloadName builds "<label>-upscaled.<ext>" with path separators and
// control characters removed from the label.
func downloadName(label, ctype string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7f, r == '/', r == '\\', r == '"':
			return -1
		}
		return r
	}, strings.TrimSpace(label))
	if clean == "" {
		clean = "cover"
	}

	ext := ".bin"
	switch {
	case strings.HasPrefix(ctype, "image/png"):
		ext = ".png"
	case strings.HasPrefix(ctype, "image/jpeg"):
		ext = ".jpg"
	case strings.HasPrefix(ctype, "image/webp"):
		ext = ".webp"
	}
	return clean + "-upscaled" + ext
}
