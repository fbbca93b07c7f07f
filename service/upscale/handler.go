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

package upscale

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/fawa-io/coverup/pkg/fwlog"
	"github.com/fawa-io/coverup/pkg/presets"
	"github.com/fawa-io/coverup/pkg/rpcjson"
	engine "github.com/fawa-io/coverup/pkg/upscale"
	"github.com/fawa-io/coverup/pkg/util"
)

const (
	UpscaleServiceName = "coverup.upscale.v1.UpscaleService"
	// UpscaleServiceUpscaleProcedure is the fully-qualified name of the Upscale RPC.
	UpscaleServiceUpscaleProcedure = "/" + UpscaleServiceName + "/Upscale"

	UpscaleRoute = "/api/upscale"

	// CallerHeader identifies a logical client; each caller may have one
	// upscale in flight.
	CallerHeader = "X-Coverup-Client"
)

type UpscaleRequest struct {
	SourceImageURL string `json:"sourceImageUrl,omitempty"`
	// ImageURL is accepted as an alias of SourceImageURL.
	ImageURL    string `json:"imageUrl,omitempty"`
	SourceImage []byte `json:"sourceImage,omitempty"`
	Scale       int    `json:"scale,omitempty"`
	DeviceID    string `json:"deviceId,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

type UpscaleResponse struct {
	Success    bool   `json:"success"`
	ImageBytes []byte `json:"imageBytes,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	Scale      int    `json:"scale,omitempty"`
	Error      string `json:"error,omitempty"`
}

// UpscaleServiceHandler exposes the upscale engine over connect and REST.
type UpscaleServiceHandler struct {
	Engine        *engine.Engine
	BaseDimension int
}

// NewUpscaleServiceHandler builds an HTTP handler from the service
// implementation. It returns the path on which to mount the handler and
// the handler itself.
func NewUpscaleServiceHandler(svc *UpscaleServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{rpcjson.WithCodec()}, opts...)
	upscaleHandler := connect.NewUnaryHandler(UpscaleServiceUpscaleProcedure, svc.Upscale, opts...)
	return "/" + UpscaleServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case UpscaleServiceUpscaleProcedure:
			upscaleHandler.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// RegisterREST mounts the plain JSON routes on mux.
func (s *UpscaleServiceHandler) RegisterREST(mux *http.ServeMux) {
	mux.HandleFunc("POST "+UpscaleRoute, s.serveUpscale)
}

// Upscale runs one request through the engine. Pipeline failures are
// reported in the response body; only malformed requests are RPC errors.
func (s *UpscaleServiceHandler) Upscale(
	ctx context.Context,
	req *connect.Request[UpscaleRequest],
) (*connect.Response[UpscaleResponse], error) {
	er, err := s.toEngineRequest(req.Msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	er.Caller = req.Header().Get(CallerHeader)

	resp, _ := s.run(ctx, er)
	return connect.NewResponse(resp), nil
}

// run returns the response together with the engine's failure cause.
func (s *UpscaleServiceHandler) run(ctx context.Context, er engine.Request) (*UpscaleResponse, error) {
	fwlog.Debugf("Upscale request at scale %d", er.Scale)
	res := s.Engine.Upscale(ctx, er)
	return &UpscaleResponse{
		Success:    res.Success,
		ImageBytes: res.ImageBytes,
		Width:      res.Width,
		Height:     res.Height,
		Scale:      er.Scale,
		Error:      res.Error,
	}, res.Err()
}

func (s *UpscaleServiceHandler) toEngineRequest(m *UpscaleRequest) (engine.Request, error) {
	src := m.SourceImageURL
	if src == "" {
		src = m.ImageURL
	}
	if src == "" && len(m.SourceImage) == 0 {
		return engine.Request{}, errors.New("image URL is required")
	}

	scale := m.Scale
	if scale == 0 {
		dev, err := presets.Resolve(m.DeviceID, m.Width, m.Height)
		if err != nil {
			return engine.Request{}, err
		}
		scale = presets.Scale(dev.Width, dev.Height, s.BaseDimension)
	}
	if scale < 1 {
		return engine.Request{}, fmt.Errorf("scale must be at least 1, got %d", scale)
	}
	return engine.Request{SourceURL: src, Source: m.SourceImage, Scale: scale}, nil
}

func (s *UpscaleServiceHandler) serveUpscale(w http.ResponseWriter, r *http.Request) {
	var m UpscaleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&m); err != nil {
		util.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(m.SourceImage) > 0 {
		util.WriteError(w, http.StatusBadRequest, "sourceImage is only accepted over RPC")
		return
	}
	er, err := s.toEngineRequest(&m)
	if err != nil {
		util.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	er.Caller = r.Header.Get(CallerHeader)

	resp, err := s.run(r.Context(), er)
	if err != nil {
		util.WriteJSON(w, statusFor(err), resp)
		return
	}
	if strings.Contains(r.Header.Get("Accept"), "image/png") {
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(resp.ImageBytes)
		return
	}
	util.WriteJSON(w, http.StatusOK, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrFetch):
		return http.StatusBadGateway
	case errors.Is(err, engine.ErrDecode), errors.Is(err, engine.ErrInvalidScale):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrInFlight):
		return http.StatusTooManyRequests
	case errors.Is(err, engine.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, engine.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
