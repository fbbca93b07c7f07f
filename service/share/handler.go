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
	"context"
	"errors"
	"net/http"
	"time"

	"connectrpc.com/connect"

	"github.com/fawa-io/coverup/pkg/fwlog"
	"github.com/fawa-io/coverup/pkg/handoff"
	"github.com/fawa-io/coverup/pkg/rpcjson"
	"github.com/fawa-io/coverup/pkg/storage"
)

const (
	ShareServiceName = "coverup.share.v1.ShareService"

	ShareServiceShareProcedure            = "/" + ShareServiceName + "/Share"
	ShareServiceResolveProcedure          = "/" + ShareServiceName + "/Resolve"
	ShareServiceDeleteProcedure           = "/" + ShareServiceName + "/Delete"
	ShareServiceIssueUploadTokenProcedure = "/" + ShareServiceName + "/IssueUploadToken"
)

type ShareRequest struct {
	ID      string `json:"id,omitempty"`
	Payload []byte `json:"payload"`
	Label   string `json:"label"`
}

type ShareResponse struct {
	ID    string `json:"id"`
	Link  string `json:"link"`
	QRPng []byte `json:"qrPng"`
}

type ResolveRequest struct {
	ID string `json:"id"`
}

type ResolveResponse struct {
	Payload   []byte    `json:"payload"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"createdAt"`
}

type DeleteRequest struct {
	ID string `json:"id"`
}

type DeleteResponse struct{}

type UploadTokenRequest struct {
	ID    string `json:"id,omitempty"`
	Label string `json:"label"`
}

// UploadTokenResponse tells the client where to send a multipart form
// (Fields first, then the file) of at most MaxBytes.
type UploadTokenResponse struct {
	ID          string            `json:"id"`
	Link        string            `json:"link"`
	QRPng       []byte            `json:"qrPng"`
	UploadURL   string            `json:"uploadUrl"`
	Method      string            `json:"method"`
	Fields      map[string]string `json:"fields"`
	MaxBytes    int64             `json:"maxBytes"`
	ExpiresAt   time.Time         `json:"expiresAt"`
	DownloadURL string            `json:"downloadUrl"`
}

func newUploadTokenResponse(up *handoff.Upload) *UploadTokenResponse {
	return &UploadTokenResponse{
		ID:          up.ID,
		Link:        up.Link,
		QRPng:       up.QR,
		UploadURL:   up.Token.URL,
		Method:      up.Token.Method,
		Fields:      up.Token.Fields,
		MaxBytes:    up.Token.MaxBytes,
		ExpiresAt:   up.Token.ExpiresAt,
		DownloadURL: up.Token.DownloadURL,
	}
}

// ShareServiceHandler implements the share service on top of a Handoff.
type ShareServiceHandler struct {
	Handoff         *handoff.Handoff
	MaxPayloadBytes int64
}

// NewShareServiceHandler builds an HTTP handler from the service
// implementation. It returns the path on which to mount the handler and
// the handler itself.
func NewShareServiceHandler(svc *ShareServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{rpcjson.WithCodec()}, opts...)
	shareHandler := connect.NewUnaryHandler(ShareServiceShareProcedure, svc.Share, opts...)
	resolveHandler := connect.NewUnaryHandler(ShareServiceResolveProcedure, svc.Resolve, opts...)
	deleteHandler := connect.NewUnaryHandler(ShareServiceDeleteProcedure, svc.Delete, opts...)
	uploadHandler := connect.NewUnaryHandler(ShareServiceIssueUploadTokenProcedure, svc.IssueUploadToken, opts...)
	return "/" + ShareServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case ShareServiceShareProcedure:
			shareHandler.ServeHTTP(w, r)
		case ShareServiceResolveProcedure:
			resolveHandler.ServeHTTP(w, r)
		case ShareServiceDeleteProcedure:
			deleteHandler.ServeHTTP(w, r)
		case ShareServiceIssueUploadTokenProcedure:
			uploadHandler.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

func (s *ShareServiceHandler) Share(
	ctx context.Context,
	req *connect.Request[ShareRequest],
) (*connect.Response[ShareResponse], error) {
	if len(req.Msg.Payload) == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("payload cannot be empty"))
	}
	tk, err := s.Handoff.Share(ctx, req.Msg.ID, req.Msg.Payload, req.Msg.Label)
	if err != nil {
		return nil, toConnectError(err)
	}
	fwlog.Infof("Shared %s (%d bytes)", tk.ID, len(req.Msg.Payload))
	return connect.NewResponse(&ShareResponse{ID: tk.ID, Link: tk.Link, QRPng: tk.QR}), nil
}

func (s *ShareServiceHandler) Resolve(
	ctx context.Context,
	req *connect.Request[ResolveRequest],
) (*connect.Response[ResolveResponse], error) {
	a, err := s.Handoff.Resolve(ctx, req.Msg.ID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ResolveResponse{
		Payload:   a.Payload,
		Label:     a.Label,
		CreatedAt: a.CreatedAt,
	}), nil
}

func (s *ShareServiceHandler) Delete(
	ctx context.Context,
	req *connect.Request[DeleteRequest],
) (*connect.Response[DeleteResponse], error) {
	if err := s.Handoff.Revoke(ctx, req.Msg.ID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&DeleteResponse{}), nil
}

func (s *ShareServiceHandler) IssueUploadToken(
	ctx context.Context,
	req *connect.Request[UploadTokenRequest],
) (*connect.Response[UploadTokenResponse], error) {
	up, err := s.Handoff.IssueUpload(ctx, req.Msg.ID, req.Msg.Label)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(newUploadTokenResponse(up)), nil
}

func toConnectError(err error) error {
	switch {
	case errors.Is(err, handoff.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, handoff.ErrNotFound)
	case errors.Is(err, storage.ErrPayloadTooLarge):
		return connect.NewError(connect.CodeResourceExhausted, err)
	case errors.Is(err, storage.ErrInvalidID), errors.Is(err, storage.ErrEmptyPayload):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, handoff.ErrUnsupported):
		return connect.NewError(connect.CodeUnimplemented, err)
	}
	fwlog.Errorf("Share store failure: %v", err)
	return connect.NewError(connect.CodeInternal, errors.New("share store failure"))
}
