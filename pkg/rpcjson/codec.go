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

// Package rpcjson lets connect carry plain Go structs as JSON so services
// can be declared without generated protobuf stubs.
package rpcjson

import (
	"encoding/json"
	"fmt"

	"connectrpc.com/connect"
)

// Name matches the codec name connect negotiates for application/json,
// so this codec replaces the protojson default on both ends.
const Name = "json"

// Codec marshals connect messages with encoding/json.
type Codec struct{}

var _ connect.Codec = Codec{}

func (Codec) Name() string { return Name }

func (Codec) Marshal(msg any) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("rpcjson: marshal %T: %w", msg, err)
	}
	return b, nil
}

func (Codec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("rpcjson: unmarshal %T: %w", msg, err)
	}
	return nil
}

// WithCodec is the option every handler and client in this module passes.
func WithCodec() connect.Option {
	return connect.WithCodec(Codec{})
}

// NewClient returns a unary client for procedure on baseURL speaking JSON.
func NewClient[Req, Res any](httpClient connect.HTTPClient, baseURL, procedure string, opts ...connect.ClientOption) *connect.Client[Req, Res] {
	opts = append([]connect.ClientOption{WithCodec()}, opts...)
	return connect.NewClient[Req, Res](httpClient, baseURL+procedure, opts...)
}
