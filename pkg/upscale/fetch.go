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
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Fetcher loads source images from http(s) or data: URLs.
type Fetcher struct {
	Client   *http.Client
	MaxBytes int64
}

func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("%w: no source image", ErrFetch)
	}
	if strings.HasPrefix(rawURL, "data:") {
		return f.fetchData(rawURL)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrFetch, u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %s", ErrFetch, u.Host, resp.Status)
	}
	return f.readLimited(resp.Body)
}

func (f *Fetcher) readLimited(r io.Reader) ([]byte, error) {
	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxSourceBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: source exceeds %d bytes", ErrFetch, limit)
	}
	return data, nil
}

// fetchData decodes data:[<mediatype>][;base64],<data>.
func (f *Fetcher) fetchData(raw string) ([]byte, error) {
	meta, body, ok := strings.Cut(strings.TrimPrefix(raw, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("%w: malformed data URL", ErrFetch)
	}
	if !strings.HasSuffix(meta, ";base64") {
		s, err := url.PathUnescape(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFetch, err)
		}
		return f.readLimited(strings.NewReader(s))
	}
	return f.readLimited(base64.NewDecoder(base64.StdEncoding, strings.NewReader(body)))
}
