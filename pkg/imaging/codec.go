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

package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/webp"
)

// Decode parses a PNG, JPEG, GIF or WebP image. The header is inspected
// first so oversized images are refused before their pixels are inflated.
// The returned string is the detected format name.
func Decode(data []byte) (*Buffer, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmpty
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("imaging: read header: %w", err)
	}
	if err := checkDims(cfg.Width, cfg.Height); err != nil {
		return nil, format, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, format, fmt.Errorf("imaging: decode %s: %w", format, err)
	}
	buf, err := FromImage(img)
	if err != nil {
		return nil, format, err
	}
	return buf, format, nil
}

var pngEncoder = png.Encoder{CompressionLevel: png.BestSpeed}

// EncodePNG serialises b as a non-interlaced RGBA PNG.
func EncodePNG(b *Buffer) ([]byte, error) {
	if err := checkDims(b.Width, b.Height); err != nil {
		return nil, err
	}
	var out bytes.Buffer
	out.Grow(len(b.Pix) / 2)
	if err := pngEncoder.Encode(&out, b.NRGBA()); err != nil {
		return nil, fmt.Errorf("imaging: encode png: %w", err)
	}
	return out.Bytes(), nil
}
