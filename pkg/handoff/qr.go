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
	"fmt"
	"strings"

	"github.com/skip2/go-qrcode"
)

const (
	DefaultSize  = 400
	DefaultLevel = "medium"
	minSize      = 64
	maxSize      = 4096
)

// ParseLevel maps low, medium, quartile and high (or L, M, Q, H) to the
// matching error-correction level. Empty means medium.
func ParseLevel(s string) (qrcode.RecoveryLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "m", "medium":
		return qrcode.Medium, nil
	case "l", "low":
		return qrcode.Low, nil
	case "q", "quartile":
		return qrcode.High, nil
	case "h", "high":
		return qrcode.Highest, nil
	}
	return 0, fmt.Errorf("unknown QR error correction level %q", s)
}

// Encoder renders strings as QR code images.
type Encoder struct {
	size  int
	level qrcode.RecoveryLevel
}

// NewEncoder returns an encoder producing size x size PNGs.
func NewEncoder(size int, level string) (*Encoder, error) {
	if size == 0 {
		size = DefaultSize
	}
	if size < minSize || size > maxSize {
		return nil, fmt.Errorf("QR size %d outside [%d, %d]", size, minSize, maxSize)
	}
	lv, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return &Encoder{size: size, level: lv}, nil
}

func (e *Encoder) Size() int { return e.size }

// PNG encodes content as a PNG image.
func (e *Encoder) PNG(content string) ([]byte, error) {
	if content == "" {
		return nil, fmt.Errorf("empty QR content")
	}
	q, err := qrcode.New(content, e.level)
	if err != nil {
		return nil, fmt.Errorf("build QR code: %w", err)
	}
	return q.PNG(e.size)
}

// Terminal renders content with unicode half blocks for a text console.
func (e *Encoder) Terminal(content string) (string, error) {
	q, err := qrcode.New(content, e.level)
	if err != nil {
		return "", fmt.Errorf("build QR code: %w", err)
	}
	return q.ToSmallString(false), nil
}
