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

package storage

import (
	"github.com/klauspost/compress/zstd"
)

// minCompressSize is the payload size below which compression is skipped.
const minCompressSize = 128

// Compressor applies zstd to payloads written by the local backend.
// Level 0 disables it; 1 is fastest, 2 default, 3 better compression.
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewCompressor(level int) (*Compressor, error) {
	// Rows written with compression on stay readable after it is turned off.
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	if level <= 0 {
		return &Compressor{decoder: decoder}, nil
	}

	var encoderLevel zstd.EncoderLevel
	switch level {
	case 1:
		encoderLevel = zstd.SpeedFastest
	case 3:
		encoderLevel = zstd.SpeedBetterCompression
	default:
		encoderLevel = zstd.SpeedDefault
	}

	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(encoderLevel),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		decoder.Close()
		return nil, err
	}
	return &Compressor{encoder: encoder, decoder: decoder}, nil
}

// Compress returns the zstd frame and true, or data itself and false when
// compression is disabled or does not shrink it. PNG payloads are already
// deflated, so the second case is common.
func (c *Compressor) Compress(data []byte) ([]byte, bool) {
	if c.encoder == nil || len(data) < minCompressSize {
		return data, false
	}
	out := c.encoder.EncodeAll(data, make([]byte, 0, len(data)))
	if len(out) >= len(data) {
		return data, false
	}
	return out, true
}

func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	return c.decoder.DecodeAll(data, nil)
}

func (c *Compressor) Close() error {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
	return nil
}
