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

// Package imaging holds the pure pixel transforms behind the upscaler:
// an RGBA buffer type, an integer-factor resizer and a 3x3 sharpen kernel.
package imaging

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"golang.org/x/image/draw"
)

// MaxDimension bounds the width and height of any buffer this package
// allocates: the largest device target (8192) plus one 640 base tile, so
// a 640 cover at the top preset scale of 13 (8320) still fits.
const MaxDimension = 8192 + 640

var (
	ErrInvalidScale = errors.New("imaging: scale must be a positive integer")
	ErrTooLarge     = errors.New("imaging: dimensions exceed limit")
	ErrEmpty        = errors.New("imaging: empty image")
)

// Buffer is a row-major, non-premultiplied RGBA pixel buffer with 8 bits
// per channel. len(Pix) == Width*Height*4 for every live buffer.
type Buffer struct {
	Width  int
	Height int
	Pix    []uint8
}

var pixPool sync.Pool

func acquire(n int) []uint8 {
	if v, ok := pixPool.Get().(*[]uint8); ok && cap(*v) >= n {
		return (*v)[:n]
	}
	return make([]uint8, n)
}

func checkDims(w, h int) error {
	if w <= 0 || h <= 0 {
		return ErrEmpty
	}
	if w > MaxDimension || h > MaxDimension {
		return fmt.Errorf("%w: %dx%d (max %d)", ErrTooLarge, w, h, MaxDimension)
	}
	return nil
}

// NewBuffer allocates a w×h buffer. Pixel contents are unspecified.
func NewBuffer(w, h int) (*Buffer, error) {
	if err := checkDims(w, h); err != nil {
		return nil, err
	}
	return &Buffer{Width: w, Height: h, Pix: acquire(w * h * 4)}, nil
}

// FromImage copies img into a new Buffer.
func FromImage(img image.Image) (*Buffer, error) {
	r := img.Bounds()
	buf, err := NewBuffer(r.Dx(), r.Dy())
	if err != nil {
		return nil, err
	}
	if n, ok := img.(*image.NRGBA); ok {
		rowLen := buf.Width * 4
		for y := 0; y < buf.Height; y++ {
			off := n.PixOffset(r.Min.X, r.Min.Y+y)
			copy(buf.Pix[y*rowLen:(y+1)*rowLen], n.Pix[off:off+rowLen])
		}
		return buf, nil
	}
	draw.Draw(buf.NRGBA(), image.Rect(0, 0, buf.Width, buf.Height), img, r.Min, draw.Src)
	return buf, nil
}

// NRGBA returns an image view sharing b's pixels.
func (b *Buffer) NRGBA() *image.NRGBA {
	return &image.NRGBA{
		Pix:    b.Pix,
		Stride: b.Width * 4,
		Rect:   image.Rect(0, 0, b.Width, b.Height),
	}
}

// Clone returns a deep copy of b.
func (b *Buffer) Clone() *Buffer {
	out := &Buffer{Width: b.Width, Height: b.Height, Pix: acquire(len(b.Pix))}
	copy(out.Pix, b.Pix)
	return out
}

// Release hands the pixel storage back for reuse and empties b. Callers
// must not touch b (or views obtained from NRGBA) afterwards. Releasing
// twice is harmless.
func (b *Buffer) Release() {
	if b == nil || b.Pix == nil {
		return
	}
	p := b.Pix[:0]
	pixPool.Put(&p)
	b.Pix = nil
	b.Width, b.Height = 0, 0
}
