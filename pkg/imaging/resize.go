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
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// Resize returns a new buffer scale times larger on each side, resampled
// with a Catmull-Rom cubic filter. src is left untouched.
func Resize(src *Buffer, scale int) (*Buffer, error) {
	if scale < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidScale, scale)
	}
	if err := checkDims(src.Width, src.Height); err != nil {
		return nil, err
	}
	// Divide rather than multiply so oversized requests are refused
	// before any product is formed.
	if src.Width > MaxDimension/scale || src.Height > MaxDimension/scale {
		return nil, fmt.Errorf("%w: %dx%d at scale %d (max %d)",
			ErrTooLarge, src.Width, src.Height, scale, MaxDimension)
	}
	if scale == 1 {
		return src.Clone(), nil
	}

	dst, err := NewBuffer(src.Width*scale, src.Height*scale)
	if err != nil {
		return nil, err
	}
	view := dst.NRGBA()
	draw.CatmullRom.Scale(view, view.Rect, src.NRGBA(), image.Rect(0, 0, src.Width, src.Height), draw.Src, nil)
	return dst, nil
}
