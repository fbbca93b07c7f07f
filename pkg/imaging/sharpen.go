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
	"math"
	"runtime"

	"github.com/sourcegraph/conc/iter"
)

// DefaultSharpenAmount is the strength the upscaler applies after resizing.
const DefaultSharpenAmount = 0.5

// Sharpen convolves the colour channels of src with
//
//	[  0  -a   0 ]
//	[ -a 1+4a -a ]
//	[  0  -a   0 ]
//
// clamping each result to [0,255]. Alpha and the one-pixel border are
// copied unchanged. Negative amounts are treated as 0. src is not modified.
func Sharpen(src *Buffer, amount float64) *Buffer {
	if amount < 0 {
		amount = 0
	}
	out := src.Clone()
	w, h := src.Width, src.Height
	if w < 3 || h < 3 {
		return out
	}

	center := 1 + 4*amount
	stride := w * 4
	in := src.Pix

	rows := make([]int, h-2)
	for i := range rows {
		rows[i] = i + 1
	}
	it := iter.Iterator[int]{MaxGoroutines: runtime.GOMAXPROCS(0)}
	it.ForEach(rows, func(yp *int) {
		row := *yp * stride
		for x := 1; x < w-1; x++ {
			i := row + x*4
			for c := 0; c < 3; c++ {
				p := i + c
				sum := center*float64(in[p]) -
					amount*(float64(in[p-stride])+
						float64(in[p+stride])+
						float64(in[p-4])+
						float64(in[p+4]))
				out.Pix[p] = clamp8(sum)
			}
		}
	})
	return out
}

func clamp8(v float64) uint8 {
	v = math.RoundToEven(v)
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}
