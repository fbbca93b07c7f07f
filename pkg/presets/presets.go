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

// Package presets lists the target screens a cover can be upscaled for.
package presets

import (
	"errors"
	"fmt"
)

const (
	// BaseDimension is the edge length of the source covers.
	BaseDimension = 640

	CustomID  = "custom"
	MinCustom = 640
	MaxCustom = 8192
)

var (
	ErrUnknownDevice = errors.New("presets: unknown device")
	ErrOutOfRange    = errors.New("presets: resolution out of range")
)

type Device struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

var devices = []Device{
	{"iphone-16-pro-max", "iPhone 16 Pro Max", 1320, 2868},
	{"iphone-16-pro", "iPhone 16 Pro", 1206, 2622},
	{"iphone-16-plus", "iPhone 16 Plus", 1290, 2796},
	{"iphone-16", "iPhone 16", 1179, 2556},
	{"iphone-15-pro-max", "iPhone 15 Pro Max", 1290, 2796},
	{"iphone-15-pro", "iPhone 15 Pro", 1179, 2556},
	{"iphone-15-plus", "iPhone 15 Plus", 1290, 2796},
	{"iphone-15", "iPhone 15", 1179, 2556},

	{"samsung-s25-ultra", "Samsung Galaxy S25 Ultra", 1440, 3120},
	{"samsung-s25-plus", "Samsung Galaxy S25+", 1440, 3120},
	{"samsung-s25", "Samsung Galaxy S25", 1080, 2340},
	{"samsung-s24-ultra", "Samsung Galaxy S24 Ultra", 1440, 3120},
	{"samsung-s24-plus", "Samsung Galaxy S24+", 1440, 3120},
	{"samsung-s24", "Samsung Galaxy S24", 1080, 2340},

	{"pixel-9-pro-xl", "Google Pixel 9 Pro XL", 1344, 2992},
	{"pixel-9-pro", "Google Pixel 9 Pro", 1280, 2856},
	{"pixel-9", "Google Pixel 9", 1080, 2424},
	{"pixel-8-pro", "Google Pixel 8 Pro", 1344, 2992},

	{"ipad-pro-13", `iPad Pro 13"`, 2064, 2752},
	{"ipad-pro-11", `iPad Pro 11"`, 1668, 2388},

	{"desktop-4k", "Desktop 4K", 3840, 2160},
	{"desktop-1440p", "Desktop 1440p", 2560, 1440},
	{"desktop-1080p", "Desktop 1080p", 1920, 1080},

	{CustomID, "Custom Resolution", 2560, 2560},
}

// All returns a copy of the preset list in display order.
func All() []Device {
	out := make([]Device, len(devices))
	copy(out, devices)
	return out
}

func Lookup(id string) (Device, error) {
	for _, d := range devices {
		if d.ID == id {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("%w: %q", ErrUnknownDevice, id)
}

// Scale returns ceil(max(width, height) / base), never less than 1.
func Scale(width, height, base int) int {
	if base <= 0 {
		base = BaseDimension
	}
	m := max(width, height)
	if m <= 0 {
		return 1
	}
	return max(1, (m+base-1)/base)
}

// Resolve picks the target resolution for a request. A known device id
// wins; "custom" or an empty id uses width and height, which must lie
// within [MinCustom, MaxCustom].
func Resolve(id string, width, height int) (Device, error) {
	if id != "" && id != CustomID {
		return Lookup(id)
	}
	if width < MinCustom || width > MaxCustom || height < MinCustom || height > MaxCustom {
		return Device{}, fmt.Errorf("%w: %dx%d not within [%d, %d]",
			ErrOutOfRange, width, height, MinCustom, MaxCustom)
	}
	return Device{ID: CustomID, Name: "Custom Resolution", Width: width, Height: height}, nil
}
