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

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	c := Fake(start)

	assert.Equal(t, start, c.Now())
	c.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), c.Now())
}

func TestFakeTicker(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	tk := c.NewTicker(time.Minute)

	c.Advance(30 * time.Second)
	select {
	case <-tk.C:
		t.Fatal("ticker fired before its interval")
	default:
	}

	c.Advance(30 * time.Second)
	select {
	case got := <-tk.C:
		assert.Equal(t, time.Unix(60, 0), got)
	default:
		t.Fatal("ticker did not fire at its interval")
	}

	// Crossing several deadlines at once leaves a single pending tick.
	c.Advance(5 * time.Minute)
	<-tk.C
	select {
	case <-tk.C:
		t.Fatal("ticker queued more than one tick")
	default:
	}

	tk.Stop()
	c.Advance(time.Hour)
	select {
	case <-tk.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}
