// Copyright 2026 Esteban Alvarez. All Rights Reserved.
//
// Created: August 2026
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

package accelmgr

import "testing"

// TestReduceRatio_AllSupportedPairs checks every (rate, highest) pair in the
// supported set reduces to an exact fraction, including the one historical
// non-unit-numerator case 10Hz over 25Hz -> (2,5).
func TestReduceRatio_AllSupportedPairs(t *testing.T) {
	cases := []struct {
		rate, highest SamplingRate
		num, den      int
	}{
		{Rate10Hz, Rate10Hz, 1, 1},
		{Rate10Hz, Rate25Hz, 2, 5},
		{Rate10Hz, Rate50Hz, 1, 5},
		{Rate10Hz, Rate100Hz, 1, 10},
		{Rate25Hz, Rate25Hz, 1, 1},
		{Rate25Hz, Rate50Hz, 1, 2},
		{Rate25Hz, Rate100Hz, 1, 4},
		{Rate50Hz, Rate50Hz, 1, 1},
		{Rate50Hz, Rate100Hz, 1, 2},
		{Rate100Hz, Rate100Hz, 1, 1},
	}
	for _, c := range cases {
		num, den := ReduceRatio(c.rate, c.highest)
		if num != c.num || den != c.den {
			t.Errorf("ReduceRatio(%v, %v) = (%d,%d), want (%d,%d)",
				c.rate, c.highest, num, den, c.num, c.den)
		}
		// Exactness: rate * den == highest * num, integer arithmetic.
		if int(c.rate)*den != int(c.highest)*num {
			t.Errorf("ratio (%d,%d) is not exact for %v/%v", num, den, c.rate, c.highest)
		}
	}
}

// TestReduceRatio_PanicsOnInvalid verifies the programming-error class is a
// panic, not a silently wrong ratio.
func TestReduceRatio_PanicsOnInvalid(t *testing.T) {
	for _, c := range []struct{ rate, highest SamplingRate }{
		{30, Rate100Hz},       // unsupported rate
		{Rate50Hz, Rate25Hz},  // rate above highest
		{Rate25Hz, 75},        // unsupported highest
	} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("ReduceRatio(%v, %v) should panic", c.rate, c.highest)
				}
			}()
			ReduceRatio(c.rate, c.highest)
		}()
	}
}

func TestSamplingRate_Valid(t *testing.T) {
	for _, r := range SupportedRates {
		if !r.Valid() {
			t.Errorf("%v should be valid", r)
		}
	}
	for _, r := range []SamplingRate{0, 1, 12, 200, -10} {
		if r.Valid() {
			t.Errorf("%v should be invalid", r)
		}
	}
}

func TestSamplingRate_FillTimeMS(t *testing.T) {
	// 10 samples at 25Hz fill in 400ms — the reference scenario used by the
	// reconciler's FIFO depth computation.
	if got := Rate25Hz.FillTimeMS(10); got != 400 {
		t.Fatalf("FillTimeMS(10) at 25Hz = %d, want 400", got)
	}
	if got := Rate100Hz.FillTimeMS(25); got != 250 {
		t.Fatalf("FillTimeMS(25) at 100Hz = %d, want 250", got)
	}
}
