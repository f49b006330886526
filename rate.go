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

import "fmt"

// SamplingRate is one of the accelerometer's supported output data rates,
// in Hz. The hardware supports a small enumerated set; requests outside it
// are rejected at the API boundary, never silently rounded.
type SamplingRate int

const (
	Rate10Hz  SamplingRate = 10
	Rate25Hz  SamplingRate = 25
	Rate50Hz  SamplingRate = 50
	Rate100Hz SamplingRate = 100

	// RateLowest is the floor applied when no subscriber expresses a
	// preference (e.g. tap-only operation).
	RateLowest = Rate10Hz
)

// SupportedRates lists the valid rates in ascending order.
var SupportedRates = []SamplingRate{Rate10Hz, Rate25Hz, Rate50Hz, Rate100Hz}

// Valid reports whether r is a member of the supported rate set.
func (r SamplingRate) Valid() bool {
	for _, s := range SupportedRates {
		if r == s {
			return true
		}
	}
	return false
}

// IntervalMS returns the sample period in milliseconds. Exact for every
// supported rate (all divide 1000).
func (r SamplingRate) IntervalMS() uint64 {
	return uint64(1000 / r)
}

// FillTimeMS returns how long a buffer of n samples takes to fill at rate r.
func (r SamplingRate) FillTimeMS(n int) uint64 {
	return uint64(n) * 1000 / uint64(r)
}

func (r SamplingRate) String() string { return fmt.Sprintf("%dHz", int(r)) }

// ReduceRatio expresses rate as an exact fraction of highest:
// rate/highest == num/den with gcd(num, den) == 1.
//
// Both arguments must be supported rates with rate <= highest; violating
// that is a caller bug (the reconciler always passes the max over the
// active set), so we panic rather than guess. Within the supported set
// {10,25,50,100} the only result with num > 1 is 10/25 -> (2,5).
func ReduceRatio(rate, highest SamplingRate) (num, den int) {
	if !rate.Valid() || !highest.Valid() || rate > highest {
		panic(fmt.Sprintf("accelmgr: invalid subsample ratio %v/%v", rate, highest))
	}
	g := gcd(int(rate), int(highest))
	return int(rate) / g, int(highest) / g
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
