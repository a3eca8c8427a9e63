// SPDX-License-Identifier: GPL-3.0-or-later

package node

import (
	"math/rand"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// Micros is an absolute or relative time value in microseconds, taken from
// a single process-wide Clock. All scheduling deadlines are absolute Micros
// values.
type Micros int64

// Forever is the Micros value used for a deadline that never fires.
const Forever Micros = 1<<63 - 1

// Clock gives microsecond-resolution access to the process's monotonic
// clock. The zero value is ready to use.
type Clock struct{}

// clockBase anchors Clock.Now to the wall clock at process start; offsets
// from it use the monotonic clock reading.
var clockBase = time.Now()

// Now returns the current time in Micros.
func (Clock) Now() Micros {
	return Micros(clockBase.UnixMicro() + time.Since(clockBase).Microseconds())
}

// Sampler draws a value from a distribution, given a source of randomness.
// Samplers must be safe to call repeatedly with different *rand.Rand
// instances so that callers may choose between a shared or per-flow source.
type Sampler interface {
	Sample(rng *rand.Rand) float64
}

// NewSampler returns the Sampler for the given Param.
func NewSampler(p Param) Sampler {
	switch p.Dist {
	case DistNegExponential:
		return expSampler{p.Value}
	default:
		return constSampler{p.Value}
	}
}

// constSampler always returns Value.
type constSampler struct {
	Value float64
}

// Sample implements Sampler
func (c constSampler) Sample(*rand.Rand) float64 {
	return c.Value
}

// expSampler draws from a negative-exponential distribution with the given
// mean, using gonum's distuv.Exponential (parameterized by rate, the
// reciprocal of the mean).
type expSampler struct {
	Mean float64
}

// Sample implements Sampler
func (e expSampler) Sample(rng *rand.Rand) float64 {
	if e.Mean <= 0 {
		return 0
	}
	d := distuv.Exponential{Rate: 1 / e.Mean, Src: rng}
	return d.Rand()
}

// Bernoulli draws a true/false outcome with probability p of true.
func Bernoulli(rng *rand.Rand, p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return rng.Float64() < p
}
