// SPDX-License-Identifier: GPL-3.0-or-later

package node

import (
	"math"
	"math/rand"
	"testing"
)

func TestConstSampler(t *testing.T) {
	s := NewSampler(Param{Dist: DistConstant, Value: 42})
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 5; i++ {
		if v := s.Sample(rng); v != 42 {
			t.Fatalf("got %v, want 42", v)
		}
	}
}

func TestExpSamplerMeanConverges(t *testing.T) {
	const mean = 250.0
	s := NewSampler(Param{Dist: DistNegExponential, Value: mean})
	rng := rand.New(rand.NewSource(7))
	const n = 200_000
	var sum float64
	for i := 0; i < n; i++ {
		sum += s.Sample(rng)
	}
	got := sum / n
	if math.Abs(got-mean)/mean > 0.02 {
		t.Fatalf("sample mean %v deviates from target mean %v by more than 2%%", got, mean)
	}
}

func TestExpSamplerNonPositiveMean(t *testing.T) {
	s := NewSampler(Param{Dist: DistNegExponential, Value: 0})
	if v := s.Sample(rand.New(rand.NewSource(1))); v != 0 {
		t.Fatalf("got %v, want 0 for non-positive mean", v)
	}
}

func TestBernoulliBoundaries(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if Bernoulli(rng, 0) {
		t.Fatal("p=0 must never be true")
	}
	if !Bernoulli(rng, 1) {
		t.Fatal("p=1 must always be true")
	}
}

func TestBernoulliConverges(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	const n = 100_000
	const p = 0.3
	var trueCount int
	for i := 0; i < n; i++ {
		if Bernoulli(rng, p) {
			trueCount++
		}
	}
	got := float64(trueCount) / n
	if math.Abs(got-p) > 0.01 {
		t.Fatalf("observed rate %v deviates from target %v by more than 1%%", got, p)
	}
}
