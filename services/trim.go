package services

import (
	"math/rand/v2"
	"sync/atomic"
)

// TrimPolicy decides whether an idle poll should trim the queue. It is load
// shedding only; neither policy bounds the queue size.
type TrimPolicy interface {
	ShouldTrim() bool
}

// RandomTrim fires with probability 1/rate
type RandomTrim struct {
	rate int
	intN func(n int) int
}

func NewRandomTrim(rate int) *RandomTrim {
	return &RandomTrim{rate: rate, intN: rand.IntN}
}

func (r *RandomTrim) ShouldTrim() bool {
	if r.rate <= 1 {
		return true
	}
	return r.intN(r.rate) == 0
}

// EveryNthTrim fires on every nth call
type EveryNthTrim struct {
	n     uint64
	calls atomic.Uint64
}

func NewEveryNthTrim(n int) *EveryNthTrim {
	if n < 1 {
		n = 1
	}
	return &EveryNthTrim{n: uint64(n)}
}

func (e *EveryNthTrim) ShouldTrim() bool {
	return e.calls.Add(1)%e.n == 0
}

// NewTrimPolicy builds the policy named by strategy ("random" or "every")
func NewTrimPolicy(strategy string, rate int) TrimPolicy {
	if strategy == "every" {
		return NewEveryNthTrim(rate)
	}
	return NewRandomTrim(rate)
}
