package ops

import (
	"math/rand/v2"
	"sync"
)

// Sampler decides which ops events are kept. Rates are in [0, 1].
type Sampler struct {
	mu           sync.RWMutex
	defaultRate  float64
	rateByAction map[string]float64
	float        func() float64
}

// NewSampler creates a sampler with the given default rate.
func NewSampler(defaultRate float64) *Sampler {
	return &Sampler{
		defaultRate:  clampRate(defaultRate),
		rateByAction: make(map[string]float64),
		float:        rand.Float64,
	}
}

// SetRate overrides the rate for one action.
func (s *Sampler) SetRate(action string, rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateByAction[action] = clampRate(rate)
}

// Keep reports whether an event with this action should be recorded.
func (s *Sampler) Keep(action string) bool {
	s.mu.RLock()
	rate, ok := s.rateByAction[action]
	if !ok {
		rate = s.defaultRate
	}
	s.mu.RUnlock()
	switch rate {
	case 0:
		return false
	case 1:
		return true
	}
	return s.float() < rate
}

func clampRate(rate float64) float64 {
	return min(max(rate, 0), 1)
}
