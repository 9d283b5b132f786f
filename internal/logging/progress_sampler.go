package logging

import (
	"math"
	"strings"
)

// ProgressSampler picks the transfer progress updates worth a log line: the
// first update of each phase, each crossing of a percent step, and completion
// exactly once.
type ProgressSampler struct {
	step  float64
	phase string
	next  float64
	done  bool
}

// NewProgressSampler returns a sampler emitting every step percent (10 when
// step is not positive).
func NewProgressSampler(step float64) *ProgressSampler {
	if step <= 0 {
		step = 10
	}
	return &ProgressSampler{step: step}
}

// ShouldLog reports whether an update should be logged. A negative percent
// means unknown and only phase changes emit.
func (s *ProgressSampler) ShouldLog(percent float64, phase string) bool {
	if s == nil {
		return true
	}
	if phase = strings.TrimSpace(phase); phase != "" && phase != s.phase {
		s.phase = phase
		s.next, s.done = 0, false
		s.advance(percent)
		return true
	}
	switch {
	case percent < 0:
		return false
	case percent >= 100:
		if s.done {
			return false
		}
		s.done = true
		return true
	case percent < s.next:
		return false
	}
	s.advance(percent)
	return true
}

func (s *ProgressSampler) advance(percent float64) {
	if percent < 0 {
		return
	}
	s.next = (math.Floor(percent/s.step) + 1) * s.step
	s.done = percent >= 100
}

// Reset forgets the current phase and thresholds.
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	*s = ProgressSampler{step: s.step}
}
