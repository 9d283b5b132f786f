package logging

import "testing"

func TestNewProgressSampler(t *testing.T) {
	tests := []struct {
		name     string
		step     float64
		wantStep float64
	}{
		{"default step for zero", 0, 10},
		{"default step for negative", -1, 10},
		{"custom step", 25, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewProgressSampler(tt.step)
			if s.step != tt.wantStep {
				t.Errorf("step = %v, want %v", s.step, tt.wantStep)
			}
			if s.next != 0 || s.done {
				t.Errorf("unexpected initial state next=%v done=%v", s.next, s.done)
			}
		})
	}
}

func TestProgressSamplerNil(t *testing.T) {
	var s *ProgressSampler
	if !s.ShouldLog(50, "transferring") {
		t.Error("ShouldLog on nil sampler should always return true")
	}
	s.Reset()
}

func TestProgressSamplerPhaseChange(t *testing.T) {
	s := NewProgressSampler(10)
	if !s.ShouldLog(0, "requesting_credentials") {
		t.Error("first phase should log")
	}
	if s.ShouldLog(0, "requesting_credentials") {
		t.Error("same phase and percent should not log again")
	}
	if !s.ShouldLog(0, "transferring") {
		t.Error("phase change should log")
	}
}

func TestProgressSamplerBuckets(t *testing.T) {
	s := NewProgressSampler(10)
	steps := []struct {
		percent float64
		want    bool
	}{
		{1, true},
		{5, false},
		{10, true},
		{19.9, false},
		{20, true},
		{15, false},
		{-1, false},
		{100, true},
		{100, false},
	}
	for i, step := range steps {
		if got := s.ShouldLog(step.percent, "transferring"); got != step.want && i > 0 {
			t.Fatalf("step %d percent %.1f: got %v want %v", i, step.percent, got, step.want)
		}
	}
	s.Reset()
	if !s.ShouldLog(0, "transferring") {
		t.Fatal("expected log after reset")
	}
}
