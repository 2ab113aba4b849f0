package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingSweeper struct {
	calls atomic.Int32
}

func (c *countingSweeper) SweepDelinquencies(ctx context.Context) {
	if _, ok := ctx.Deadline(); ok {
		c.calls.Add(1)
	}
}

func TestAddDelinquencySweep(t *testing.T) {
	s := NewScheduler(nil)
	sw := &countingSweeper{}

	if err := s.AddDelinquencySweep("", sw); err != nil {
		t.Fatalf("Unexpected error for empty spec: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Expected no jobs for empty spec, got %d", s.Len())
	}
	if err := s.AddDelinquencySweep("every tuesday", sw); err == nil {
		t.Error("Expected error for invalid spec")
	}
	if err := s.AddDelinquencySweep("@daily", sw); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("Expected 1 job, got %d", s.Len())
	}
}

func TestRunPassesDeadline(t *testing.T) {
	s := NewScheduler(nil)
	sw := &countingSweeper{}
	s.run("delinquency_sweep", sw.SweepDelinquencies)
	if sw.calls.Load() != 1 {
		t.Errorf("Expected 1 call with a deadline, got %d", sw.calls.Load())
	}
}

func TestStartStop(t *testing.T) {
	s := NewScheduler(nil)
	if err := s.AddDelinquencySweep("@every 1h", &countingSweeper{}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
