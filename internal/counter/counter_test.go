package counter

import (
	"testing"

	"github.com/elevatelaw/prompt-scaler/internal/work"
)

func cost(v float64) *float64 { return &v }

func TestGuard_CheckUnderThreshold(t *testing.T) {
	g := NewGuard(0.5)
	Observe(g, work.WorkOutput[int]{Status: work.StatusOk})
	Observe(g, work.WorkOutput[int]{Status: work.StatusFailed})
	Observe(g, work.WorkOutput[int]{Status: work.StatusOk})
	Observe(g, work.WorkOutput[int]{Status: work.StatusOk})

	if err := g.Check(); err != nil {
		t.Fatalf("Check() = %v, want nil (25%% <= 50%% allowed)", err)
	}
}

func TestGuard_CheckOverThreshold(t *testing.T) {
	g := NewGuard(0.1)
	Observe(g, work.WorkOutput[int]{Status: work.StatusOk})
	Observe(g, work.WorkOutput[int]{Status: work.StatusFailed})

	err := g.Check()
	if err == nil {
		t.Fatalf("Check() = nil, want an error (50%% > 10%% allowed)")
	}
	want := "1/2 (50.00%) of outputs were failures, but only 10.00% were allowed"
	if err.Error() != want {
		t.Fatalf("Check() = %q, want %q", err.Error(), want)
	}
}

func TestGuard_EmptyStreamNeverFails(t *testing.T) {
	g := NewGuard(0.0)
	if err := g.Check(); err != nil {
		t.Fatalf("Check() on empty stream = %v, want nil", err)
	}
}

func TestGuard_TotalsAccumulate(t *testing.T) {
	g := NewGuard(1.0)
	Observe(g, work.WorkOutput[int]{Status: work.StatusOk, EstimatedCost: cost(0.5), TokenUsage: &work.TokenUsage{PromptTokens: 10, CompletionTokens: 2}})
	Observe(g, work.WorkOutput[int]{Status: work.StatusIncomplete, Errors: []string{"page 2: missing"}, EstimatedCost: cost(0.25)})

	totals := g.Totals()
	if totals.Total != 2 {
		t.Fatalf("got Total %d, want 2", totals.Total)
	}
	if totals.Failed != 0 {
		t.Fatalf("got Failed %d, want 0 (incomplete is not failed)", totals.Failed)
	}
	if totals.NonFatalErrors != 1 {
		t.Fatalf("got NonFatalErrors %d, want 1", totals.NonFatalErrors)
	}
	if totals.EstimatedCost != 0.75 {
		t.Fatalf("got EstimatedCost %v, want 0.75", totals.EstimatedCost)
	}
	if totals.PromptTokens != 10 || totals.CompletionTokens != 2 {
		t.Fatalf("got token totals %+v, want {10 2}", totals)
	}
}

func TestGuard_Summary(t *testing.T) {
	g := NewGuard(1.0)
	Observe(g, work.WorkOutput[int]{Status: work.StatusOk})
	s := g.Summary()
	if s == "" {
		t.Fatalf("Summary() returned empty string")
	}
}
