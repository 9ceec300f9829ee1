// Package counter implements the output counter and failure-rate guard
// (SPEC_FULL.md §4.11): as each WorkOutput passes through, running totals
// are updated; at end-of-stream, a failure rate over the allowed
// threshold becomes a fatal error in the exact wire format the original
// implementation used. There is no teacher precedent for this exact
// counter; it is grounded on the same "wrap a stream, tally as items
// pass" shape as internal/stream.Counted, generalized from a size hint to
// running statistics.
package counter

import (
	"fmt"

	"github.com/elevatelaw/prompt-scaler/internal/work"
)

// Totals is the running tally accumulated across an output stream.
type Totals struct {
	Total            int
	Failed           int
	NonFatalErrors    int
	EstimatedCost    float64
	PromptTokens     int
	CompletionTokens int
}

// Guard accumulates Totals as outputs are observed and can render an
// end-of-stream failure-rate verdict.
type Guard struct {
	allowedFailureRate float64
	totals             Totals
}

// NewGuard constructs a Guard. allowedFailureRate has no default — per
// SPEC_FULL.md §9's resolved Open Question, the caller must supply one
// explicitly.
func NewGuard(allowedFailureRate float64) *Guard {
	return &Guard{allowedFailureRate: allowedFailureRate}
}

// Observe records one output's contribution to the running totals.
func Observe[T any](g *Guard, out work.WorkOutput[T]) {
	g.totals.Total++
	if out.Status == work.StatusFailed {
		g.totals.Failed++
	}
	if out.Status != work.StatusFailed && len(out.Errors) > 0 {
		g.totals.NonFatalErrors++
	}
	if out.EstimatedCost != nil {
		g.totals.EstimatedCost += *out.EstimatedCost
	}
	if out.TokenUsage != nil {
		g.totals.PromptTokens += out.TokenUsage.PromptTokens
		g.totals.CompletionTokens += out.TokenUsage.CompletionTokens
	}
}

// Totals returns a snapshot of the running tallies.
func (g *Guard) Totals() Totals { return g.totals }

// Check returns a non-nil error, in the exact wording SPEC_FULL.md §4.11
// mandates, if the observed failure rate exceeds the allowed rate.
func (g *Guard) Check() error {
	if g.totals.Total == 0 {
		return nil
	}
	rate := float64(g.totals.Failed) / float64(g.totals.Total)
	if rate <= g.allowedFailureRate {
		return nil
	}
	return fmt.Errorf(
		"%d/%d (%.2f%%) of outputs were failures, but only %.2f%% were allowed",
		g.totals.Failed, g.totals.Total, rate*100, g.allowedFailureRate*100,
	)
}

// Summary renders the human-readable end-of-run message emitted via the
// progress/UI surface on success (§4.11: "emit human-readable summary
// messages").
func (g *Guard) Summary() string {
	t := g.totals
	return fmt.Sprintf(
		"processed %d items: %d failed, %d had non-fatal errors; tokens: %d prompt / %d completion; estimated cost: $%.4f",
		t.Total, t.Failed, t.NonFatalErrors, t.PromptTokens, t.CompletionTokens, t.EstimatedCost,
	)
}
