// Package retry implements the retry/backoff engine (SPEC_FULL.md §4.4):
// transient/fatal error classification, exponential backoff with jitter
// bounded to 5 retries, and a four-variant RetryOutcome carrying full
// attempt provenance. Grounded on original_source/src/queues/chat.rs's
// ExponentialJitter{backoff_range_millis: 1..=30_000, re_attempts: 5,
// jitter_ratio: 0.2} and the teacher's internal/llm/ratelimit.go retry
// loop, replacing its ad hoc substring-matched classification with typed
// sentinel errors.
package retry

import "fmt"

// Kind is the tag of a resolved RetryOutcome.
type Kind int

const (
	KindOk Kind = iota
	KindRecovered
	KindFatal
	KindGivenUp
)

func (k Kind) String() string {
	switch k {
	case KindOk:
		return "ok"
	case KindRecovered:
		return "recovered"
	case KindFatal:
		return "fatal"
	case KindGivenUp:
		return "given_up"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of a retry loop over attemptFn. All
// retries carry their transient-attempt error history for diagnostics,
// per §3 RetryOutcome<T>.
type Outcome[T any] struct {
	Kind        Kind
	Value       T
	RetryErrors []string
	FatalError  error
}

func ok[T any](v T) Outcome[T] {
	return Outcome[T]{Kind: KindOk, Value: v}
}

func recovered[T any](v T, history []string) Outcome[T] {
	return Outcome[T]{Kind: KindRecovered, Value: v, RetryErrors: history}
}

func fatal[T any](err error) Outcome[T] {
	return Outcome[T]{Kind: KindFatal, FatalError: err}
}

func givenUp[T any](history []string, terminal error) Outcome[T] {
	return Outcome[T]{Kind: KindGivenUp, RetryErrors: history, FatalError: terminal}
}

// StatusErrors maps an Outcome onto the output record's (status, errors)
// pair per §4.4's provenance table. ok/failed are generic placeholders;
// callers translate these into their own work.Status values.
func (o Outcome[T]) StatusErrors() (ok bool, errs []string) {
	switch o.Kind {
	case KindOk:
		return true, nil
	case KindRecovered:
		return true, o.RetryErrors
	case KindFatal:
		return false, []string{o.FatalError.Error()}
	case KindGivenUp:
		return false, append(append([]string{}, o.RetryErrors...), o.FatalError.Error())
	default:
		return false, []string{fmt.Sprintf("unknown retry outcome kind %d", o.Kind)}
	}
}
