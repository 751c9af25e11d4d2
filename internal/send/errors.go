package send

import (
	"fmt"
)

// Kind classifies a failed send
type Kind int

const (
	// Unclassified covers network failures, rate limits, cancellation and
	// anything else; surfaced verbatim and never retried here.
	Unclassified Kind = iota
	// PromptTooLarge means the new message alone exceeds the budget
	PromptTooLarge
	// ContextOverflow is a provider overflow rejection. It drives the trim
	// loop and only escapes as the cause of ContextOverflowAfterTrimming.
	ContextOverflow
	// ContextOverflowAfterTrimming means the trim loop ran out of attempts
	// or history
	ContextOverflowAfterTrimming
	// AuthFailure means the provider rejected the credentials
	AuthFailure
)

func (k Kind) String() string {
	switch k {
	case PromptTooLarge:
		return "prompt_too_large"
	case ContextOverflow:
		return "context_overflow"
	case ContextOverflowAfterTrimming:
		return "context_overflow_after_trimming"
	case AuthFailure:
		return "auth_failure"
	default:
		return "unclassified"
	}
}

// Error is a terminal send failure with enough detail for display
type Error struct {
	Kind         Kind
	Model        string
	TrimmedCount int
	Attempts     int
	UserTokens   int
	MaxContext   int
	Err          error
}

func (e *Error) Error() string {
	switch e.Kind {
	case PromptTooLarge:
		return fmt.Sprintf("message too large for %s: ~%d tokens exceeds the %d token budget", e.Model, e.UserTokens, e.MaxContext)
	case ContextOverflowAfterTrimming:
		return fmt.Sprintf("context overflow on %s after trimming %d exchanges: %v", e.Model, e.TrimmedCount, e.Err)
	case AuthFailure:
		return fmt.Sprintf("authentication failed for %s: %v", e.Model, e.Err)
	default:
		return fmt.Sprintf("send to %s failed: %v", e.Model, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}
