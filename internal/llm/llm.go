// Package llm defines the provider-agnostic completion interface shared by the
// direct Anthropic client and the Bedrock client, plus the classified error
// type both report their failures through.
package llm

import (
	"context"
	"fmt"

	"devchat-backend/internal/domain"
)

// Completer is the single capability the chat service needs from a model
// provider. Implementations must honor ctx cancellation and deadlines.
type Completer interface {
	Complete(ctx context.Context, system string, messages []domain.ChatMessage) (Completion, error)
}

// Completion is a provider response: the assistant text plus token usage when
// the provider reports it (zero otherwise).
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Kind classifies a provider failure. The chat service maps each kind to an
// HTTP status and a canRetry hint; providers must pick the most specific kind
// they can determine.
type Kind string

const (
	// KindAuthentication covers invalid/expired credentials and denied IAM
	// access. Administrator-actionable, never retried.
	KindAuthentication Kind = "authentication"
	// KindQuotaExhausted covers billing/credit exhaustion reported by the
	// provider. Not a bug, but not retryable either.
	KindQuotaExhausted Kind = "quota_exhausted"
	// KindRateLimited covers provider throttling. The caller may resend.
	KindRateLimited Kind = "rate_limited"
	// KindModelUnavailable means the configured model id is not recognized by
	// the provider. A configuration defect; no silent fallback model.
	KindModelUnavailable Kind = "model_unavailable"
	// KindProviderFault covers timeouts, 5xx responses and anything else
	// unexpected from the provider. Retryable.
	KindProviderFault Kind = "provider_fault"
)

// Error is a classified provider failure. Err carries the raw upstream detail
// for server-side logging; it must never be echoed to the client.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("llm: %s", e.Kind)
	}
	return fmt.Sprintf("llm: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError wraps an upstream failure with its classification.
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
