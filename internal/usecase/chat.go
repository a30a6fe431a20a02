package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"devchat-backend/internal/domain"
	"devchat-backend/internal/llm"
)

const (
	defaultMaxMessageLen  = 8000
	defaultHistoryDepth   = 10
	defaultRequestTimeout = 30 * time.Second
)

// LLMClient is the single model-provider capability the chat service depends
// on. Both the direct Anthropic client and the Bedrock client satisfy it.
type LLMClient interface {
	Complete(ctx context.Context, system string, messages []domain.ChatMessage) (llm.Completion, error)
}

// StateReadWriter defines the conversation store operations consumed by the
// chat service.
type StateReadWriter interface {
	GetHistory(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error)
	SaveExchange(ctx context.Context, conversationID, userMessage, assistantMessage string) error
}

// ChatService orchestrates one chat exchange: validate, load history, build
// the prompt, invoke the provider, persist the exchange.
type ChatService struct {
	llm            LLMClient
	state          StateReadWriter
	maxMessageLen  int
	historyDepth   int
	requestTimeout time.Duration
	logger         *slog.Logger
}

type ChatInput struct {
	Message        string
	ConversationID string
}

type ChatOutput struct {
	Response       string
	ConversationID string
	Timestamp      time.Time
}

func NewChatService(llmClient LLMClient, state StateReadWriter, maxMessageLen, historyDepth int, requestTimeout time.Duration, logger *slog.Logger) (*ChatService, error) {
	if llmClient == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if state == nil {
		return nil, errors.New("usecase: state store must not be nil")
	}
	if maxMessageLen <= 0 {
		maxMessageLen = defaultMaxMessageLen
	}
	if historyDepth <= 0 {
		historyDepth = defaultHistoryDepth
	}
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		llm:            llmClient,
		state:          state,
		maxMessageLen:  maxMessageLen,
		historyDepth:   historyDepth,
		requestTimeout: requestTimeout,
		logger:         logger,
	}, nil
}

// Chat runs one exchange. Store failures never fail the request: a history
// read failure degrades to an empty history, and a persistence failure after a
// successful invocation is logged without masking the reply.
func (s *ChatService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return ChatOutput{}, newError(ErrorValidation, "empty_message", nil)
	}
	// The bound is in characters, not bytes; multi-byte input must not be
	// rejected early.
	if utf8.RuneCountInString(message) > s.maxMessageLen {
		return ChatOutput{}, newError(ErrorValidation, "message_too_long", nil)
	}

	convID := strings.TrimSpace(in.ConversationID)
	if convID == "" {
		convID = newUUID()
	}

	history, err := s.state.GetHistory(ctx, convID, s.historyDepth)
	if err != nil {
		// Degraded mode: answer without prior context rather than fail.
		s.logger.WarnContext(ctx, "history load failed, proceeding without context",
			"conversationId", convID, "err", err)
		history = nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	completion, err := s.llm.Complete(callCtx, systemPrompt, buildPromptMessages(history, message))
	if err != nil {
		return ChatOutput{}, classifyProviderError(err)
	}

	timestamp := nowFunc().UTC()

	if err := s.state.SaveExchange(ctx, convID, message, completion.Text); err != nil {
		// Best-effort persistence: a successful reply still reaches the caller.
		s.logger.ErrorContext(ctx, "persist exchange failed",
			"conversationId", convID, "err", err)
	}

	s.logger.InfoContext(ctx, "chat exchange completed",
		"conversationId", convID,
		"historyTurns", len(history),
		"inputTokens", completion.InputTokens,
		"outputTokens", completion.OutputTokens)

	return ChatOutput{
		Response:       completion.Text,
		ConversationID: convID,
		Timestamp:      timestamp,
	}, nil
}

// classifyProviderError translates a classified provider failure into the
// service error taxonomy. Anything unclassified is an internal error.
func classifyProviderError(err error) *Error {
	var provErr *llm.Error
	if !errors.As(err, &provErr) {
		return newError(ErrorInternal, "provider_unclassified_error", err)
	}
	switch provErr.Kind {
	case llm.KindAuthentication:
		return newError(ErrorAuthentication, "provider_auth_failed", err)
	case llm.KindQuotaExhausted:
		return newError(ErrorQuotaExhausted, "provider_quota_exhausted", err)
	case llm.KindRateLimited:
		return newError(ErrorRateLimited, "provider_rate_limited", err)
	case llm.KindModelUnavailable:
		return newError(ErrorModelUnavailable, "provider_model_unavailable", err)
	default:
		return newError(ErrorProvider, "provider_fault", err)
	}
}

var newUUID = func() string {
	return uuid.NewString()
}

var nowFunc = time.Now
