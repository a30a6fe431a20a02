// Package handler adapts API Gateway proxy events to the chat service and is
// the only place outbound payloads are produced. Every branch, including
// pre-flight and failures, goes through respond so the CORS envelope is never
// dropped.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"devchat-backend/internal/usecase"
)

// ChatUseCase is the service capability the handler depends on.
type ChatUseCase interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
}

type Handler struct {
	chat   ChatUseCase
	logger *slog.Logger
}

func NewHandler(chat ChatUseCase, logger *slog.Logger) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{chat: chat, logger: logger}, nil
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
}

type chatResponse struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversationId"`
	Timestamp      string `json:"timestamp"`
	RequestID      string `json:"requestId"`
}

type errorResponse struct {
	Error     string `json:"error"`
	ErrorType string `json:"errorType"`
	CanRetry  bool   `json:"canRetry"`
}

// Handle processes one API Gateway invocation.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := resolveCorrelationID(event.Headers)
	logger := h.logger.With("correlationId", correlationID)

	// Pre-flight: fixed CORS set, empty body, no collaborator calls.
	if event.HTTPMethod == http.MethodOptions {
		return respond(http.StatusOK, "", correlationID), nil
	}
	if event.HTTPMethod != http.MethodPost {
		logger.WarnContext(ctx, "method not allowed", "method", event.HTTPMethod)
		return respondError(http.StatusMethodNotAllowed, usecase.ErrorValidation,
			"Only POST and OPTIONS are supported.", false, correlationID), nil
	}

	var req chatRequest
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "err", err)
		return respondError(http.StatusBadRequest, usecase.ErrorValidation,
			"Invalid JSON in request body.", false, correlationID), nil
	}

	out, err := h.chat.Chat(ctx, usecase.ChatInput{
		Message:        req.Message,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		code := usecase.ErrorInternal
		var ucErr *usecase.Error
		if errors.As(err, &ucErr) {
			code = ucErr.Code
		}
		status, message, canRetry := errorContract(code, reasonOf(ucErr))
		// Full upstream detail stays server-side; the client sees only the
		// contract message.
		if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
			logger.ErrorContext(ctx, "chat request failed", "errorType", code, "err", err)
		} else {
			logger.WarnContext(ctx, "chat request rejected", "errorType", code, "err", err)
		}
		return respondError(status, code, message, canRetry, correlationID), nil
	}

	body, err := json.Marshal(chatResponse{
		Response:       out.Response,
		ConversationID: out.ConversationID,
		Timestamp:      out.Timestamp.UTC().Format(time.RFC3339),
		RequestID:      correlationID,
	})
	if err != nil {
		logger.ErrorContext(ctx, "marshal response failed", "err", err)
		status, message, canRetry := errorContract(usecase.ErrorInternal, "")
		return respondError(status, usecase.ErrorInternal, message, canRetry, correlationID), nil
	}
	return respond(http.StatusOK, string(body), correlationID), nil
}

// respond is the single code path producing an outbound payload. The fixed
// CORS header set is attached on every branch.
func respond(status int, body, correlationID string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Access-Control-Allow-Origin":  "*",
			"Access-Control-Allow-Methods": "POST, OPTIONS",
			"Access-Control-Allow-Headers": "Content-Type",
			"Content-Type":                 "application/json",
			"X-Correlation-Id":             correlationID,
		},
		Body: body,
	}
}

func respondError(status int, code usecase.ErrorCode, message string, canRetry bool, correlationID string) events.APIGatewayProxyResponse {
	body, err := json.Marshal(errorResponse{
		Error:     message,
		ErrorType: string(code),
		CanRetry:  canRetry,
	})
	if err != nil {
		// Unreachable with these field types; keep the envelope anyway.
		body = []byte(`{"error":"internal error","errorType":"internal_error","canRetry":true}`)
	}
	return respond(status, string(body), correlationID)
}

// errorContract maps a service error code (and, for validation, its reason)
// onto the external status/message/canRetry contract.
func errorContract(code usecase.ErrorCode, reason string) (int, string, bool) {
	switch code {
	case usecase.ErrorValidation:
		switch reason {
		case "empty_message":
			return http.StatusBadRequest, "Message cannot be empty.", false
		case "message_too_long":
			return http.StatusBadRequest, "Message is too long. Please shorten it and try again.", false
		default:
			return http.StatusBadRequest, "Invalid request.", false
		}
	case usecase.ErrorAuthentication:
		return http.StatusUnauthorized,
			"The AI service rejected this deployment's credentials. Verify the API key in SSM Parameter Store or the function's Bedrock permissions.", false
	case usecase.ErrorQuotaExhausted:
		return http.StatusTooManyRequests,
			"The AI service account has no remaining credits. Add credits to the provider account before retrying.", false
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests,
			"Rate limit reached. Please wait a moment and try again.", true
	case usecase.ErrorModelUnavailable:
		return http.StatusInternalServerError,
			"The configured AI model is not available. Check the model identifier configuration.", false
	case usecase.ErrorProvider:
		return http.StatusBadGateway,
			"The AI service had a temporary problem. Please try again in a moment.", true
	case usecase.ErrorStoreUnavailable:
		return http.StatusServiceUnavailable,
			"Conversation storage is temporarily unavailable. Please try again shortly.", true
	default:
		return http.StatusInternalServerError,
			"I'm having trouble processing your request. This might be a temporary issue. Please try again in a moment.", true
	}
}

func reasonOf(err *usecase.Error) string {
	if err == nil {
		return ""
	}
	return err.Reason
}

// resolveCorrelationID returns the inbound correlation id header
// (case-insensitive) or a fresh UUID.
func resolveCorrelationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "x-correlation-id") && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return uuid.NewString()
}
