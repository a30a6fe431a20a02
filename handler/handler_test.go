package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"devchat-backend/internal/usecase"
)

type stubUseCase struct {
	out   usecase.ChatOutput
	err   error
	in    usecase.ChatInput
	calls int
}

func (s *stubUseCase) Chat(_ context.Context, in usecase.ChatInput) (usecase.ChatOutput, error) {
	s.calls++
	s.in = in
	return s.out, s.err
}

func makeEvent(method, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       "/chat",
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func requireCORS(t *testing.T, resp events.APIGatewayProxyResponse) {
	t.Helper()
	require.Equal(t, "*", resp.Headers["Access-Control-Allow-Origin"])
	require.Equal(t, "POST, OPTIONS", resp.Headers["Access-Control-Allow-Methods"])
	require.Equal(t, "Content-Type", resp.Headers["Access-Control-Allow-Headers"])
	require.Equal(t, "application/json", resp.Headers["Content-Type"])
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil, nil)
	require.Error(t, err)
}

func TestHandle_HappyPath(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	uc := &stubUseCase{out: usecase.ChatOutput{
		Response:       "Here is a function...",
		ConversationID: "test-123",
		Timestamp:      ts,
	}}
	h, err := NewHandler(uc, nil)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost,
		`{"message": "Generate a Python Lambda function that returns Hello World", "conversationId": "test-123"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	requireCORS(t, resp)
	require.Equal(t, usecase.ChatInput{
		Message:        "Generate a Python Lambda function that returns Hello World",
		ConversationID: "test-123",
	}, uc.in)

	out := parseBody[chatResponse](t, resp.Body)
	require.Equal(t, "Here is a function...", out.Response)
	require.Equal(t, "test-123", out.ConversationID)
	require.Equal(t, "2025-06-01T12:00:00Z", out.Timestamp)
	require.NotEmpty(t, out.RequestID)
	require.Equal(t, out.RequestID, resp.Headers["X-Correlation-Id"])
}

func TestHandle_Options_PreflightTouchesNothing(t *testing.T) {
	uc := &stubUseCase{}
	h, err := NewHandler(uc, nil)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodOptions, ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, resp.Body)
	require.Zero(t, uc.calls)
	requireCORS(t, resp)
}

func TestHandle_MethodNotAllowed(t *testing.T) {
	uc := &stubUseCase{}
	h, err := NewHandler(uc, nil)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	require.Zero(t, uc.calls)
	requireCORS(t, resp)

	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, string(usecase.ErrorValidation), out.ErrorType)
	require.False(t, out.CanRetry)
}

func TestHandle_InvalidBody(t *testing.T) {
	uc := &stubUseCase{}
	h, err := NewHandler(uc, nil)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, `not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Zero(t, uc.calls)
	requireCORS(t, resp)

	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, string(usecase.ErrorValidation), out.ErrorType)
	require.False(t, out.CanRetry)
	require.NotEmpty(t, out.Error)
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		status   int
		code     string
		canRetry bool
	}{
		{name: "empty message", err: &usecase.Error{Code: usecase.ErrorValidation, Reason: "empty_message"}, status: http.StatusBadRequest, code: string(usecase.ErrorValidation), canRetry: false},
		{name: "message too long", err: &usecase.Error{Code: usecase.ErrorValidation, Reason: "message_too_long"}, status: http.StatusBadRequest, code: string(usecase.ErrorValidation), canRetry: false},
		{name: "authentication", err: &usecase.Error{Code: usecase.ErrorAuthentication, Reason: "provider_auth_failed"}, status: http.StatusUnauthorized, code: string(usecase.ErrorAuthentication), canRetry: false},
		{name: "quota exhausted", err: &usecase.Error{Code: usecase.ErrorQuotaExhausted, Reason: "provider_quota_exhausted"}, status: http.StatusTooManyRequests, code: string(usecase.ErrorQuotaExhausted), canRetry: false},
		{name: "rate limited", err: &usecase.Error{Code: usecase.ErrorRateLimited, Reason: "provider_rate_limited"}, status: http.StatusTooManyRequests, code: string(usecase.ErrorRateLimited), canRetry: true},
		{name: "model unavailable", err: &usecase.Error{Code: usecase.ErrorModelUnavailable, Reason: "provider_model_unavailable"}, status: http.StatusInternalServerError, code: string(usecase.ErrorModelUnavailable), canRetry: false},
		{name: "provider fault", err: &usecase.Error{Code: usecase.ErrorProvider, Reason: "provider_fault"}, status: http.StatusBadGateway, code: string(usecase.ErrorProvider), canRetry: true},
		{name: "store unavailable", err: &usecase.Error{Code: usecase.ErrorStoreUnavailable, Reason: "dynamodb_error"}, status: http.StatusServiceUnavailable, code: string(usecase.ErrorStoreUnavailable), canRetry: true},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "unexpected"}, status: http.StatusInternalServerError, code: string(usecase.ErrorInternal), canRetry: true},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(usecase.ErrorInternal), canRetry: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			uc := &stubUseCase{err: tc.err}
			h, err := NewHandler(uc, nil)
			require.NoError(t, err)

			resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, `{"message":"hi"}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
			requireCORS(t, resp)

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, tc.code, out.ErrorType)
			require.Equal(t, tc.canRetry, out.CanRetry)
			require.NotEmpty(t, out.Error)
			// Raw upstream detail must never leak to the client.
			require.NotContains(t, out.Error, "boom")
		})
	}
}

func TestHandle_ErrorMessageNeverEchoesUpstreamDetail(t *testing.T) {
	uc := &stubUseCase{err: &usecase.Error{
		Code:   usecase.ErrorProvider,
		Reason: "provider_fault",
		Err:    errors.New("secret-internal-detail sk-ant-xyz"),
	}}
	h, err := NewHandler(uc, nil)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, `{"message":"hi"}`))
	require.NoError(t, err)

	out := parseBody[errorResponse](t, resp.Body)
	require.NotContains(t, out.Error, "secret-internal-detail")
	require.NotContains(t, out.Error, "sk-ant")
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	uc := &stubUseCase{out: usecase.ChatOutput{Response: "ok", ConversationID: "conv-1"}}
	h, err := NewHandler(uc, nil)
	require.NoError(t, err)

	event := makeEvent(http.MethodPost, `{"message":"hi"}`)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func TestRespond_EnvelopeIsDeterministic(t *testing.T) {
	a := respond(http.StatusOK, `{"response":"hi"}`, "corr-1")
	b := respond(http.StatusOK, `{"response":"hi"}`, "corr-1")
	require.Equal(t, a, b)
}
