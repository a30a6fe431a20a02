// Package anthropic implements the direct API-key-authenticated model provider
// against the Anthropic Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"devchat-backend/internal/domain"
	"devchat-backend/internal/llm"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
	maxTokens      = 2048
)

// messagesRequest is the minimal request shape for the Messages endpoint.
type messagesRequest struct {
	Model     string               `json:"model"`
	MaxTokens int                  `json:"max_tokens"`
	System    string               `json:"system,omitempty"`
	Messages  []domain.ChatMessage `json:"messages"`
}

// messagesResponse is the minimal response shape returned by the Messages endpoint.
type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// errorResponse is the error body shape the API returns on non-2xx statuses.
type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// tokenPayload is the expected JSON shape stored in SSM for the API key.
type tokenPayload struct {
	Token string `json:"token"`
}

// Getter fetches a named parameter from the secret/config source.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client is a focused Anthropic Messages API client.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string
	model       string

	keyOnce sync.Once
	apiKey  string
	keyErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client backed by the given Getter for API key retrieval.
// The key is fetched on the first call to Complete and reused for the lifetime
// of the process.
func NewClient(ps Getter, paramPrefix, model string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("anthropic: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("anthropic: parameter prefix must not be empty")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("anthropic: model must not be empty")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
		model:       model,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// resolveAPIKey fetches the API key from the parameter store on the first call
// and returns the cached result on every subsequent call within the same
// process lifetime.
func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyOnce.Do(func() {
		c.apiKey, c.keyErr = fetchAPIKey(ctx, c.getter, c.paramPrefix+"/anthropic-api-key")
	})
	return c.apiKey, c.keyErr
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func messagesURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return base + "/v1/messages"
}

// Complete sends the prompt to the Messages API and returns the assistant
// text. Failures are reported as classified *llm.Error values.
func (c *Client) Complete(ctx context.Context, system string, messages []domain.ChatMessage) (llm.Completion, error) {
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return llm.Completion{}, llm.NewError(llm.KindAuthentication, err)
	}

	body, err := json.Marshal(messagesRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  messages,
	})
	if err != nil {
		return llm.Completion{}, llm.NewError(llm.KindProviderFault, fmt.Errorf("anthropic: marshal request: %w", err))
	}

	url := messagesURL(c.baseURL)
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return llm.Completion{}, llm.NewError(llm.KindProviderFault, fmt.Errorf("anthropic: create request: %w", reqErr))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		// Network failures and context deadline expiry both land here.
		return llm.Completion{}, llm.NewError(llm.KindProviderFault, fmt.Errorf("anthropic: request failed: %w", doErr))
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return llm.Completion{}, classifyStatus(res.StatusCode, buf, url)
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return llm.Completion{}, llm.NewError(llm.KindProviderFault, fmt.Errorf("anthropic: read response body: %w", err))
	}

	var payload messagesResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return llm.Completion{}, llm.NewError(llm.KindProviderFault, fmt.Errorf("anthropic: decode response: %w", decErr))
	}
	text := ""
	for _, block := range payload.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return llm.Completion{}, llm.NewError(llm.KindProviderFault, errors.New("anthropic: no text content in response"))
	}

	return llm.Completion{
		Text:         text,
		InputTokens:  payload.Usage.InputTokens,
		OutputTokens: payload.Usage.OutputTokens,
	}, nil
}

// classifyStatus maps a non-2xx Messages API response onto the failure
// taxonomy. The raw body is preserved in the wrapped error for server-side
// logging only.
func classifyStatus(status int, body []byte, url string) *llm.Error {
	upstream := fmt.Errorf("anthropic: unexpected status %d from %s: %s", status, url, string(body))

	var payload errorResponse
	_ = json.Unmarshal(body, &payload)
	msg := strings.ToLower(payload.Error.Message)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return llm.NewError(llm.KindAuthentication, upstream)
	case status == http.StatusNotFound:
		// The Messages API reports an unknown model id as not_found_error.
		return llm.NewError(llm.KindModelUnavailable, upstream)
	case status == http.StatusTooManyRequests:
		return llm.NewError(llm.KindRateLimited, upstream)
	case status == http.StatusBadRequest && strings.Contains(msg, "credit balance"):
		return llm.NewError(llm.KindQuotaExhausted, upstream)
	default:
		return llm.NewError(llm.KindProviderFault, upstream)
	}
}

func fetchAPIKey(ctx context.Context, getter Getter, name string) (string, error) {
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("anthropic: fetch API key from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("anthropic: unmarshal paramstore key value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", errors.New("anthropic: API key is empty")
	}
	return tp.Token, nil
}
