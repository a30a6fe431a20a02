// Package bedrock implements the IAM-authenticated model provider via the
// Amazon Bedrock runtime. No explicit credential is handled here; access is
// granted (or denied) by the execution role.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"

	"devchat-backend/internal/domain"
	"devchat-backend/internal/llm"
)

const (
	anthropicVersion = "bedrock-2023-05-31"
	maxTokens        = 2048
)

// bedrockAPI is the minimal Bedrock runtime interface required by Client.
// Defined here for testability.
type bedrockAPI interface {
	InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// invokeRequest is the Anthropic-on-Bedrock request body shape.
type invokeRequest struct {
	AnthropicVersion string               `json:"anthropic_version"`
	MaxTokens        int                  `json:"max_tokens"`
	System           string               `json:"system,omitempty"`
	Messages         []domain.ChatMessage `json:"messages"`
}

// invokeResponse is the minimal response body shape.
type invokeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Client invokes an Anthropic model through the Bedrock runtime.
type Client struct {
	api     bedrockAPI
	modelID string
}

// New creates a Client for the given model id.
func New(api bedrockAPI, modelID string) (*Client, error) {
	if api == nil {
		return nil, errors.New("bedrock: api must not be nil")
	}
	if strings.TrimSpace(modelID) == "" {
		return nil, errors.New("bedrock: model id must not be empty")
	}
	return &Client{api: api, modelID: modelID}, nil
}

// Complete invokes the model and returns the assistant text. Failures are
// reported as classified *llm.Error values.
func (c *Client) Complete(ctx context.Context, system string, messages []domain.ChatMessage) (llm.Completion, error) {
	body, err := json.Marshal(invokeRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        maxTokens,
		System:           system,
		Messages:         messages,
	})
	if err != nil {
		return llm.Completion{}, llm.NewError(llm.KindProviderFault, fmt.Errorf("bedrock: marshal request: %w", err))
	}

	contentType := "application/json"
	out, err := c.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     &c.modelID,
		ContentType: &contentType,
		Accept:      &contentType,
		Body:        body,
	})
	if err != nil {
		return llm.Completion{}, classifyInvokeError(err)
	}

	var payload invokeResponse
	if decErr := json.Unmarshal(out.Body, &payload); decErr != nil {
		return llm.Completion{}, llm.NewError(llm.KindProviderFault, fmt.Errorf("bedrock: decode response: %w", decErr))
	}
	text := ""
	for _, block := range payload.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return llm.Completion{}, llm.NewError(llm.KindProviderFault, errors.New("bedrock: no text content in response"))
	}

	return llm.Completion{
		Text:         text,
		InputTokens:  payload.Usage.InputTokens,
		OutputTokens: payload.Usage.OutputTokens,
	}, nil
}

// classifyInvokeError maps SDK failures onto the failure taxonomy using the
// smithy API error code.
func classifyInvokeError(err error) *llm.Error {
	wrapped := fmt.Errorf("bedrock: invoke model: %w", err)

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		// Transport failure or context deadline expiry.
		return llm.NewError(llm.KindProviderFault, wrapped)
	}

	switch apiErr.ErrorCode() {
	case "ThrottlingException", "TooManyRequestsException":
		return llm.NewError(llm.KindRateLimited, wrapped)
	case "AccessDeniedException", "UnrecognizedClientException", "ExpiredTokenException":
		return llm.NewError(llm.KindAuthentication, wrapped)
	case "ResourceNotFoundException":
		return llm.NewError(llm.KindModelUnavailable, wrapped)
	case "ServiceQuotaExceededException":
		return llm.NewError(llm.KindQuotaExhausted, wrapped)
	case "ValidationException":
		// An unknown model id surfaces as a validation error naming the model.
		if strings.Contains(strings.ToLower(apiErr.ErrorMessage()), "model") {
			return llm.NewError(llm.KindModelUnavailable, wrapped)
		}
		return llm.NewError(llm.KindProviderFault, wrapped)
	default:
		return llm.NewError(llm.KindProviderFault, wrapped)
	}
}
