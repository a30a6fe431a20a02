package usecase

import (
	"strings"

	"devchat-backend/internal/domain"
)

const systemPrompt = `You are an expert AWS developer assistant. Help users with:
- Writing AWS Lambda functions (Python, Node.js)
- Creating SAM and CloudFormation templates
- AWS SDK code (boto3, AWS SDK for JavaScript)
- Deployment troubleshooting
- Cost optimization
- Best practices for AWS services

Provide complete, working code examples. Be concise but thorough.`

// buildPromptMessages combines the loaded history with the new user message
// into the provider message sequence. Pure function: same history and message
// always produce the same prompt. The history bound is applied by the loader,
// never here.
//
// The Messages API rejects a sequence that starts with an assistant role or
// contains consecutive same-role entries, both of which stored history can
// produce (an odd depth window starts mid-exchange; blank turns are dropped).
// A leading assistant turn is discarded and same-role neighbors are folded
// into one message.
func buildPromptMessages(history []domain.Turn, message string) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(history)+1)
	for _, turn := range history {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		if len(messages) == 0 && turn.Role != domain.RoleUser {
			continue
		}
		if last := len(messages) - 1; last >= 0 && messages[last].Role == turn.Role {
			messages[last].Content += "\n\n" + content
			continue
		}
		messages = append(messages, domain.ChatMessage{Role: turn.Role, Content: content})
	}
	if last := len(messages) - 1; last >= 0 && messages[last].Role == domain.RoleUser {
		messages[last].Content += "\n\n" + message
		return messages
	}
	return append(messages, domain.ChatMessage{
		Role:    domain.RoleUser,
		Content: message,
	})
}
