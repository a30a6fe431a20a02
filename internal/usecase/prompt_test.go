package usecase

import (
	"testing"

	"github.com/stretchr/testify/require"

	"devchat-backend/internal/domain"
)

func TestBuildPromptMessages_Deterministic(t *testing.T) {
	history := []domain.Turn{
		{Role: domain.RoleUser, Content: "q1"},
		{Role: domain.RoleAssistant, Content: "a1"},
	}
	first := buildPromptMessages(history, "q2")
	second := buildPromptMessages(history, "q2")
	require.Equal(t, first, second)
}

func TestBuildPromptMessages_AppendsUserMessageLast(t *testing.T) {
	history := []domain.Turn{
		{Role: domain.RoleUser, Content: "q1"},
		{Role: domain.RoleAssistant, Content: "a1"},
	}
	msgs := buildPromptMessages(history, "q2")
	require.Equal(t, []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "q1"},
		{Role: domain.RoleAssistant, Content: "a1"},
		{Role: domain.RoleUser, Content: "q2"},
	}, msgs)
}

func TestBuildPromptMessages_EmptyHistory(t *testing.T) {
	msgs := buildPromptMessages(nil, "q1")
	require.Equal(t, []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "q1"},
	}, msgs)
}

func TestBuildPromptMessages_FoldsAdjacentUserTurnsAroundBlanks(t *testing.T) {
	// Dropping the blank assistant turn leaves consecutive user entries,
	// which the Messages API rejects; they must fold into one message.
	history := []domain.Turn{
		{Role: domain.RoleUser, Content: "q1"},
		{Role: domain.RoleAssistant, Content: "   "},
		{Role: domain.RoleUser, Content: "q2"},
	}
	msgs := buildPromptMessages(history, "q3")
	require.Equal(t, []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "q1\n\nq2\n\nq3"},
	}, msgs)
}

func TestBuildPromptMessages_DropsLeadingAssistantTurn(t *testing.T) {
	// An odd history-depth window can start mid-exchange with an assistant
	// turn; the sequence sent to the provider must begin with a user turn.
	history := []domain.Turn{
		{Role: domain.RoleAssistant, Content: "a1"},
		{Role: domain.RoleUser, Content: "q2"},
		{Role: domain.RoleAssistant, Content: "a2"},
	}
	msgs := buildPromptMessages(history, "q3")
	require.Equal(t, []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "q2"},
		{Role: domain.RoleAssistant, Content: "a2"},
		{Role: domain.RoleUser, Content: "q3"},
	}, msgs)
}

func TestBuildPromptMessages_NeverProducesSameRoleNeighbors(t *testing.T) {
	history := []domain.Turn{
		{Role: domain.RoleAssistant, Content: "a0"},
		{Role: domain.RoleUser, Content: "q1"},
		{Role: domain.RoleUser, Content: "q1-retry"},
		{Role: domain.RoleAssistant, Content: "a1"},
		{Role: domain.RoleAssistant, Content: "a1-continued"},
		{Role: domain.RoleUser, Content: "q2"},
	}
	msgs := buildPromptMessages(history, "q3")
	require.Equal(t, domain.RoleUser, msgs[0].Role)
	for i := 1; i < len(msgs); i++ {
		require.NotEqual(t, msgs[i-1].Role, msgs[i].Role)
	}
	require.Equal(t, domain.RoleUser, msgs[len(msgs)-1].Role)
	require.Contains(t, msgs[len(msgs)-1].Content, "q3")
}
