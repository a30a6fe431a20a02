package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"devchat-backend/internal/domain"
)

const defaultRetention = 30 * 24 * time.Hour

// createdAtFormat is a fixed-width RFC3339 rendering. The sort key is a
// string, so every timestamp must render at the same width or lexicographic
// order diverges from chronological order (RFC3339Nano trims trailing zeros).
const createdAtFormat = "2006-01-02T15:04:05.000000000Z07:00"

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// ReadWriter defines the conversation store operations consumed by the chat
// service.
type ReadWriter interface {
	GetHistory(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error)
	SaveExchange(ctx context.Context, conversationID, userMessage, assistantMessage string) error
}

// Client wraps a DynamoDB table holding conversation turns. The table is keyed
// by conversationId (partition) and createdAt (sort); expired turns are purged
// by the table's TTL attribute, never by this client.
type Client struct {
	api       dynamodbAPI
	tableName string
	retention time.Duration
}

// New creates a new conversation store Client. A non-positive retention falls
// back to the 30-day default.
func New(api dynamodbAPI, tableName string, retention time.Duration) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Client{api: api, tableName: tableName, retention: retention}, nil
}

var now = time.Now

// GetHistory returns up to limit most recent turns for a conversation in
// chronological order. An unknown conversation id yields an empty slice.
func (c *Client) GetHistory(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("conversationId = :cid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cid": &types.AttributeValueMemberS{Value: conversationID},
		},
		// Read newest first so Limit favors the most recent context.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: GetHistory query: %w", err)
	}

	turns := make([]domain.Turn, 0, len(out.Items))
	for _, item := range out.Items {
		turn, err := itemToTurn(item)
		if err != nil {
			return nil, fmt.Errorf("repository: GetHistory unmarshal: %w", err)
		}
		turns = append(turns, turn)
	}
	// Reverse to chronological order before returning to prompt assembly.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// SaveExchange persists the user turn and the assistant turn of one completed
// exchange in a single transaction. The assistant turn's createdAt is strictly
// after the user turn's so a later GetHistory returns them in exchange order.
func (c *Client) SaveExchange(ctx context.Context, conversationID, userMessage, assistantMessage string) error {
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("repository: SaveExchange: conversation id is required")
	}

	at := now().UTC()
	userTurn := c.newTurn(conversationID, domain.RoleUser, userMessage, at)
	assistantTurn := c.newTurn(conversationID, domain.RoleAssistant, assistantMessage, at.Add(time.Millisecond))

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                turnItem(userTurn),
					ConditionExpression: aws.String("attribute_not_exists(conversationId) AND attribute_not_exists(createdAt)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                turnItem(assistantTurn),
					ConditionExpression: aws.String("attribute_not_exists(conversationId) AND attribute_not_exists(createdAt)"),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveExchange: %w", err)
	}
	return nil
}

// newTurn constructs an immutable Turn with its expiry derived from the
// configured retention window.
func (c *Client) newTurn(conversationID, role, content string, at time.Time) domain.Turn {
	return domain.Turn{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      at,
		ExpiresAt:      at.Add(c.retention),
	}
}

func turnItem(turn domain.Turn) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"conversationId": &types.AttributeValueMemberS{Value: turn.ConversationID},
		"createdAt":      &types.AttributeValueMemberS{Value: turn.CreatedAt.UTC().Format(createdAtFormat)},
		"role":           &types.AttributeValueMemberS{Value: turn.Role},
		"content":        &types.AttributeValueMemberS{Value: turn.Content},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(turn.ExpiresAt.Unix(), 10)},
	}
}

// itemToTurn converts a DynamoDB attribute map to a Turn.
func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	conversationID, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.Turn{}, err
	}
	createdAtRaw, err := strAttr(item, "createdAt")
	if err != nil {
		return domain.Turn{}, err
	}
	createdAt, err := time.Parse(time.RFC3339Nano, createdAtRaw)
	if err != nil {
		return domain.Turn{}, fmt.Errorf("repository: parse createdAt: %w", err)
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Turn{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.Turn{}, err
	}

	turn := domain.Turn{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      createdAt,
	}
	if ttl, err := intAttr(item, "ttl"); err == nil {
		turn.ExpiresAt = time.Unix(ttl, 0).UTC()
	}
	return turn, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
