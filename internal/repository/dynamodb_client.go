package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"chat-agent/internal/domain"
)

const (
	skState     = "STATE#"
	ttlDuration = 30 * 24 * time.Hour // 30-day TTL
)

// ErrConflict is returned by PutState when the stored version no longer
// matches the version the caller read.
var ErrConflict = errors.New("repository: conversation state was modified concurrently")

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Client wraps a DynamoDB table holding one state item per conversation.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// convPK returns the DynamoDB partition key for a conversation.
func convPK(id domain.ConversationID) string {
	return "CONV#" + string(id)
}

func (c *Client) key(id domain.ConversationID) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: convPK(id)},
		"SK": &types.AttributeValueMemberS{Value: skState},
	}
}

// GetState reads the state item of a conversation. found is false when no
// item exists yet.
func (c *Client) GetState(ctx context.Context, id domain.ConversationID) (state domain.ConversationState, found bool, err error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.ConversationState{}, false, fmt.Errorf("repository: GetState get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.ConversationState{ConversationID: id}, false, nil
	}

	state, err = itemToState(out.Item)
	if err != nil {
		return domain.ConversationState{}, false, fmt.Errorf("repository: GetState decode: %w", err)
	}
	state.ConversationID = id
	return state, true, nil
}

// PutState writes the whole state item. The write only succeeds when the
// stored version still equals state.Version (or the item has no version yet
// when it is 0); otherwise ErrConflict is returned. On success the new version
// is returned.
func (c *Client) PutState(ctx context.Context, state domain.ConversationState) (int64, error) {
	if strings.TrimSpace(string(state.ConversationID)) == "" {
		return 0, errors.New("repository: PutState: conversation id is required")
	}

	next := state
	next.Version = state.Version + 1
	next.UpdatedAt = c.now().UTC().Format(time.RFC3339)
	next.TTL = c.now().Add(ttlDuration).Unix()

	item, err := stateItem(next)
	if err != nil {
		return 0, fmt.Errorf("repository: PutState encode: %w", err)
	}

	in := &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	}
	if state.Version == 0 {
		in.ConditionExpression = aws.String("attribute_not_exists(version)")
	} else {
		in.ConditionExpression = aws.String("version = :v")
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberN{Value: strconv.FormatInt(state.Version, 10)},
		}
	}

	if _, err := c.api.PutItem(ctx, in); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("repository: PutState: %w", err)
	}
	return next.Version, nil
}

func stateItem(s domain.ConversationState) (map[string]types.AttributeValue, error) {
	msgs := s.Messages
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	raw, err := json.Marshal(msgs)
	if err != nil {
		return nil, err
	}

	item := map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(s.ConversationID)},
		"SK":             &types.AttributeValueMemberS{Value: skState},
		"conversationId": &types.AttributeValueMemberS{Value: string(s.ConversationID)},
		"messages":       &types.AttributeValueMemberS{Value: string(raw)},
		"learningMode":   &types.AttributeValueMemberBOOL{Value: s.Config.LearningMode},
		"version":        &types.AttributeValueMemberN{Value: strconv.FormatInt(s.Version, 10)},
		"updatedAt":      &types.AttributeValueMemberS{Value: s.UpdatedAt},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(s.TTL, 10)},
	}
	if s.Config.FromLanguage != "" {
		item["fromLanguage"] = &types.AttributeValueMemberS{Value: s.Config.FromLanguage}
	}
	if s.Config.ToLanguage != "" {
		item["toLanguage"] = &types.AttributeValueMemberS{Value: s.Config.ToLanguage}
	}
	if len(s.Config.Languages) > 0 {
		langs := make([]types.AttributeValue, 0, len(s.Config.Languages))
		for _, l := range s.Config.Languages {
			langs = append(langs, &types.AttributeValueMemberS{Value: l})
		}
		item["languages"] = &types.AttributeValueMemberL{Value: langs}
	}
	return item, nil
}

// itemToState converts a DynamoDB attribute map to a ConversationState.
// Every attribute is optional: items written before versioning carry no
// version, and older items may lack messages or the combined languages list.
func itemToState(item map[string]types.AttributeValue) (domain.ConversationState, error) {
	var state domain.ConversationState
	var err error
	if _, ok := item["version"]; ok {
		if state.Version, err = intAttr(item, "version"); err != nil {
			return domain.ConversationState{}, err
		}
	}

	if raw, ok, err := optStrAttr(item, "messages"); err != nil {
		return domain.ConversationState{}, err
	} else if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &state.Messages); err != nil {
			return domain.ConversationState{}, fmt.Errorf("repository: attribute %q: %w", "messages", err)
		}
	}

	if state.Config.FromLanguage, _, err = optStrAttr(item, "fromLanguage"); err != nil {
		return domain.ConversationState{}, err
	}
	if state.Config.ToLanguage, _, err = optStrAttr(item, "toLanguage"); err != nil {
		return domain.ConversationState{}, err
	}
	if v, ok := item["learningMode"]; ok {
		b, ok := v.(*types.AttributeValueMemberBOOL)
		if !ok {
			return domain.ConversationState{}, fmt.Errorf("repository: attribute %q is not a bool", "learningMode")
		}
		state.Config.LearningMode = b.Value
	}
	if v, ok := item["languages"]; ok {
		l, ok := v.(*types.AttributeValueMemberL)
		if !ok {
			return domain.ConversationState{}, fmt.Errorf("repository: attribute %q is not a list", "languages")
		}
		for _, e := range l.Value {
			s, ok := e.(*types.AttributeValueMemberS)
			if !ok {
				return domain.ConversationState{}, fmt.Errorf("repository: attribute %q holds a non-string", "languages")
			}
			state.Config.Languages = append(state.Config.Languages, s.Value)
		}
	}
	state.UpdatedAt, _, _ = optStrAttr(item, "updatedAt")
	return state, nil
}

func optStrAttr(item map[string]types.AttributeValue, key string) (string, bool, error) {
	v, ok := item[key]
	if !ok {
		return "", false, nil
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", false, fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, true, nil
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
