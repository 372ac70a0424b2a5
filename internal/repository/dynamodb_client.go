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

	"receipt-agent/internal/domain"
)

const (
	skPrefixCapture = "CAPTURE#"
	skMeta          = "META#"
	ttlDuration     = 90 * 24 * time.Hour // 90-day TTL
	defaultLimit    = 20
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Journal defines the capture journal operations consumed by the drivers.
type Journal interface {
	SaveCapture(ctx context.Context, rec domain.CaptureRecord) error
	ListCaptures(ctx context.Context, subjectID string, limit int) ([]domain.CaptureRecord, error)
	GetSummary(ctx context.Context, subjectID string) (domain.CaptureSummary, error)
}

var _ Journal = (*Client)(nil)

// Client wraps a DynamoDB table holding the capture journal.
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

// subjectPK returns the DynamoDB partition key for a subject.
func subjectPK(subjectID string) string {
	return "SUBJECT#" + subjectID
}

// captureSK returns the sort key for a capture taken at ts.
func captureSK(ts time.Time) string {
	return skPrefixCapture + ts.UTC().Format(time.RFC3339Nano)
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// SaveCapture writes the capture entry and bumps the subject summary in one
// transaction.
func (c *Client) SaveCapture(ctx context.Context, rec domain.CaptureRecord) error {
	if strings.TrimSpace(rec.SubjectID) == "" || strings.TrimSpace(rec.ChatID) == "" {
		return errors.New("repository: SaveCapture: subject and chat id are required")
	}
	if rec.CapturedAt.IsZero() {
		rec.CapturedAt = c.now().UTC()
	}
	ttl := c.ttlValue()

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                captureItem(rec, ttl),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Update: &types.Update{
					TableName: aws.String(c.tableName),
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: subjectPK(rec.SubjectID)},
						"SK": &types.AttributeValueMemberS{Value: skMeta},
					},
					UpdateExpression: aws.String("SET lastCapturedAt = :at, lastChatId = :chat, #ttl = :ttl ADD captures :one"),
					ExpressionAttributeNames: map[string]string{
						"#ttl": "ttl",
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":at":   &types.AttributeValueMemberS{Value: rec.CapturedAt.UTC().Format(time.RFC3339Nano)},
						":chat": &types.AttributeValueMemberS{Value: rec.ChatID},
						":ttl":  &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
						":one":  &types.AttributeValueMemberN{Value: "1"},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveCapture: %w", err)
	}
	return nil
}

// ListCaptures returns the subject's most recent captures, newest first.
func (c *Client) ListCaptures(ctx context.Context, subjectID string, limit int) ([]domain.CaptureRecord, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: subjectPK(subjectID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixCapture},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListCaptures query: %w", err)
	}

	recs := make([]domain.CaptureRecord, 0, len(out.Items))
	for _, item := range out.Items {
		rec, err := itemToCapture(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListCaptures unmarshal: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// GetSummary returns the subject's capture count and latest capture. A
// subject with no captures yields a zero summary.
func (c *Client) GetSummary(ctx context.Context, subjectID string) (domain.CaptureSummary, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: subjectPK(subjectID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.CaptureSummary{}, fmt.Errorf("repository: GetSummary get item: %w", err)
	}
	summary := domain.CaptureSummary{SubjectID: subjectID}
	if out == nil || len(out.Item) == 0 {
		return summary, nil
	}

	if summary.Captures, err = intAttr(out.Item, "captures"); err != nil {
		return domain.CaptureSummary{}, fmt.Errorf("repository: GetSummary decode captures: %w", err)
	}
	summary.LastChatID, _ = strAttr(out.Item, "lastChatId")
	if at, err := strAttr(out.Item, "lastCapturedAt"); err == nil {
		summary.LastCapturedAt, _ = time.Parse(time.RFC3339Nano, at)
	}
	return summary, nil
}

func captureItem(rec domain.CaptureRecord, ttl int64) map[string]types.AttributeValue {
	actions := make([]types.AttributeValue, 0, len(rec.Actions))
	for _, a := range rec.Actions {
		actions = append(actions, &types.AttributeValueMemberS{Value: a})
	}
	return map[string]types.AttributeValue{
		"PK":              &types.AttributeValueMemberS{Value: subjectPK(rec.SubjectID)},
		"SK":              &types.AttributeValueMemberS{Value: captureSK(rec.CapturedAt)},
		"subjectId":       &types.AttributeValueMemberS{Value: rec.SubjectID},
		"chatId":          &types.AttributeValueMemberS{Value: rec.ChatID},
		"primaryRecordId": &types.AttributeValueMemberS{Value: rec.PrimaryRecordID},
		"created":         &types.AttributeValueMemberN{Value: strconv.Itoa(rec.Created)},
		"updated":         &types.AttributeValueMemberN{Value: strconv.Itoa(rec.Updated)},
		"actions":         &types.AttributeValueMemberL{Value: actions},
		"metadataMissing": &types.AttributeValueMemberBOOL{Value: rec.MetadataMissing},
		"extracted":       &types.AttributeValueMemberS{Value: rec.ExtractedJSON},
		"ttl":             &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}
}

// itemToCapture converts a DynamoDB attribute map to a CaptureRecord.
func itemToCapture(item map[string]types.AttributeValue) (domain.CaptureRecord, error) {
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.CaptureRecord{}, err
	}
	capturedAt, err := time.Parse(time.RFC3339Nano, strings.TrimPrefix(sk, skPrefixCapture))
	if err != nil {
		return domain.CaptureRecord{}, fmt.Errorf("repository: parse capture time: %w", err)
	}
	subjectID, err := strAttr(item, "subjectId")
	if err != nil {
		return domain.CaptureRecord{}, err
	}
	chatID, err := strAttr(item, "chatId")
	if err != nil {
		return domain.CaptureRecord{}, err
	}
	primary, _ := strAttr(item, "primaryRecordId") // allow empty
	extracted, _ := strAttr(item, "extracted")
	created, _ := intAttr(item, "created")
	updated, _ := intAttr(item, "updated")

	rec := domain.CaptureRecord{
		SubjectID:       subjectID,
		ChatID:          chatID,
		CapturedAt:      capturedAt,
		PrimaryRecordID: primary,
		Created:         created,
		Updated:         updated,
		ExtractedJSON:   extracted,
	}
	if v, ok := item["metadataMissing"].(*types.AttributeValueMemberBOOL); ok {
		rec.MetadataMissing = v.Value
	}
	if l, ok := item["actions"].(*types.AttributeValueMemberL); ok {
		for _, v := range l.Value {
			if s, ok := v.(*types.AttributeValueMemberS); ok {
				rec.Actions = append(rec.Actions, s.Value)
			}
		}
	}
	return rec, nil
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

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
