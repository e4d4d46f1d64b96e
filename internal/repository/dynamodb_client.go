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

	"cognitive-blackbox/internal/domain"
	"cognitive-blackbox/internal/session"
)

const (
	skMeta         = "META#"
	skPrefixSnap   = "SNAP#"
	ttlDuration    = 30 * 24 * time.Hour // 30-day TTL
	snapshotTTL    = 7 * 24 * time.Hour
	maxSnapshotsIn = 50
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Client stores sessions in a single DynamoDB table. The META# item holds the
// current session; SNAP#<timestamp> items hold the backup trail.
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

// sessionPK returns the DynamoDB partition key for a session.
func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// snapSK returns the sort key for a snapshot taken at ts.
func snapSK(ts time.Time) string {
	return skPrefixSnap + ts.UTC().Format(time.RFC3339Nano)
}

func (c *Client) ttlValue(d time.Duration) int64 {
	return c.now().Add(d).Unix()
}

// Load reads the current session. A missing item is session.ErrNoSession and
// an undecodable one is session.ErrCorruptSession.
func (c *Client) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: Load get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, fmt.Errorf("%w: %s", session.ErrNoSession, sessionID)
	}

	data, err := strAttr(out.Item, "data")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrCorruptSession, err)
	}
	s, err := session.Decode([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("repository: Load: %w", err)
	}
	return s, nil
}

// Save replaces the current session item.
func (c *Client) Save(ctx context.Context, s *domain.Session) error {
	if s == nil || s.ID == "" {
		return errors.New("repository: Save: session id is required")
	}
	data, err := session.Export(s)
	if err != nil {
		return fmt.Errorf("repository: Save: %w", err)
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      c.metaItem(s, data),
	})
	if err != nil {
		return fmt.Errorf("repository: Save: %w", err)
	}
	return nil
}

// WriteSnapshot appends a backup snapshot. Snapshots are never overwritten.
func (c *Client) WriteSnapshot(ctx context.Context, sessionID string, takenAt time.Time, data []byte) error {
	if sessionID == "" {
		return errors.New("repository: WriteSnapshot: session id is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			"SK":        &types.AttributeValueMemberS{Value: snapSK(takenAt)},
			"sessionId": &types.AttributeValueMemberS{Value: sessionID},
			"takenAt":   &types.AttributeValueMemberS{Value: takenAt.UTC().Format(time.RFC3339Nano)},
			"data":      &types.AttributeValueMemberS{Value: string(data)},
			"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(snapshotTTL), 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: WriteSnapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns up to limit of the newest snapshots, oldest first.
func (c *Client) ListSnapshots(ctx context.Context, sessionID string, limit int) ([]session.Snapshot, error) {
	if limit <= 0 || limit > maxSnapshotsIn {
		limit = maxSnapshotsIn
	}
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixSnap},
		},
		// Read newest first so LIMIT keeps the latest snapshots.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListSnapshots query: %w", err)
	}

	snaps := make([]session.Snapshot, 0, len(out.Items))
	for _, item := range out.Items {
		snap, err := itemToSnapshot(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListSnapshots unmarshal: %w", err)
		}
		snaps = append(snaps, snap)
	}
	for i, j := 0, len(snaps)-1; i < j; i, j = i+1, j-1 {
		snaps[i], snaps[j] = snaps[j], snaps[i]
	}
	return snaps, nil
}

func (c *Client) metaItem(s *domain.Session, data []byte) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: sessionPK(s.ID)},
		"SK":           &types.AttributeValueMemberS{Value: skMeta},
		"sessionId":    &types.AttributeValueMemberS{Value: s.ID},
		"caseId":       &types.AttributeValueMemberS{Value: s.CaseID},
		"userId":       &types.AttributeValueMemberS{Value: s.UserID},
		"stage":        &types.AttributeValueMemberN{Value: strconv.Itoa(s.CurrentStage)},
		"status":       &types.AttributeValueMemberS{Value: string(s.Status)},
		"lastActivity": &types.AttributeValueMemberS{Value: c.now().UTC().Format(time.RFC3339)},
		"data":         &types.AttributeValueMemberS{Value: string(data)},
		"ttl":          &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(ttlDuration), 10)},
	}
}

// itemToSnapshot converts a SNAP# item to a Snapshot. The stage is read
// from the embedded session.
func itemToSnapshot(item map[string]types.AttributeValue) (session.Snapshot, error) {
	sk, err := strAttr(item, "SK")
	if err != nil {
		return session.Snapshot{}, err
	}
	takenAt, err := time.Parse(time.RFC3339Nano, strings.TrimPrefix(sk, skPrefixSnap))
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("repository: parse snapshot key %q: %w", sk, err)
	}
	data, err := strAttr(item, "data")
	if err != nil {
		return session.Snapshot{}, err
	}
	snap := session.Snapshot{TakenAt: takenAt, Data: []byte(data)}
	if s, err := session.Decode(snap.Data); err == nil {
		snap.Stage = s.CurrentStage
	}
	return snap, nil
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
