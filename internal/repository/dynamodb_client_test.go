package repository

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"cognitive-blackbox/internal/domain"
	"cognitive-blackbox/internal/session"
)

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getErr       error
	putErr       error
	queryOut     *dynamodb.QueryOutput
	queryErr     error
	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
	lastQueryIn  *dynamodb.QueryInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.lastQueryIn = in
	return f.queryOut, f.queryErr
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	c.now = func() time.Time { return fixedNow }
	return c
}

func testSession() *domain.Session {
	return &domain.Session{
		ID:           "abc",
		UserID:       "u-1",
		CaseID:       "madoff",
		CurrentStage: 2,
		CurrentRole:  domain.RoleInvestor,
		TotalStages:  4,
		Status:       domain.StatusInProgress,
		Inputs:       map[string]domain.UserInput{},
		CreatedAt:    fixedNow,
		UpdatedAt:    fixedNow,
	}
}

func exportOf(t *testing.T, s *domain.Session) string {
	t.Helper()
	data, err := session.Export(s)
	require.NoError(t, err)
	return string(data)
}

func makeSnapItem(pk string, ts time.Time, data string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":   &types.AttributeValueMemberS{Value: pk},
		"SK":   &types.AttributeValueMemberS{Value: snapSK(ts)},
		"data": &types.AttributeValueMemberS{Value: data},
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "t")
	require.Error(t, err)
	_, err = New(&fakeDynamo{}, "  ")
	require.Error(t, err)
}

func TestLoad_HappyPath(t *testing.T) {
	want := testSession()
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"PK":   &types.AttributeValueMemberS{Value: "SESSION#abc"},
		"SK":   &types.AttributeValueMemberS{Value: skMeta},
		"data": &types.AttributeValueMemberS{Value: exportOf(t, want)},
	}}}
	c := mustNewClient(t, db)

	got, err := c.Load(context.Background(), "abc")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("loaded session mismatch (-want +got):\n%s", diff)
	}

	key := db.lastGetInput.Key
	require.Equal(t, "SESSION#abc", key["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, skMeta, key["SK"].(*types.AttributeValueMemberS).Value)
	require.True(t, *db.lastGetInput.ConsistentRead)
}

func TestLoad_NotFound(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{}})
	_, err := c.Load(context.Background(), "missing")
	require.ErrorIs(t, err, session.ErrNoSession)
}

func TestLoad_Corrupt(t *testing.T) {
	tests := []struct {
		name string
		item map[string]types.AttributeValue
	}{
		{name: "missing data", item: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: "SESSION#abc"},
		}},
		{name: "truncated json", item: map[string]types.AttributeValue{
			"data": &types.AttributeValueMemberS{Value: `{"id":`},
		}},
		{name: "wrong type", item: map[string]types.AttributeValue{
			"data": &types.AttributeValueMemberN{Value: "1"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: tt.item}})
			_, err := c.Load(context.Background(), "abc")
			require.ErrorIs(t, err, session.ErrCorruptSession)
		})
	}
}

func TestLoad_DynamoError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getErr: errors.New("throttled")})
	_, err := c.Load(context.Background(), "abc")
	require.ErrorContains(t, err, "throttled")
}

func TestSave_WritesMetaItem(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	s := testSession()

	require.NoError(t, c.Save(context.Background(), s))

	item := db.lastPutInput.Item
	require.Equal(t, "test-table", *db.lastPutInput.TableName)
	require.Equal(t, "SESSION#abc", item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, skMeta, item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "2", item["stage"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, "in_progress", item["status"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, exportOf(t, s), item["data"].(*types.AttributeValueMemberS).Value)
	wantTTL := strconv.FormatInt(fixedNow.Add(ttlDuration).Unix(), 10)
	require.Equal(t, wantTTL, item["ttl"].(*types.AttributeValueMemberN).Value)
}

func TestSave_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{putErr: errors.New("boom")})
	require.Error(t, c.Save(context.Background(), nil))
	require.Error(t, c.Save(context.Background(), &domain.Session{}))
	require.ErrorContains(t, c.Save(context.Background(), testSession()), "boom")
}

func TestWriteSnapshot_ConditionalPut(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	takenAt := fixedNow.Add(-time.Minute)

	require.NoError(t, c.WriteSnapshot(context.Background(), "abc", takenAt, []byte(`{"id":"abc"}`)))

	in := db.lastPutInput
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", *in.ConditionExpression)
	require.Equal(t, snapSK(takenAt), in.Item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, `{"id":"abc"}`, in.Item["data"].(*types.AttributeValueMemberS).Value)
	wantTTL := strconv.FormatInt(fixedNow.Add(snapshotTTL).Unix(), 10)
	require.Equal(t, wantTTL, in.Item["ttl"].(*types.AttributeValueMemberN).Value)

	require.Error(t, c.WriteSnapshot(context.Background(), "", takenAt, nil))
}

func TestListSnapshots_ReturnsOldestFirst(t *testing.T) {
	older := testSession()
	newer := testSession()
	newer.CurrentStage = 3
	t1 := fixedNow.Add(-2 * time.Minute)
	t2 := fixedNow.Add(-time.Minute)

	// Query reads newest first.
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
		makeSnapItem("SESSION#abc", t2, exportOf(t, newer)),
		makeSnapItem("SESSION#abc", t1, exportOf(t, older)),
	}}}
	c := mustNewClient(t, db)

	snaps, err := c.ListSnapshots(context.Background(), "abc", 10)
	require.NoError(t, err)

	want := []session.Snapshot{
		{TakenAt: t1, Stage: 2, Data: []byte(exportOf(t, older))},
		{TakenAt: t2, Stage: 3, Data: []byte(exportOf(t, newer))},
	}
	if diff := cmp.Diff(want, snaps); diff != "" {
		t.Fatalf("snapshots mismatch (-want +got):\n%s", diff)
	}
	require.False(t, *db.lastQueryIn.ScanIndexForward)
	require.Equal(t, int32(10), *db.lastQueryIn.Limit)
	require.Equal(t, skPrefixSnap, db.lastQueryIn.ExpressionAttributeValues[":prefix"].(*types.AttributeValueMemberS).Value)
}

func TestListSnapshots_ClampsLimit(t *testing.T) {
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{}}
	c := mustNewClient(t, db)
	_, err := c.ListSnapshots(context.Background(), "abc", 0)
	require.NoError(t, err)
	require.Equal(t, int32(maxSnapshotsIn), *db.lastQueryIn.Limit)
}

func TestListSnapshots_BadKey(t *testing.T) {
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{{
		"SK":   &types.AttributeValueMemberS{Value: "SNAP#not-a-time"},
		"data": &types.AttributeValueMemberS{Value: "{}"},
	}}}}
	c := mustNewClient(t, db)
	_, err := c.ListSnapshots(context.Background(), "abc", 5)
	require.ErrorContains(t, err, "parse snapshot key")
}

func TestListSnapshots_QueryError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{queryErr: errors.New("boom")})
	_, err := c.ListSnapshots(context.Background(), "abc", 5)
	require.ErrorContains(t, err, "boom")
}
