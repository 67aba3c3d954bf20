package store

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type fakeDynamo struct {
	DynamoAPI

	item      map[string]types.AttributeValue
	updateErr error
	lastQuery *dynamodb.QueryInput
	lastUpd   *dynamodb.UpdateItemInput
}

func (f *fakeDynamo) GetItem(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.item}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.lastQuery = in
	if f.item == nil {
		return &dynamodb.QueryOutput{}, nil
	}
	return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{f.item}}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.lastUpd = in
	return &dynamodb.UpdateItemOutput{}, f.updateErr
}

func backupAV(t *testing.T, item BackupItem) map[string]types.AttributeValue {
	t.Helper()
	av, err := attributevalue.MarshalMap(toDynamoBackup(item))
	if err != nil {
		t.Fatalf("MarshalMap() error = %v", err)
	}
	return av
}

func TestDynamoStore_FindLatestBackupUsesCreatedIndex(t *testing.T) {
	t.Parallel()

	fake := &fakeDynamo{item: backupAV(t, BackupItem{
		UserID: "U1", BackupID: "B2", CreatedAt: 42, CompactionHolder: "C2",
		AttachmentHolders: []string{"a", "b"},
	})}
	s := NewDynamoStore(fake, "test-")

	got, err := s.FindLatestBackup(context.Background(), "U1")
	if err != nil {
		t.Fatalf("FindLatestBackup() error = %v", err)
	}
	if got.BackupID != "B2" || got.CreatedAt != 42 || len(got.AttachmentHolders) != 2 {
		t.Fatalf("FindLatestBackup() = %#v", got)
	}
	q := fake.lastQuery
	if aws.ToString(q.IndexName) != BackupCreatedIndex || aws.ToBool(q.ScanIndexForward) || aws.ToInt32(q.Limit) != 1 {
		t.Fatalf("unexpected query: index=%q forward=%v limit=%d", aws.ToString(q.IndexName), aws.ToBool(q.ScanIndexForward), aws.ToInt32(q.Limit))
	}
	if aws.ToString(q.TableName) != "test-"+BackupTableName {
		t.Fatalf("table = %q", aws.ToString(q.TableName))
	}

	fake.item = nil
	if _, err := s.FindLatestBackup(context.Background(), "U1"); !IsNotFound(err) {
		t.Fatalf("FindLatestBackup(empty) error = %v, want not found", err)
	}
}

func TestDynamoStore_SwapBackupHolders(t *testing.T) {
	t.Parallel()

	existing := BackupItem{UserID: "U1", BackupID: "B1", CompactionHolder: "C1"}

	t.Run("writes conditionally", func(t *testing.T) {
		t.Parallel()
		fake := &fakeDynamo{item: backupAV(t, existing)}
		s := NewDynamoStore(fake, "")
		if err := s.SwapBackupHolders(context.Background(), "U1", "B1", []string{"a"}, []string{"a", "b"}); err != nil {
			t.Fatalf("SwapBackupHolders() error = %v", err)
		}
		next := fake.lastUpd.ExpressionAttributeValues[":next"].(*types.AttributeValueMemberS)
		old := fake.lastUpd.ExpressionAttributeValues[":old"].(*types.AttributeValueMemberS)
		if next.Value != "a;b" || old.Value != "a" {
			t.Fatalf("values = %q / %q", next.Value, old.Value)
		}
	})

	t.Run("condition failure is a conflict", func(t *testing.T) {
		t.Parallel()
		fake := &fakeDynamo{
			item:      backupAV(t, existing),
			updateErr: &types.ConditionalCheckFailedException{Message: aws.String("failed")},
		}
		s := NewDynamoStore(fake, "")
		err := s.SwapBackupHolders(context.Background(), "U1", "B1", nil, []string{"a"})
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("SwapBackupHolders() error = %v, want conflict", err)
		}
	})

	t.Run("condition failure on missing item is not found", func(t *testing.T) {
		t.Parallel()
		fake := &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{Message: aws.String("failed")}}
		s := NewDynamoStore(fake, "")
		err := s.SwapBackupHolders(context.Background(), "U1", "B1", nil, []string{"a"})
		if !IsNotFound(err) {
			t.Fatalf("SwapBackupHolders() error = %v, want not found", err)
		}
	})
}
