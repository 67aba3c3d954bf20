package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	BackupTableName      = "backup-service-backup"
	LogTableName         = "backup-service-log"
	BackupCreatedIndex   = "userID-created-index"
	dynamoScanPageLimit  = 100
	dynamoEmptyCondition = "attribute_not_exists(attachmentHolders) OR attachmentHolders = :empty"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

type dynamoBackup struct {
	UserID            string `dynamodbav:"userID"`
	BackupID          string `dynamodbav:"backupID"`
	Created           int64  `dynamodbav:"created"`
	RecoveryData      []byte `dynamodbav:"recoveryData,omitempty"`
	CompactionHolder  string `dynamodbav:"compactionHolder"`
	AttachmentHolders string `dynamodbav:"attachmentHolders,omitempty"`
}

type dynamoLog struct {
	BackupID          string `dynamodbav:"backupID"`
	LogID             string `dynamodbav:"logID"`
	PersistedInBlob   bool   `dynamodbav:"persistedInBlob"`
	Value             []byte `dynamodbav:"value,omitempty"`
	DataHash          string `dynamodbav:"dataHash,omitempty"`
	AttachmentHolders string `dynamodbav:"attachmentHolders,omitempty"`
}

// DynamoStore keeps backups and logs in two DynamoDB tables. The backup
// table carries a global secondary index on (userID, created).
type DynamoStore struct {
	client      DynamoAPI
	backupTable string
	logTable    string
}

var _ Backend = (*DynamoStore)(nil)

// NewDynamoStore uses the default table names prefixed with tablePrefix.
func NewDynamoStore(client DynamoAPI, tablePrefix string) *DynamoStore {
	return &DynamoStore{
		client:      client,
		backupTable: tablePrefix + BackupTableName,
		logTable:    tablePrefix + LogTableName,
	}
}

func (s *DynamoStore) Close() error { return nil }

func (s *DynamoStore) PutBackup(ctx context.Context, item BackupItem) error {
	av, err := attributevalue.MarshalMap(toDynamoBackup(item))
	if err != nil {
		return fmt.Errorf("marshal backup: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.backupTable), Item: av})
	if err != nil {
		return fmt.Errorf("put backup: %w", err)
	}
	return nil
}

func (s *DynamoStore) FindBackup(ctx context.Context, userID, backupID string) (BackupItem, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.backupTable),
		Key:       backupKey(userID, backupID),
	})
	if err != nil {
		return BackupItem{}, fmt.Errorf("get backup: %w", err)
	}
	if resp.Item == nil {
		return BackupItem{}, notFoundBackup(userID, backupID)
	}
	return decodeBackup(resp.Item)
}

func (s *DynamoStore) FindLatestBackup(ctx context.Context, userID string) (BackupItem, error) {
	resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.backupTable),
		IndexName:                 aws.String(BackupCreatedIndex),
		KeyConditionExpression:    aws.String("userID = :u"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":u": &types.AttributeValueMemberS{Value: userID}},
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return BackupItem{}, fmt.Errorf("query latest backup: %w", err)
	}
	if len(resp.Items) == 0 {
		return BackupItem{}, notFoundLatest(userID)
	}
	return decodeBackup(resp.Items[0])
}

func (s *DynamoStore) ListBackupsCreatedBefore(ctx context.Context, cutoff int64, after *BackupKey, limit int) ([]BackupItem, error) {
	if limit <= 0 {
		limit = dynamoScanPageLimit
	}
	var startKey map[string]types.AttributeValue
	if after != nil {
		startKey = backupKey(after.UserID, after.BackupID)
	}

	var items []BackupItem
	for {
		resp, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(s.backupTable),
			FilterExpression:          aws.String("created < :cutoff"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":cutoff": &types.AttributeValueMemberN{Value: strconv.FormatInt(cutoff, 10)}},
			ExclusiveStartKey:         startKey,
			Limit:                     aws.Int32(dynamoScanPageLimit),
		})
		if err != nil {
			return nil, fmt.Errorf("scan backups: %w", err)
		}
		for _, av := range resp.Items {
			item, err := decodeBackup(av)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
			if len(items) >= limit {
				return items, nil
			}
		}
		if len(resp.LastEvaluatedKey) == 0 {
			return items, nil
		}
		startKey = resp.LastEvaluatedKey
	}
}

func (s *DynamoStore) RemoveBackup(ctx context.Context, userID, backupID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.backupTable),
		Key:       backupKey(userID, backupID),
	})
	if err != nil {
		return fmt.Errorf("delete backup: %w", err)
	}
	return nil
}

func (s *DynamoStore) SwapBackupHolders(ctx context.Context, userID, backupID string, old, next []string) error {
	in := holdersUpdate(s.backupTable, backupKey(userID, backupID), "userID", old, next)
	_, err := s.client.UpdateItem(ctx, in)
	if isConditionFailed(err) {
		if _, ferr := s.FindBackup(ctx, userID, backupID); ferr != nil {
			return ferr
		}
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("update backup holders: %w", err)
	}
	return nil
}

func (s *DynamoStore) PutLog(ctx context.Context, item LogItem) error {
	av, err := attributevalue.MarshalMap(toDynamoLog(item))
	if err != nil {
		return fmt.Errorf("marshal log: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.logTable), Item: av})
	if err != nil {
		return fmt.Errorf("put log: %w", err)
	}
	return nil
}

func (s *DynamoStore) FindLog(ctx context.Context, backupID, logID string) (LogItem, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.logTable),
		Key:       logKey(backupID, logID),
	})
	if err != nil {
		return LogItem{}, fmt.Errorf("get log: %w", err)
	}
	if resp.Item == nil {
		return LogItem{}, notFoundLog(backupID, logID)
	}
	return decodeLog(resp.Item)
}

func (s *DynamoStore) FindLogsForBackup(ctx context.Context, backupID string) ([]LogItem, error) {
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                 aws.String(s.logTable),
		KeyConditionExpression:    aws.String("backupID = :b"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":b": &types.AttributeValueMemberS{Value: backupID}},
		ScanIndexForward:          aws.Bool(true),
	})
	var items []LogItem
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query logs: %w", err)
		}
		for _, av := range page.Items {
			item, err := decodeLog(av)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
	}
	return items, nil
}

func (s *DynamoStore) RemoveLog(ctx context.Context, backupID, logID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.logTable),
		Key:       logKey(backupID, logID),
	})
	if err != nil {
		return fmt.Errorf("delete log: %w", err)
	}
	return nil
}

func (s *DynamoStore) SwapLogHolders(ctx context.Context, backupID, logID string, old, next []string) error {
	in := holdersUpdate(s.logTable, logKey(backupID, logID), "logID", old, next)
	_, err := s.client.UpdateItem(ctx, in)
	if isConditionFailed(err) {
		if _, ferr := s.FindLog(ctx, backupID, logID); ferr != nil {
			return ferr
		}
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("update log holders: %w", err)
	}
	return nil
}

func (s *DynamoStore) ReplaceLog(ctx context.Context, old, next LogItem) error {
	av, err := attributevalue.MarshalMap(toDynamoLog(next))
	if err != nil {
		return fmt.Errorf("marshal log: %w", err)
	}
	cond, values := holdersCondition(old.AttachmentHolders)
	values[":false"] = &types.AttributeValueMemberBOOL{Value: false}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.logTable),
		Item:                      av,
		ConditionExpression:       aws.String("attribute_exists(logID) AND persistedInBlob = :false AND (" + cond + ")"),
		ExpressionAttributeValues: values,
	})
	if isConditionFailed(err) {
		if _, ferr := s.FindLog(ctx, old.BackupID, old.LogID); ferr != nil {
			return ferr
		}
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("replace log: %w", err)
	}
	return nil
}

func holdersUpdate(table string, key map[string]types.AttributeValue, sortAttr string, old, next []string) *dynamodb.UpdateItemInput {
	cond, values := holdersCondition(old)
	values[":next"] = &types.AttributeValueMemberS{Value: JoinHolders(next)}
	return &dynamodb.UpdateItemInput{
		TableName:                 aws.String(table),
		Key:                       key,
		UpdateExpression:          aws.String("SET attachmentHolders = :next"),
		ConditionExpression:       aws.String("attribute_exists(" + sortAttr + ") AND (" + cond + ")"),
		ExpressionAttributeValues: values,
	}
}

// holdersCondition matches the stored holder list against old. An empty
// list may be stored as a missing attribute.
func holdersCondition(old []string) (string, map[string]types.AttributeValue) {
	if len(old) == 0 {
		return dynamoEmptyCondition, map[string]types.AttributeValue{
			":empty": &types.AttributeValueMemberS{Value: ""},
		}
	}
	return "attachmentHolders = :old", map[string]types.AttributeValue{
		":old": &types.AttributeValueMemberS{Value: JoinHolders(old)},
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func backupKey(userID, backupID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"userID":   &types.AttributeValueMemberS{Value: userID},
		"backupID": &types.AttributeValueMemberS{Value: backupID},
	}
}

func logKey(backupID, logID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"backupID": &types.AttributeValueMemberS{Value: backupID},
		"logID":    &types.AttributeValueMemberS{Value: logID},
	}
}

func toDynamoBackup(item BackupItem) dynamoBackup {
	return dynamoBackup{
		UserID:            item.UserID,
		BackupID:          item.BackupID,
		Created:           item.CreatedAt,
		RecoveryData:      item.RecoveryData,
		CompactionHolder:  item.CompactionHolder,
		AttachmentHolders: JoinHolders(item.AttachmentHolders),
	}
}

func decodeBackup(av map[string]types.AttributeValue) (BackupItem, error) {
	var rec dynamoBackup
	if err := attributevalue.UnmarshalMap(av, &rec); err != nil {
		return BackupItem{}, fmt.Errorf("unmarshal backup: %w", err)
	}
	return BackupItem{
		UserID:            rec.UserID,
		BackupID:          rec.BackupID,
		CreatedAt:         rec.Created,
		RecoveryData:      rec.RecoveryData,
		CompactionHolder:  rec.CompactionHolder,
		AttachmentHolders: SplitHolders(rec.AttachmentHolders),
	}, nil
}

func toDynamoLog(item LogItem) dynamoLog {
	return dynamoLog{
		BackupID:          item.BackupID,
		LogID:             item.LogID,
		PersistedInBlob:   item.PersistedInBlob,
		Value:             item.Value,
		DataHash:          item.DataHash,
		AttachmentHolders: JoinHolders(item.AttachmentHolders),
	}
}

func decodeLog(av map[string]types.AttributeValue) (LogItem, error) {
	var rec dynamoLog
	if err := attributevalue.UnmarshalMap(av, &rec); err != nil {
		return LogItem{}, fmt.Errorf("unmarshal log: %w", err)
	}
	return LogItem{
		BackupID:          rec.BackupID,
		LogID:             rec.LogID,
		PersistedInBlob:   rec.PersistedInBlob,
		Value:             rec.Value,
		DataHash:          rec.DataHash,
		AttachmentHolders: SplitHolders(rec.AttachmentHolders),
	}, nil
}
