package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketBackups       = []byte("backups")
	bucketBackupCreated = []byte("backups_user_created")
	bucketLogs          = []byte("logs")
)

const keySep = 0x00

// BoltStore keeps backups and logs in a single bbolt file. Records are
// CBOR encoded; a second bucket orders each user's backups by creation.
type BoltStore struct {
	db *bolt.DB
}

var _ Backend = (*BoltStore)(nil)

func NewBoltStore(db *bolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketBackups, bucketBackupCreated, bucketLogs} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) PutBackup(_ context.Context, item BackupItem) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		backups := tx.Bucket(bucketBackups)
		key := compositeKey(item.UserID, item.BackupID)
		if prev := backups.Get(key); prev != nil {
			var old BackupItem
			if err := cbor.Unmarshal(prev, &old); err != nil {
				return fmt.Errorf("decode backup: %w", err)
			}
			if err := tx.Bucket(bucketBackupCreated).Delete(createdKey(old)); err != nil {
				return err
			}
		}
		data, err := cbor.Marshal(item)
		if err != nil {
			return fmt.Errorf("encode backup: %w", err)
		}
		if err := backups.Put(key, data); err != nil {
			return err
		}
		return tx.Bucket(bucketBackupCreated).Put(createdKey(item), []byte(item.BackupID))
	})
}

func (s *BoltStore) FindBackup(_ context.Context, userID, backupID string) (BackupItem, error) {
	var item BackupItem
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		item, err = getBackup(tx, userID, backupID)
		return err
	})
	return item, err
}

func (s *BoltStore) FindLatestBackup(_ context.Context, userID string) (BackupItem, error) {
	var item BackupItem
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := append([]byte(userID), keySep)
		upper := append([]byte(userID), keySep+1)
		c := tx.Bucket(bucketBackupCreated).Cursor()
		k, v := c.Seek(upper)
		if k == nil {
			k, v = c.Last()
		} else {
			k, v = c.Prev()
		}
		if k == nil || !bytes.HasPrefix(k, prefix) {
			return notFoundLatest(userID)
		}
		var err error
		item, err = getBackup(tx, userID, string(v))
		return err
	})
	return item, err
}

func (s *BoltStore) ListBackupsCreatedBefore(_ context.Context, cutoff int64, after *BackupKey, limit int) ([]BackupItem, error) {
	var items []BackupItem
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBackups).Cursor()
		var k, v []byte
		if after == nil {
			k, v = c.First()
		} else {
			start := compositeKey(after.UserID, after.BackupID)
			k, v = c.Seek(start)
			if k != nil && bytes.Equal(k, start) {
				k, v = c.Next()
			}
		}
		for ; k != nil; k, v = c.Next() {
			var item BackupItem
			if err := cbor.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("decode backup: %w", err)
			}
			if item.CreatedAt >= cutoff {
				continue
			}
			items = append(items, item)
			if limit > 0 && len(items) >= limit {
				break
			}
		}
		return nil
	})
	return items, err
}

func (s *BoltStore) RemoveBackup(_ context.Context, userID, backupID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		item, err := getBackup(tx, userID, backupID)
		if IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketBackupCreated).Delete(createdKey(item)); err != nil {
			return err
		}
		return tx.Bucket(bucketBackups).Delete(compositeKey(userID, backupID))
	})
}

func (s *BoltStore) SwapBackupHolders(_ context.Context, userID, backupID string, old, next []string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		item, err := getBackup(tx, userID, backupID)
		if err != nil {
			return err
		}
		if !sameHolders(item.AttachmentHolders, old) {
			return ErrConflict
		}
		item.AttachmentHolders = next
		data, err := cbor.Marshal(item)
		if err != nil {
			return fmt.Errorf("encode backup: %w", err)
		}
		return tx.Bucket(bucketBackups).Put(compositeKey(userID, backupID), data)
	})
}

func (s *BoltStore) PutLog(_ context.Context, item LogItem) error {
	data, err := cbor.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode log: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLogs).Put(compositeKey(item.BackupID, item.LogID), data)
	})
}

func (s *BoltStore) FindLog(_ context.Context, backupID, logID string) (LogItem, error) {
	var item LogItem
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		item, err = getLog(tx, backupID, logID)
		return err
	})
	return item, err
}

func (s *BoltStore) FindLogsForBackup(_ context.Context, backupID string) ([]LogItem, error) {
	var items []LogItem
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := append([]byte(backupID), keySep)
		c := tx.Bucket(bucketLogs).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var item LogItem
			if err := cbor.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("decode log: %w", err)
			}
			items = append(items, item)
		}
		return nil
	})
	return items, err
}

func (s *BoltStore) RemoveLog(_ context.Context, backupID, logID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLogs).Delete(compositeKey(backupID, logID))
	})
}

func (s *BoltStore) SwapLogHolders(_ context.Context, backupID, logID string, old, next []string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		item, err := getLog(tx, backupID, logID)
		if err != nil {
			return err
		}
		if !sameHolders(item.AttachmentHolders, old) {
			return ErrConflict
		}
		item.AttachmentHolders = next
		data, err := cbor.Marshal(item)
		if err != nil {
			return fmt.Errorf("encode log: %w", err)
		}
		return tx.Bucket(bucketLogs).Put(compositeKey(backupID, logID), data)
	})
}

func (s *BoltStore) ReplaceLog(_ context.Context, old, next LogItem) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		item, err := getLog(tx, old.BackupID, old.LogID)
		if err != nil {
			return err
		}
		if item.PersistedInBlob || !sameHolders(item.AttachmentHolders, old.AttachmentHolders) {
			return ErrConflict
		}
		data, err := cbor.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode log: %w", err)
		}
		return tx.Bucket(bucketLogs).Put(compositeKey(next.BackupID, next.LogID), data)
	})
}

func getBackup(tx *bolt.Tx, userID, backupID string) (BackupItem, error) {
	data := tx.Bucket(bucketBackups).Get(compositeKey(userID, backupID))
	if data == nil {
		return BackupItem{}, notFoundBackup(userID, backupID)
	}
	var item BackupItem
	if err := cbor.Unmarshal(data, &item); err != nil {
		return BackupItem{}, fmt.Errorf("decode backup: %w", err)
	}
	return item, nil
}

func getLog(tx *bolt.Tx, backupID, logID string) (LogItem, error) {
	data := tx.Bucket(bucketLogs).Get(compositeKey(backupID, logID))
	if data == nil {
		return LogItem{}, notFoundLog(backupID, logID)
	}
	var item LogItem
	if err := cbor.Unmarshal(data, &item); err != nil {
		return LogItem{}, fmt.Errorf("decode log: %w", err)
	}
	return item, nil
}

func compositeKey(partition, sort string) []byte {
	key := make([]byte, 0, len(partition)+1+len(sort))
	key = append(key, partition...)
	key = append(key, keySep)
	return append(key, sort...)
}

// createdKey orders a user's backups by creation time, then backup id.
func createdKey(item BackupItem) []byte {
	key := make([]byte, 0, len(item.UserID)+1+8+len(item.BackupID))
	key = append(key, item.UserID...)
	key = append(key, keySep)
	key = binary.BigEndian.AppendUint64(key, uint64(item.CreatedAt))
	return append(key, item.BackupID...)
}
