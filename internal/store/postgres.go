package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS backups (
	user_id            TEXT   NOT NULL,
	backup_id          TEXT   NOT NULL,
	created_at         BIGINT NOT NULL,
	recovery_data      BYTEA,
	compaction_holder  TEXT   NOT NULL,
	attachment_holders TEXT   NOT NULL DEFAULT '',
	PRIMARY KEY (user_id, backup_id)
);
CREATE INDEX IF NOT EXISTS backups_user_created_idx ON backups (user_id, created_at DESC);
CREATE TABLE IF NOT EXISTS logs (
	backup_id          TEXT    NOT NULL,
	log_id             TEXT    NOT NULL,
	persisted_in_blob  BOOLEAN NOT NULL DEFAULT FALSE,
	value              BYTEA,
	data_hash          TEXT    NOT NULL DEFAULT '',
	attachment_holders TEXT    NOT NULL DEFAULT '',
	PRIMARY KEY (backup_id, log_id)
);
`

// PostgresStore keeps backups and logs in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

var _ Backend = (*PostgresStore)(nil)

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the tables and the per-user creation index.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

func (s *PostgresStore) PutBackup(ctx context.Context, item BackupItem) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO backups (user_id, backup_id, created_at, recovery_data, compaction_holder, attachment_holders)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, backup_id) DO UPDATE SET
			created_at = EXCLUDED.created_at,
			recovery_data = EXCLUDED.recovery_data,
			attachment_holders = EXCLUDED.attachment_holders
	`, item.UserID, item.BackupID, item.CreatedAt, item.RecoveryData, item.CompactionHolder, JoinHolders(item.AttachmentHolders))
	return err
}

const backupColumns = `user_id, backup_id, created_at, recovery_data, compaction_holder, attachment_holders`

func (s *PostgresStore) FindBackup(ctx context.Context, userID, backupID string) (BackupItem, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+backupColumns+`
		FROM backups
		WHERE user_id = $1 AND backup_id = $2
	`, userID, backupID)
	item, err := scanBackup(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return BackupItem{}, notFoundBackup(userID, backupID)
	}
	return item, err
}

func (s *PostgresStore) FindLatestBackup(ctx context.Context, userID string) (BackupItem, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+backupColumns+`
		FROM backups
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, userID)
	item, err := scanBackup(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return BackupItem{}, notFoundLatest(userID)
	}
	return item, err
}

func (s *PostgresStore) ListBackupsCreatedBefore(ctx context.Context, cutoff int64, after *BackupKey, limit int) ([]BackupItem, error) {
	afterUser, afterBackup := "", ""
	if after != nil {
		afterUser, afterBackup = after.UserID, after.BackupID
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+backupColumns+`
		FROM backups
		WHERE created_at < $1 AND (user_id, backup_id) > ($2, $3)
		ORDER BY user_id, backup_id
		LIMIT $4
	`, cutoff, afterUser, afterBackup, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []BackupItem
	for rows.Next() {
		item, err := scanBackup(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) RemoveBackup(ctx context.Context, userID, backupID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM backups WHERE user_id = $1 AND backup_id = $2`, userID, backupID)
	return err
}

func (s *PostgresStore) SwapBackupHolders(ctx context.Context, userID, backupID string, old, next []string) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE backups SET attachment_holders = $4
		WHERE user_id = $1 AND backup_id = $2 AND attachment_holders = $3
	`, userID, backupID, JoinHolders(old), JoinHolders(next))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return s.missingOrConflict(ctx, `SELECT 1 FROM backups WHERE user_id = $1 AND backup_id = $2`, notFoundBackup(userID, backupID), userID, backupID)
	}
	return nil
}

func (s *PostgresStore) PutLog(ctx context.Context, item LogItem) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO logs (backup_id, log_id, persisted_in_blob, value, data_hash, attachment_holders)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (backup_id, log_id) DO UPDATE SET
			persisted_in_blob = EXCLUDED.persisted_in_blob,
			value = EXCLUDED.value,
			data_hash = EXCLUDED.data_hash,
			attachment_holders = EXCLUDED.attachment_holders
	`, item.BackupID, item.LogID, item.PersistedInBlob, item.Value, item.DataHash, JoinHolders(item.AttachmentHolders))
	return err
}

const logColumns = `backup_id, log_id, persisted_in_blob, value, data_hash, attachment_holders`

func (s *PostgresStore) FindLog(ctx context.Context, backupID, logID string) (LogItem, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+logColumns+`
		FROM logs
		WHERE backup_id = $1 AND log_id = $2
	`, backupID, logID)
	item, err := scanLog(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return LogItem{}, notFoundLog(backupID, logID)
	}
	return item, err
}

func (s *PostgresStore) FindLogsForBackup(ctx context.Context, backupID string) ([]LogItem, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+logColumns+`
		FROM logs
		WHERE backup_id = $1
		ORDER BY log_id
	`, backupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []LogItem
	for rows.Next() {
		item, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) RemoveLog(ctx context.Context, backupID, logID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM logs WHERE backup_id = $1 AND log_id = $2`, backupID, logID)
	return err
}

func (s *PostgresStore) SwapLogHolders(ctx context.Context, backupID, logID string, old, next []string) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE logs SET attachment_holders = $4
		WHERE backup_id = $1 AND log_id = $2 AND attachment_holders = $3
	`, backupID, logID, JoinHolders(old), JoinHolders(next))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return s.missingOrConflict(ctx, `SELECT 1 FROM logs WHERE backup_id = $1 AND log_id = $2`, notFoundLog(backupID, logID), backupID, logID)
	}
	return nil
}

func (s *PostgresStore) ReplaceLog(ctx context.Context, old, next LogItem) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE logs SET persisted_in_blob = $3, value = $4, data_hash = $5, attachment_holders = $6
		WHERE backup_id = $1 AND log_id = $2 AND persisted_in_blob = FALSE AND attachment_holders = $7
	`, old.BackupID, old.LogID, next.PersistedInBlob, next.Value, next.DataHash,
		JoinHolders(next.AttachmentHolders), JoinHolders(old.AttachmentHolders))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return s.missingOrConflict(ctx, `SELECT 1 FROM logs WHERE backup_id = $1 AND log_id = $2`, notFoundLog(old.BackupID, old.LogID), old.BackupID, old.LogID)
	}
	return nil
}

// missingOrConflict tells a missing row apart from a lost conditional update.
func (s *PostgresStore) missingOrConflict(ctx context.Context, query string, notFound error, args ...any) error {
	var one int
	err := s.db.QueryRow(ctx, query, args...).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound
	}
	if err != nil {
		return err
	}
	return ErrConflict
}

func scanBackup(row pgx.Row) (BackupItem, error) {
	var item BackupItem
	var holders string
	err := row.Scan(&item.UserID, &item.BackupID, &item.CreatedAt, &item.RecoveryData, &item.CompactionHolder, &holders)
	if err != nil {
		return BackupItem{}, err
	}
	item.AttachmentHolders = SplitHolders(holders)
	return item, nil
}

func scanLog(row pgx.Row) (LogItem, error) {
	var item LogItem
	var holders string
	err := row.Scan(&item.BackupID, &item.LogID, &item.PersistedInBlob, &item.Value, &item.DataHash, &holders)
	if err != nil {
		return LogItem{}, err
	}
	item.AttachmentHolders = SplitHolders(holders)
	return item, nil
}
