package retention

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"backupd/internal/store"
)

// Runner removes backups older than a maximum age, keeping the most recent
// backup of every user regardless of its age.
type Runner struct {
	store       BackupStore
	blobs       BlobRemover
	maxAge      time.Duration
	concurrency int
	logger      *log.Logger
	now         func() time.Time

	latest singleflight.Group
}

func NewRunner(st BackupStore, blobs BlobRemover, maxAge time.Duration, concurrency int, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Runner{
		store:       st,
		blobs:       blobs,
		maxAge:      maxAge,
		concurrency: concurrency,
		logger:      logger,
		now:         time.Now,
	}
}

func (r *Runner) Run(ctx context.Context, pageSize int) (Summary, error) {
	if r.store == nil {
		return Summary{}, fmt.Errorf("backup store is nil")
	}
	if r.blobs == nil {
		return Summary{}, fmt.Errorf("blob remover is nil")
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	cutoff := r.now().Add(-r.maxAge).UnixMilli()

	r.logger.Printf("[retention] starting run (cutoff=%d pageSize=%d)", cutoff, pageSize)

	var (
		mu      sync.Mutex
		summary Summary
		joined  error
		byUser  = map[string]*UserStats{}
		after   *store.BackupKey
	)
	record := func(userID string, apply func(*UserStats)) {
		mu.Lock()
		defer mu.Unlock()
		stats, ok := byUser[userID]
		if !ok {
			stats = &UserStats{UserID: userID}
			byUser[userID] = stats
		}
		apply(stats)
	}

	for {
		if err := ctx.Err(); err != nil {
			r.logger.Printf("[retention] context cancelled, aborting")
			return summary, err
		}
		page, err := r.store.ListBackupsCreatedBefore(ctx, cutoff, after, pageSize)
		if err != nil {
			r.logger.Printf("[retention] failed to list backups: %v", err)
			return summary, errors.Join(joined, err)
		}
		if len(page) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.concurrency)
		for _, item := range page {
			g.Go(func() error {
				latest, err := r.latestFor(gctx, item.UserID)
				if err != nil && !store.IsNotFound(err) {
					mu.Lock()
					summary.Scanned++
					summary.Failed++
					joined = errors.Join(joined, fmt.Errorf("%s: find latest: %w", item.UserID, err))
					mu.Unlock()
					record(item.UserID, func(s *UserStats) { s.Failed++ })
					return nil
				}
				if err == nil && latest.BackupID == item.BackupID {
					mu.Lock()
					summary.Scanned++
					summary.Kept++
					mu.Unlock()
					return nil
				}

				blobs, err := r.removeBackup(gctx, item)
				mu.Lock()
				summary.Scanned++
				summary.BlobsRemoved += blobs
				if err != nil {
					summary.Failed++
					joined = errors.Join(joined, fmt.Errorf("%s/%s: %w", item.UserID, item.BackupID, err))
				} else {
					summary.Removed++
				}
				mu.Unlock()
				record(item.UserID, func(s *UserStats) {
					s.BlobsRemoved += blobs
					if err != nil {
						s.Failed++
					} else {
						s.Removed++
					}
				})
				if err != nil {
					r.logger.Printf("[retention] backup %s/%s: %v", item.UserID, item.BackupID, err)
				}
				return nil
			})
		}
		_ = g.Wait()

		last := page[len(page)-1].Key()
		after = &last
		if len(page) < pageSize {
			break
		}
	}

	for _, stats := range byUser {
		summary.ByUser = append(summary.ByUser, *stats)
	}
	sort.Slice(summary.ByUser, func(i, j int) bool { return summary.ByUser[i].UserID < summary.ByUser[j].UserID })

	r.logger.Printf("[retention] run complete: scanned=%d kept=%d removed=%d blobs=%d failed=%d",
		summary.Scanned, summary.Kept, summary.Removed, summary.BlobsRemoved, summary.Failed)

	return summary, joined
}

// latestFor looks up the most recent backup of userID once per concurrent
// burst of lookups.
func (r *Runner) latestFor(ctx context.Context, userID string) (store.BackupItem, error) {
	v, err, _ := r.latest.Do(userID, func() (any, error) {
		return r.store.FindLatestBackup(ctx, userID)
	})
	if err != nil {
		return store.BackupItem{}, err
	}
	return v.(store.BackupItem), nil
}

// removeBackup drops every blob the backup references, then its records.
// Records stay when a blob removal fails so the next run retries.
func (r *Runner) removeBackup(ctx context.Context, item store.BackupItem) (int, error) {
	logs, err := r.store.FindLogsForBackup(ctx, item.BackupID)
	if err != nil {
		return 0, fmt.Errorf("find logs: %w", err)
	}

	holders := referencedHolders(item, logs)
	removed := 0
	for _, holder := range holders {
		if err := r.blobs.Remove(ctx, holder); err != nil {
			return removed, fmt.Errorf("remove blob %s: %w", holder, err)
		}
		removed++
	}
	if err := r.store.RemoveBackupWithLogs(ctx, item.UserID, item.BackupID); err != nil {
		return removed, fmt.Errorf("remove records: %w", err)
	}
	return removed, nil
}

func referencedHolders(item store.BackupItem, logs []store.LogItem) []string {
	var holders []string
	if item.CompactionHolder != "" {
		holders = append(holders, item.CompactionHolder)
	}
	holders = append(holders, item.AttachmentHolders...)
	for _, l := range logs {
		if l.PersistedInBlob {
			holders = append(holders, l.Holder())
		}
		holders = append(holders, l.AttachmentHolders...)
	}
	return holders
}
