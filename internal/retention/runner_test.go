package retention

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	"backupd/internal/store"
)

type fakeBlobs struct {
	mu      sync.Mutex
	removed []string
	failOn  map[string]bool
}

func (f *fakeBlobs) Remove(_ context.Context, holder string) error {
	if f.failOn[holder] {
		return errors.New("blob service unavailable")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, holder)
	return nil
}

func newManager(t *testing.T) *store.Manager {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "backup.db"), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("bolt.Open() error = %v", err)
	}
	backend, err := store.NewBoltStore(db)
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })
	return store.NewManager(backend)
}

func TestRunner_RemovesSupersededBackups(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(10_000_000_000)
	m := newManager(t)
	ctx := context.Background()

	backups := []store.BackupItem{
		{UserID: "U1", BackupID: "old1", CreatedAt: 1000, CompactionHolder: "C-old1", AttachmentHolders: []string{"a1"}},
		{UserID: "U1", BackupID: "old2", CreatedAt: 2000, CompactionHolder: "C-old2"},
		{UserID: "U1", BackupID: "new", CreatedAt: now.UnixMilli(), CompactionHolder: "C-new"},
		{UserID: "U2", BackupID: "solo", CreatedAt: 1000, CompactionHolder: "C-solo"},
		{UserID: "U3", BackupID: "stuck", CreatedAt: 1000, CompactionHolder: "bad"},
		{UserID: "U3", BackupID: "new3", CreatedAt: now.UnixMilli(), CompactionHolder: "C-new3"},
	}
	for _, b := range backups {
		if err := m.PutBackup(ctx, b); err != nil {
			t.Fatalf("PutBackup(%s) error = %v", b.BackupID, err)
		}
	}
	logs := []store.LogItem{
		{BackupID: "old1", LogID: "L1", PersistedInBlob: true, Value: []byte("LH1"), AttachmentHolders: []string{"la"}},
		{BackupID: "old1", LogID: "L2", Value: []byte("inline")},
	}
	for _, l := range logs {
		if err := m.PutLog(ctx, l); err != nil {
			t.Fatalf("PutLog(%s) error = %v", l.LogID, err)
		}
	}

	blobs := &fakeBlobs{failOn: map[string]bool{"bad": true}}
	runner := NewRunner(m, blobs, time.Hour, 3, log.New(io.Discard, "", 0))
	runner.now = func() time.Time { return now }

	summary, err := runner.Run(ctx, 1)
	if err == nil {
		t.Fatalf("Run() error = nil, want the failed removal")
	}
	if summary.Scanned != 4 || summary.Kept != 1 || summary.Removed != 2 || summary.Failed != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if summary.BlobsRemoved != 5 {
		t.Fatalf("BlobsRemoved = %d, want 5", summary.BlobsRemoved)
	}

	slices.Sort(blobs.removed)
	want := []string{"C-old1", "C-old2", "LH1", "a1", "la"}
	if !slices.Equal(blobs.removed, want) {
		t.Fatalf("removed blobs = %v, want %v", blobs.removed, want)
	}

	for _, gone := range []store.BackupKey{{UserID: "U1", BackupID: "old1"}, {UserID: "U1", BackupID: "old2"}} {
		if _, err := m.FindBackup(ctx, gone.UserID, gone.BackupID); !store.IsNotFound(err) {
			t.Fatalf("backup %s still present: %v", gone.BackupID, err)
		}
	}
	if left, _ := m.FindLogsForBackup(ctx, "old1"); len(left) != 0 {
		t.Fatalf("logs of old1 still present: %v", left)
	}
	for _, kept := range []store.BackupKey{{UserID: "U1", BackupID: "new"}, {UserID: "U2", BackupID: "solo"}, {UserID: "U3", BackupID: "stuck"}} {
		if _, err := m.FindBackup(ctx, kept.UserID, kept.BackupID); err != nil {
			t.Fatalf("backup %s removed: %v", kept.BackupID, err)
		}
	}

	if len(summary.ByUser) != 2 || summary.ByUser[0].UserID != "U1" || summary.ByUser[0].Removed != 2 || summary.ByUser[1].Failed != 1 {
		t.Fatalf("ByUser = %+v", summary.ByUser)
	}
}

func TestRunner_NilDependencies(t *testing.T) {
	t.Parallel()

	if _, err := NewRunner(nil, &fakeBlobs{}, time.Hour, 1, nil).Run(context.Background(), 10); err == nil {
		t.Fatalf("Run() with nil store should fail")
	}
	if _, err := NewRunner(newManager(t), nil, time.Hour, 1, nil).Run(context.Background(), 10); err == nil {
		t.Fatalf("Run() with nil blob remover should fail")
	}
}
