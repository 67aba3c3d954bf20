package config

import (
	"strings"
	"testing"
	"time"

	"backupd/internal/ratelimit"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"DB_BACKEND", "BLOB_BACKEND", "BRIDGE_CAPACITY", "LOG_DATA_SIZE_DATABASE_LIMIT"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DBBackend != DBBackendBolt || cfg.BlobBackend != BlobBackendLocal {
		t.Fatalf("backends = %q/%q", cfg.DBBackend, cfg.BlobBackend)
	}
	if cfg.BridgeCapacity != 100 {
		t.Fatalf("BridgeCapacity = %d, want 100", cfg.BridgeCapacity)
	}
	if cfg.LogSizeLimit != 1024*1024 {
		t.Fatalf("LogSizeLimit = %d", cfg.LogSizeLimit)
	}
}

func TestLoadRetentionConfig(t *testing.T) {
	t.Setenv("RETENTION_ENABLED", "yes")
	t.Setenv("RETENTION_INTERVAL", "2m")
	t.Setenv("RETENTION_STARTUP_DELAY", "-5s")
	t.Setenv("RETENTION_MAX_AGE", "72h")
	t.Setenv("RETENTION_PAGE_SIZE", "0")
	t.Setenv("RETENTION_CONCURRENCY", "-3")
	t.Setenv("BRIDGE_CAPACITY", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.RetentionEnabled {
		t.Fatalf("RetentionEnabled = false, want true")
	}
	if cfg.RetentionInterval != 2*time.Minute {
		t.Fatalf("RetentionInterval = %v", cfg.RetentionInterval)
	}
	if cfg.RetentionDelay != 0 {
		t.Fatalf("RetentionDelay = %v, want 0", cfg.RetentionDelay)
	}
	if cfg.RetentionMaxAge != 72*time.Hour {
		t.Fatalf("RetentionMaxAge = %v", cfg.RetentionMaxAge)
	}
	if cfg.RetentionPageSize != 100 {
		t.Fatalf("RetentionPageSize = %d, want 100", cfg.RetentionPageSize)
	}
	if cfg.RetentionWorkers != 1 {
		t.Fatalf("RetentionWorkers = %d, want 1", cfg.RetentionWorkers)
	}
	if cfg.BridgeCapacity != 100 {
		t.Fatalf("BridgeCapacity = %d, want fallback 100", cfg.BridgeCapacity)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "unknown db backend",
			env:     map[string]string{"DB_BACKEND": "mysql"},
			wantErr: "DB_BACKEND",
		},
		{
			name:    "unknown blob backend",
			env:     map[string]string{"BLOB_BACKEND": "ftp"},
			wantErr: "BLOB_BACKEND",
		},
		{
			name:    "s3 without bucket",
			env:     map[string]string{"BLOB_BACKEND": "S3", "S3_BUCKET": ""},
			wantErr: "S3_BUCKET",
		},
		{
			name:    "negative log limit",
			env:     map[string]string{"LOG_DATA_SIZE_DATABASE_LIMIT": "-1"},
			wantErr: "LOG_DATA_SIZE_DATABASE_LIMIT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Load() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestLoadSelectsRemoteBlobBackend(t *testing.T) {
	t.Setenv("DB_BACKEND", "dynamodb")
	t.Setenv("BLOB_BACKEND", "remote")
	t.Setenv("BLOB_SERVICE_ADDR", "blob:50052")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DBBackend != DBBackendDynamo || cfg.BlobServiceAddr != "blob:50052" {
		t.Fatalf("cfg = %#v", cfg)
	}
}

func TestRateLimitsPerScope(t *testing.T) {
	t.Parallel()

	cfg := Config{
		RateLimitWindow:   30 * time.Second,
		RateLimitPull:     1,
		RateLimitPullPeer: 2,
		RateLimitPush:     3,
		RateLimitPushPeer: 4,
	}
	got := cfg.RateLimits()
	if got.Window != 30*time.Second {
		t.Fatalf("Window = %s", got.Window)
	}
	pull, push := got.Scopes[ratelimit.ScopePull], got.Scopes[ratelimit.ScopePush]
	if pull.PerUser != 1 || pull.PerPeer != 2 || push.PerUser != 3 || push.PerPeer != 4 {
		t.Fatalf("Scopes = %#v", got.Scopes)
	}
}
