package handlers

import (
	"context"

	"backupd/internal/backup"
	"backupd/internal/retention"
	"backupd/internal/store"
	"backupd/internal/wire"
)

type backupService interface {
	LatestBackup(ctx context.Context, userID string) (store.BackupItem, error)
	DescribeBackup(ctx context.Context, userID, backupID string) (backup.BackupView, error)
	AddAttachmentHolders(ctx context.Context, req wire.AddAttachmentsRequest) error
}

type retentionTrigger interface {
	TriggerRun(ctx context.Context) bool
	Status() retention.Status
}

type Handler struct {
	svc              backupService
	retentionTrigger retentionTrigger
}

func New(svc backupService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) SetRetentionTrigger(t retentionTrigger) {
	h.retentionTrigger = t
}
