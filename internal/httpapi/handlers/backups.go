package handlers

import (
	"net/http"

	"backupd/internal/store"
	"backupd/internal/wire"

	"github.com/labstack/echo/v4"
)

type backupResponse struct {
	UserID            string   `json:"userID"`
	BackupID          string   `json:"backupID"`
	CreatedAt         int64    `json:"createdAt"`
	CompactionHolder  string   `json:"compactionHolder"`
	AttachmentHolders []string `json:"attachmentHolders"`
	RecoveryDataSize  int      `json:"recoveryDataSize"`
}

// logResponse omits inline log values; they are ciphertext only the owner
// can use.
type logResponse struct {
	LogID             string   `json:"logID"`
	DataHash          string   `json:"dataHash"`
	PersistedInBlob   bool     `json:"persistedInBlob"`
	Holder            string   `json:"holder,omitempty"`
	InlineSize        int      `json:"inlineSize,omitempty"`
	AttachmentHolders []string `json:"attachmentHolders"`
}

func toBackupResponse(item store.BackupItem) backupResponse {
	holders := item.AttachmentHolders
	if holders == nil {
		holders = []string{}
	}
	return backupResponse{
		UserID:            item.UserID,
		BackupID:          item.BackupID,
		CreatedAt:         item.CreatedAt,
		CompactionHolder:  item.CompactionHolder,
		AttachmentHolders: holders,
		RecoveryDataSize:  len(item.RecoveryData),
	}
}

func toLogResponse(item store.LogItem) logResponse {
	out := logResponse{
		LogID:             item.LogID,
		DataHash:          item.DataHash,
		PersistedInBlob:   item.PersistedInBlob,
		AttachmentHolders: item.AttachmentHolders,
	}
	if out.AttachmentHolders == nil {
		out.AttachmentHolders = []string{}
	}
	if item.PersistedInBlob {
		out.Holder = item.Holder()
	} else {
		out.InlineSize = len(item.Value)
	}
	return out
}

func (h *Handler) GetLatestBackup(c echo.Context) error {
	if err := h.requireAdmin(c); err != nil {
		return err
	}

	item, err := h.svc.LatestBackup(c.Request().Context(), pathParam(c, "userID"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, toBackupResponse(item))
}

func (h *Handler) GetBackup(c echo.Context) error {
	if err := h.requireAdmin(c); err != nil {
		return err
	}

	view, err := h.svc.DescribeBackup(c.Request().Context(), pathParam(c, "userID"), pathParam(c, "backupID"))
	if err != nil {
		return mapServiceError(err)
	}
	logs := make([]logResponse, 0, len(view.Logs))
	for _, l := range view.Logs {
		logs = append(logs, toLogResponse(l))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"backup": toBackupResponse(view.Backup),
		"logs":   logs,
	})
}

func (h *Handler) AddAttachments(c echo.Context) error {
	if err := h.requireAdmin(c); err != nil {
		return err
	}

	var req struct {
		LogID   string `json:"logID"`
		Holders string `json:"holders"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	err := h.svc.AddAttachmentHolders(c.Request().Context(), wire.AddAttachmentsRequest{
		UserID:   pathParam(c, "userID"),
		BackupID: pathParam(c, "backupID"),
		LogID:    req.LogID,
		Holders:  req.Holders,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}
