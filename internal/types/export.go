package types

import (
	"fmt"
	"time"
)

type ExportStatus string

const (
	ExportQueued     ExportStatus = "queued"
	ExportUploading  ExportStatus = "uploading"
	ExportProcessing ExportStatus = "processing"
	ExportDone       ExportStatus = "done"
	ExportFailed     ExportStatus = "failed"
)

// ExportRecord tracks one clip's publication. Status only moves forward.
type ExportRecord struct {
	Id              string       `gorm:"primaryKey;size:36" json:"id"`
	RootID          string       `gorm:"uniqueIndex:idx_export_clip;size:32" json:"rootId"`
	ClipID          string       `gorm:"uniqueIndex:idx_export_clip;size:64" json:"clipId"`
	UserID          string       `gorm:"uniqueIndex:idx_export_clip;size:64" json:"userId"`
	Status          ExportStatus `gorm:"size:16;index" json:"status"`
	Progress        int          `json:"progress"`
	PlatformVideoID string       `json:"platformVideoId,omitempty"`
	UploadURL       string       `json:"-"`
	Error           string       `json:"error,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

func (s ExportStatus) Terminal() bool {
	return s == ExportDone || s == ExportFailed
}

func isValidExportTransition(from, to ExportStatus) bool {
	switch from {
	case ExportQueued:
		return to == ExportUploading || to == ExportFailed
	case ExportUploading:
		return to == ExportProcessing || to == ExportFailed
	case ExportProcessing:
		return to == ExportDone || to == ExportFailed
	default:
		return false
	}
}

// Transition moves the record to status to or reports why it cannot.
func (r *ExportRecord) Transition(to ExportStatus) error {
	if !isValidExportTransition(r.Status, to) {
		return fmt.Errorf("invalid export transition: %s -> %s", r.Status, to)
	}
	r.Status = to
	return nil
}
