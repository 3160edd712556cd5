package storage

import (
	"context"
	"errors"

	"clipfactory/internal/types"
	apperrors "clipfactory/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateExport returns the existing record for (root, clip, user) when one
// exists, so a repeated export request reuses the same id.
func (s *Store) CreateExport(ctx context.Context, rootID, clipID, userID string) (*types.ExportRecord, bool, error) {
	var existing types.ExportRecord
	err := s.db.WithContext(ctx).
		Where("root_id = ? AND clip_id = ? AND user_id = ?", rootID, clipID, userID).
		First(&existing).Error
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, apperrors.Wrap(apperrors.CodeDBError, "lookup export", err)
	}

	rec := &types.ExportRecord{
		Id:     uuid.NewString(),
		RootID: rootID,
		ClipID: clipID,
		UserID: userID,
		Status: types.ExportQueued,
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, false, apperrors.Wrap(apperrors.CodeDBError, "create export", err)
	}
	return rec, true, nil
}

func (s *Store) GetExport(ctx context.Context, id string) (*types.ExportRecord, error) {
	var rec types.ExportRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDBError, "get export", err)
	}
	return &rec, nil
}

func (s *Store) SaveExport(ctx context.Context, rec *types.ExportRecord) error {
	if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
		return apperrors.Wrap(apperrors.CodeDBError, "save export", err)
	}
	return nil
}

func (s *Store) ListExports(ctx context.Context, rootID string) ([]types.ExportRecord, error) {
	var recs []types.ExportRecord
	if err := s.db.WithContext(ctx).Where("root_id = ?", rootID).Order("created_at").Find(&recs).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDBError, "list exports", err)
	}
	return recs, nil
}
