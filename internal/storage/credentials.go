package storage

import (
	"context"
	"errors"

	"clipfactory/internal/types"
	apperrors "clipfactory/pkg/errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Store) GetCredential(ctx context.Context, userID, platform string) (*types.Credential, error) {
	var cred types.Credential
	err := s.db.WithContext(ctx).Where("user_id = ? AND platform = ?", userID, platform).First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDBError, "get credential", err)
	}
	return &cred, nil
}

// SaveCredential upserts on (user, platform).
func (s *Store) SaveCredential(ctx context.Context, cred *types.Credential) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(cred).Error
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDBError, "save credential", err)
	}
	return nil
}
