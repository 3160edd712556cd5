package storage

import (
	"context"
	"encoding/json"
	"errors"

	"clipfactory/internal/types"
	apperrors "clipfactory/pkg/errors"

	"gorm.io/gorm"
)

// CreateJob inserts a job unless its root id already exists. created is
// false for a re-submission, which gets the stored row back.
func (s *Store) CreateJob(ctx context.Context, sourceRef, rootID string, meta map[string]string) (*types.PipelineJob, bool, error) {
	raw := ""
	if len(meta) > 0 {
		data, err := json.Marshal(meta)
		if err != nil {
			return nil, false, apperrors.Wrap(apperrors.CodeInvalidParams, "invalid job meta", err)
		}
		raw = string(data)
	}

	if existing, err := s.GetJob(ctx, rootID); err == nil {
		return existing, false, nil
	} else if !apperrors.Is(err, apperrors.CodeNotFound) {
		return nil, false, err
	}

	job := &types.PipelineJob{RootID: rootID, SourceRef: sourceRef, Meta: raw}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		// Lost a race with a concurrent submit of the same source.
		if existing, getErr := s.GetJob(ctx, rootID); getErr == nil {
			return existing, false, nil
		}
		return nil, false, apperrors.Wrap(apperrors.CodeDBError, "create job", err)
	}
	return job, true, nil
}

func (s *Store) GetJob(ctx context.Context, rootID string) (*types.PipelineJob, error) {
	var job types.PipelineJob
	err := s.db.WithContext(ctx).Preload("StageStates").Where("root_id = ?", rootID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDBError, "get job", err)
	}
	return &job, nil
}

func (s *Store) ListJobs(ctx context.Context, limit int) ([]types.PipelineJob, error) {
	if limit <= 0 {
		limit = 100
	}
	var jobs []types.PipelineJob
	if err := s.db.WithContext(ctx).Preload("StageStates").Order("created_at desc").Limit(limit).Find(&jobs).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDBError, "list jobs", err)
	}
	return jobs, nil
}

// UpdateStage loads or creates the (root, stage) row, applies mutate and
// writes it back in one transaction.
func (s *Store) UpdateStage(ctx context.Context, rootID string, stage types.Stage, mutate func(*types.StageState)) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var state types.StageState
		err := tx.Where("root_id = ? AND stage = ?", rootID, stage).First(&state).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			state = types.StageState{RootID: rootID, Stage: stage, Status: types.StageStatusPending}
		} else if err != nil {
			return err
		}
		mutate(&state)
		state.RootID = rootID
		state.Stage = stage
		return tx.Save(&state).Error
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDBError, "update stage state", err)
	}
	return nil
}

// MarkStaleStages moves stages left active by a crashed worker back to
// pending so the reconciler and the broker's own retry can pick them up.
// It should be called on startup.
func (s *Store) MarkStaleStages(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Model(&types.StageState{}).
		Where("status = ?", types.StageStatusActive).
		Updates(map[string]interface{}{
			"status":     types.StageStatusPending,
			"last_error": "服务重启，阶段被中断 Stage interrupted by restart",
		})
	if result.Error != nil {
		return 0, apperrors.Wrap(apperrors.CodeDBError, "mark stale stages", result.Error)
	}
	return result.RowsAffected, nil
}
