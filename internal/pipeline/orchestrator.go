package pipeline

import (
	"context"
	"strings"

	"clipfactory/internal/objectstore"
	"clipfactory/internal/types"
	"clipfactory/log"
	apperrors "clipfactory/pkg/errors"

	"go.uber.org/zap"
)

type JobStore interface {
	CreateJob(ctx context.Context, sourceRef, rootID string, meta map[string]string) (*types.PipelineJob, bool, error)
	GetJob(ctx context.Context, rootID string) (*types.PipelineJob, error)
	ListJobs(ctx context.Context, limit int) ([]types.PipelineJob, error)
	UpdateStage(ctx context.Context, rootID string, stage types.Stage, mutate func(*types.StageState)) error
}

type ExportStore interface {
	CreateExport(ctx context.Context, rootID, clipID, userID string) (*types.ExportRecord, bool, error)
	GetExport(ctx context.Context, id string) (*types.ExportRecord, error)
	ListExports(ctx context.Context, rootID string) ([]types.ExportRecord, error)
}

// Orchestrator is the entry point for new work: it creates jobs and export
// records and enqueues their first task.
type Orchestrator struct {
	jobs    JobStore
	exports ExportStore
	store   types.ObjectStore
	broker  types.Broker
}

func NewOrchestrator(jobs JobStore, exports ExportStore, store types.ObjectStore, broker types.Broker) *Orchestrator {
	return &Orchestrator{jobs: jobs, exports: exports, store: store, broker: broker}
}

type SubmitResult struct {
	JobID     string `json:"jobId"`
	Created   bool   `json:"created"`
	Duplicate bool   `json:"duplicate"`
}

// Submit creates the job for sourceRef and enqueues ingest keyed by the
// root id. Re-submitting the same source returns the existing job.
func (o *Orchestrator) Submit(ctx context.Context, sourceRef string, meta map[string]string) (*SubmitResult, error) {
	sourceRef = strings.TrimSpace(sourceRef)
	if sourceRef == "" {
		return nil, apperrors.Wrap(apperrors.CodeInvalidParams, "sourceRef is required", nil)
	}
	rootID := RootID(sourceRef)

	_, created, err := o.jobs.CreateJob(ctx, sourceRef, rootID, meta)
	if err != nil {
		return nil, err
	}
	if created {
		if err := o.jobs.UpdateStage(ctx, rootID, types.StageIngest, func(s *types.StageState) {
			s.Status = types.StageStatusPending
		}); err != nil {
			return nil, err
		}
	}

	res, err := o.broker.Enqueue(ctx, types.StageIngest, types.StagePayload{
		RootID:    rootID,
		SourceRef: sourceRef,
		Meta:      meta,
	}, rootID)
	if err != nil {
		return nil, err
	}

	log.GetLogger().Info("pipeline: job submitted",
		zap.String("root_id", rootID),
		zap.Bool("created", created),
		zap.Bool("duplicate", res.Duplicate))
	return &SubmitResult{JobID: rootID, Created: created, Duplicate: res.Duplicate || !created}, nil
}

// RequestExport creates (or reuses) the export record for one rendered
// clip and enqueues its task keyed by the export id.
func (o *Orchestrator) RequestExport(ctx context.Context, rootID, clipID, userID string) (*types.ExportRecord, error) {
	if rootID == "" || clipID == "" || userID == "" {
		return nil, apperrors.Wrap(apperrors.CodeInvalidParams, "rootId, clipId and userId are required", nil)
	}
	if _, err := o.jobs.GetJob(ctx, rootID); err != nil {
		return nil, err
	}
	exists, err := o.store.Exists(ctx, objectstore.ClipVideoKey(rootID, clipID))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperrors.WrapWithDetail(apperrors.CodeArtifactMissing, apperrors.ErrArtifactMissing.Message,
			objectstore.ClipVideoKey(rootID, clipID), nil)
	}

	rec, created, err := o.exports.CreateExport(ctx, rootID, clipID, userID)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return rec, nil
	}
	res, err := o.broker.Enqueue(ctx, types.StageExport, types.StagePayload{
		RootID:   rootID,
		ClipID:   clipID,
		UserID:   userID,
		ExportID: rec.Id,
	}, rec.Id)
	if err != nil {
		return nil, err
	}
	log.GetLogger().Info("pipeline: export requested",
		zap.String("root_id", rootID),
		zap.String("clip_id", clipID),
		zap.String("export_id", rec.Id),
		zap.Bool("created", created),
		zap.Bool("duplicate", res.Duplicate))
	return rec, nil
}

type Status struct {
	ID       string             `json:"id"`
	Kind     string             `json:"kind"`
	State    string             `json:"state"`
	Progress int                `json:"progress"`
	Stages   []types.StageState `json:"stages,omitempty"`
	Error    string             `json:"error,omitempty"`

	// PendingExports counts the job's export records not yet done or failed.
	PendingExports int `json:"pendingExports,omitempty"`
}

// Status resolves id as a pipeline job first, then as an export record.
func (o *Orchestrator) Status(ctx context.Context, id string) (*Status, error) {
	job, err := o.jobs.GetJob(ctx, id)
	if err == nil {
		state, progress := job.Overall()
		st := &Status{ID: id, Kind: "pipeline", State: state, Progress: progress, Stages: job.StageStates}
		for _, s := range job.StageStates {
			if s.Status == types.StageStatusFailed {
				st.Error = s.LastError
			}
		}
		recs, err := o.exports.ListExports(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			if !rec.Status.Terminal() {
				st.PendingExports++
			}
		}
		return st, nil
	}
	if !apperrors.Is(err, apperrors.CodeNotFound) {
		return nil, err
	}

	rec, err := o.exports.GetExport(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Status{ID: id, Kind: "export", State: string(rec.Status), Progress: rec.Progress, Error: rec.Error}, nil
}
