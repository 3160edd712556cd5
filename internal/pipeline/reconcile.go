package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"clipfactory/internal/objectstore"
	"clipfactory/internal/types"
	"clipfactory/log"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ErrReconcilerLocked means another process on this host owns the sweep.
var ErrReconcilerLocked = errors.New("reconciler lock held by another process")

type JobLister interface {
	ListJobs(ctx context.Context, limit int) ([]types.PipelineJob, error)
}

type ReconcileConfig struct {
	Interval  time.Duration `toml:"interval"`
	BatchSize int           `toml:"batch_size"`
}

func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{Interval: 2 * time.Minute, BatchSize: 500}
}

// Reconciler re-enqueues successor stages that were lost between a stage
// completing and its chaining enqueue, e.g. after a crash.
type Reconciler struct {
	cfg      ReconcileConfig
	jobs     JobLister
	store    types.ObjectStore
	broker   types.Broker
	lockPath string

	mu   sync.Mutex
	lock *flock.Flock
	cron *cron.Cron
}

func NewReconciler(cfg ReconcileConfig, jobs JobLister, store types.ObjectStore, broker types.Broker, lockPath string) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultReconcileConfig().Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultReconcileConfig().BatchSize
	}
	return &Reconciler{cfg: cfg, jobs: jobs, store: store, broker: broker, lockPath: lockPath}
}

// Sweep walks recent jobs once and returns how many tasks it enqueued.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	jobs, err := r.jobs.ListJobs(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	enqueued := 0
	for i := range jobs {
		job := &jobs[i]
		stage, ok, err := r.missingSuccessor(ctx, job)
		if err != nil {
			log.GetLogger().Warn("reconcile: inspect job failed", zap.String("root_id", job.RootID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		payload := types.StagePayload{RootID: job.RootID}
		if stage == types.StageIngest {
			payload.SourceRef = job.SourceRef
		}
		res, err := r.broker.Enqueue(ctx, stage, payload, job.RootID)
		if err != nil {
			log.GetLogger().Warn("reconcile: enqueue failed",
				zap.String("root_id", job.RootID), zap.String("stage", stage.String()), zap.Error(err))
			continue
		}
		if !res.Duplicate {
			enqueued++
			log.GetLogger().Info("reconcile: stage re-enqueued",
				zap.String("root_id", job.RootID), zap.String("stage", stage.String()))
		}
	}
	return enqueued, nil
}

// missingSuccessor finds the first stage that should run but has no state:
// ingest for a job that never started, otherwise the successor of a
// completed stage whose artifact is present.
func (r *Reconciler) missingSuccessor(ctx context.Context, job *types.PipelineJob) (types.Stage, bool, error) {
	if ingest, ok := job.State(types.StageIngest); !ok || (ingest.Status == types.StageStatusPending && ingest.Attempt == 0) {
		return types.StageIngest, true, nil
	}
	for _, stage := range types.PipelineStages {
		state, ok := job.State(stage)
		if !ok || state.Status != types.StageStatusCompleted {
			continue
		}
		next, hasNext := stage.Next()
		if !hasNext {
			continue
		}
		if _, started := job.State(next); started {
			continue
		}
		present, err := r.artifactPresent(ctx, stage, job.RootID)
		if err != nil {
			return "", false, err
		}
		if present {
			return next, true, nil
		}
	}
	return "", false, nil
}

func (r *Reconciler) artifactPresent(ctx context.Context, stage types.Stage, rootID string) (bool, error) {
	if key, ok := objectstore.CompletionKey(stage, rootID); ok {
		return r.store.Exists(ctx, key)
	}
	keys, err := r.store.List(ctx, objectstore.ClipsPrefix(rootID))
	if err != nil {
		return false, err
	}
	for _, k := range keys {
		if objectstore.IsClipVideo(k) {
			return true, nil
		}
	}
	return false, nil
}

// Start takes the host lock and schedules Sweep every Interval. It returns
// ErrReconcilerLocked when another process already runs the sweep.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(r.lockPath), 0o755); err != nil {
		return err
	}
	lock := flock.New(r.lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return err
	}
	if !locked {
		return ErrReconcilerLocked
	}

	c := cron.New()
	_, err = c.AddFunc("@every "+r.cfg.Interval.String(), func() {
		n, err := r.Sweep(ctx)
		if err != nil {
			log.GetLogger().Error("reconcile: sweep failed", zap.Error(err))
			return
		}
		log.GetLogger().Debug("reconcile: sweep done", zap.Int("enqueued", n))
	})
	if err != nil {
		_ = lock.Unlock()
		return err
	}
	c.Start()
	r.lock = lock
	r.cron = c
	log.GetLogger().Info("reconcile: started", zap.Duration("interval", r.cfg.Interval), zap.String("lock", r.lockPath))
	return nil
}

func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	_ = r.lock.Unlock()
	r.cron = nil
	r.lock = nil
}
