package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clipfactory/config"
	"clipfactory/internal/appdirs"
	"clipfactory/internal/cache"
	"clipfactory/internal/events"
	"clipfactory/internal/export"
	"clipfactory/internal/media"
	"clipfactory/internal/objectstore"
	"clipfactory/internal/pipeline"
	"clipfactory/internal/queue"
	"clipfactory/internal/rank"
	"clipfactory/internal/render"
	"clipfactory/internal/scenes"
	"clipfactory/internal/storage"
	"clipfactory/internal/taskrunner"
	"clipfactory/internal/texts"
	"clipfactory/internal/types"
	"clipfactory/log"
	"clipfactory/pkg/aliyun"
	"clipfactory/pkg/openai"
	"clipfactory/pkg/youtube"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const vectorCachePrefix = "clipfactory:vectors:"

// Service owns every long-lived component of one process: storage, the
// event bus, the stage handlers and whichever task runtime the config picks.
type Service struct {
	Config       config.Config
	Paths        appdirs.Paths
	Jobs         *storage.Store
	Objects      types.ObjectStore
	Bus          events.Bus
	Orchestrator *pipeline.Orchestrator
	Reconciler   *pipeline.Reconciler

	handlers *pipeline.Handlers
	broker   *pipeline.LateBroker
	runner   *taskrunner.Runner
	queue    *queue.Broker
	workers  *queue.Workers
	redis    *redis.Client
}

func NewService(cfg config.Config, jobs *storage.Store) (*Service, error) {
	dirs, err := resolvePaths()
	if err != nil {
		return nil, fmt.Errorf("resolve paths: %w", err)
	}

	s := &Service{Config: cfg, Paths: dirs, Jobs: jobs, broker: &pipeline.LateBroker{}}

	s.Objects, err = objectstore.Open(cfg.Storage, appdirs.ObjectRootFor(dirs))
	if err != nil {
		return nil, fmt.Errorf("open object store: %w", err)
	}

	if cfg.App.WorkerMode == config.WorkerModeAsynq || cfg.Cache.Backend == "redis" {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	if cfg.App.WorkerMode == config.WorkerModeAsynq {
		s.Bus = events.NewRedisBus(s.redis, cfg.Redis.EventsPrefix)
	} else {
		s.Bus = events.NewMemoryBus()
	}

	var vectors cache.Cache[[]float32] = cache.NewLRU[[]float32](cache.Options{TTL: cfg.Cache.TTL, MaxEntries: cfg.Cache.MaxEntries})
	if cfg.Cache.Backend == "redis" {
		vectors = cache.Tiered[[]float32]{
			Local:  vectors,
			Shared: cache.NewRedis[[]float32](s.redis, vectorCachePrefix, cfg.Cache.TTL),
		}
	}

	llm := openai.NewClient(cfg.Llm.BaseUrl, cfg.Llm.ApiKey, cfg.App.Proxy)
	if cfg.Llm.Model != "" {
		llm.ChatModel = cfg.Llm.Model
	}
	if cfg.Llm.EmbeddingModel != "" {
		llm.EmbeddingModel = cfg.Llm.EmbeddingModel
	}

	transcriber, err := newTranscriber(cfg, s.Objects)
	if err != nil {
		s.Close()
		return nil, err
	}

	ffmpeg := media.NewFFmpeg(cfg.App.FfmpegPath, cfg.App.FfprobePath)
	platform := youtube.NewClient(cfg.Youtube.ClientId, cfg.Youtube.ClientSecret)

	s.Orchestrator = pipeline.NewOrchestrator(jobs, jobs, s.Objects, s.broker)
	deps := pipeline.Deps{
		Store:       s.Objects,
		Jobs:        jobs,
		Runner:      ffmpeg,
		Prober:      ffmpeg,
		Fetcher:     pipeline.NewFetcher(s.Objects),
		Transcriber: transcriber,
		Scenes:      scenes.NewEngine(cfg.Scenes, ffmpeg, llm, vectors, llm.EmbeddingModel),
		Ranker:      rank.NewRanker(cfg.Rank, llm, vectors, llm.EmbeddingModel),
		Renderer:    render.NewOrchestrator(cfg.Render, ffmpeg, s.Objects, dirs.WorkDir),
		Texts:       texts.NewGenerator(cfg.Texts, llm, s.Objects),
		Exporter:    export.NewOrchestrator(cfg.Export, platform, jobs, jobs, s.Objects, dirs.WorkDir),
		Exports:     s.Orchestrator,
		Chainer:     pipeline.NewDecentralizedChainer(s.broker),
		Paths:       dirs,
		Config:      cfg.Pipeline,
	}
	if n := cfg.Llm.RequestsPerMinute; n > 0 {
		deps.TextsLimiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)
	}
	s.handlers = pipeline.NewHandlers(deps)

	switch cfg.App.WorkerMode {
	case config.WorkerModeAsynq:
		s.queue = queue.NewBroker(cfg.QueueConfig())
		s.broker.Set(s.queue)
	default:
		s.runner = taskrunner.New(cfg.RunnerConfig(), jobs, s.Bus, s.handlers.Map())
		s.broker.Set(s.runner)
	}

	if cfg.Reconcile.Enabled {
		s.Reconciler = pipeline.NewReconciler(cfg.Reconcile.ReconcileConfig, jobs, s.Objects, s.broker, appdirs.LockPathFor(dirs))
	}

	log.GetLogger().Info("service: initialized",
		zap.String("worker_mode", cfg.App.WorkerMode),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("transcriber", cfg.Transcribe.Provider),
		zap.String("cache", cfg.Cache.Backend))
	return s, nil
}

func newTranscriber(cfg config.Config, objects types.ObjectStore) (types.Transcriber, error) {
	switch cfg.Transcribe.Provider {
	case config.TranscribeAliyun:
		oss, ok := objects.(*aliyun.OssClient)
		if !ok {
			return nil, fmt.Errorf("aliyun transcription needs the oss storage backend")
		}
		asr, err := aliyun.NewAsrClient(cfg.Transcribe.Aliyun.Speech, oss)
		if err != nil {
			return nil, err
		}
		return asr, nil
	default:
		client := openai.NewClient(cfg.Transcribe.Openai.BaseUrl, cfg.Transcribe.Openai.ApiKey, cfg.App.Proxy)
		if cfg.Transcribe.Openai.Model != "" {
			client.TranscribeModel = cfg.Transcribe.Openai.Model
		}
		return client, nil
	}
}

// Broker is where submissions and chained stages are enqueued.
func (s *Service) Broker() types.Broker { return s.broker }

// Start launches the asynq stage servers when configured for them and the
// reconciler. The in-process runner is already consuming.
func (s *Service) Start(ctx context.Context) error {
	if err := s.StartWorkers(); err != nil {
		return err
	}
	if s.Reconciler == nil {
		return nil
	}
	err := s.Reconciler.Start(ctx)
	if errors.Is(err, pipeline.ErrReconcilerLocked) {
		log.GetLogger().Info("service: reconciler held by another process")
		return nil
	}
	return err
}

func (s *Service) StartWorkers() error {
	if s.queue == nil || s.workers != nil {
		return nil
	}
	s.workers = queue.NewWorkers(s.Config.QueueConfig(), s.Jobs, s.Bus, s.handlers.Map())
	return s.workers.Start()
}

// QueueStats reports per-stage queue depth; nil in in-process mode.
func (s *Service) QueueStats(ctx context.Context) ([]queue.QueueStats, error) {
	if s.queue == nil {
		return nil, nil
	}
	return s.queue.Stats(ctx)
}

// TaskInfo inspects one stage task; nil in in-process mode.
func (s *Service) TaskInfo(ctx context.Context, stage types.Stage, rootID string) (*queue.TaskStatus, error) {
	if s.queue == nil {
		return nil, nil
	}
	return s.queue.TaskInfo(ctx, stage, rootID)
}

// Wait blocks until the in-process runner drains. It returns at once in
// asynq mode.
func (s *Service) Wait(ctx context.Context) error {
	if s.runner == nil {
		return nil
	}
	return s.runner.Wait(ctx)
}

func (s *Service) Close() {
	if s.Reconciler != nil {
		s.Reconciler.Stop()
	}
	if s.workers != nil {
		s.workers.Shutdown()
	}
	if s.runner != nil {
		s.runner.Close()
	}
	if s.queue != nil {
		if err := s.queue.Close(); err != nil {
			log.GetLogger().Warn("service: close queue client", zap.Error(err))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			log.GetLogger().Warn("service: close redis client", zap.Error(err))
		}
	}
}
