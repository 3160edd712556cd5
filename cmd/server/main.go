package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"clipfactory/config"
	"clipfactory/internal/deps"
	"clipfactory/internal/server"
	"clipfactory/internal/service"
	"clipfactory/internal/storage"
	"clipfactory/log"

	"go.uber.org/zap"
)

func main() {
	log.InitLogger()
	defer log.GetLogger().Sync()

	var err error
	if !config.LoadConfig() {
		return
	}

	if err = config.CheckConfig(); err != nil {
		log.GetLogger().Error("加载配置失败 / invalid config", zap.Error(err))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage.InitDB()
	jobs := storage.Default()

	// In-process stages die with the process; asynq workers own their own.
	if config.Conf.App.WorkerMode == config.WorkerModeInProcess {
		if count, err := jobs.MarkStaleStages(ctx); err != nil {
			log.GetLogger().Warn("Failed to mark stale stages", zap.Error(err))
		} else if count > 0 {
			log.GetLogger().Info("Marked stale stages as pending", zap.Int64("count", count))
		}
	}

	states := deps.ResolveDependencyInventory(config.Conf.App.FfmpegPath, config.Conf.App.FfprobePath)
	if missing := deps.Missing(states); len(missing) > 0 {
		log.GetLogger().Error("依赖环境准备失败 / missing dependencies", zap.String("report", deps.FormatDependencyReport(states)))
		return
	}

	svc, err := service.NewService(config.Conf, jobs)
	if err != nil {
		log.GetLogger().Error("服务初始化失败 / service init failed", zap.Error(err))
		os.Exit(1)
	}
	defer svc.Close()

	if err = svc.Start(ctx); err != nil {
		log.GetLogger().Error("后台任务启动失败 / workers failed to start", zap.Error(err))
		os.Exit(1)
	}
	if err = server.StartBackend(ctx, svc); err != nil {
		log.GetLogger().Error("后端服务启动失败", zap.Error(err))
		os.Exit(1)
	}
}
