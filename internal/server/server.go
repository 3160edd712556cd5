// Package server runs the HTTP API on top of a built service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"clipfactory/config"
	"clipfactory/internal/handler"
	"clipfactory/internal/router"
	"clipfactory/internal/service"
	"clipfactory/log"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func NewEngine(svc *service.Service) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	router.SetupRouter(engine, handler.NewHandler(svc.Orchestrator, svc.Bus, svc.Objects))
	return engine
}

// StartBackend serves the API until ctx ends, then drains in-flight
// requests. Streams are cut when the shutdown timeout expires.
func StartBackend(ctx context.Context, svc *service.Service) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", config.Conf.Server.Host, config.Conf.Server.Port),
		Handler:           NewEngine(svc),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.GetLogger().Info("服务启动 / server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.GetLogger().Warn("server: shutdown", zap.Error(err))
		return srv.Close()
	}
	log.GetLogger().Info("server: stopped")
	return nil
}
