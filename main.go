package main

import (
	"catalog-hub/api"
	"catalog-hub/logger"
	"catalog-hub/service"
	"catalog-hub/service/config"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	daprd "github.com/dapr/go-sdk/service/http"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("加载配置失败", "error", err)
		os.Exit(1)
	}
	logger.InitLogger(cfg.Logging.Level)

	app, err := service.NewApp(cfg)
	if err != nil {
		slog.Error("服务初始化失败", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	mux := chi.NewRouter()

	// 如果有BASE_CONTEXT，则在该路径下挂载所有路由
	if cfg.Server.BaseContext != "" {
		mux.Route(cfg.Server.BaseContext, func(r chi.Router) {
			api.InitRoute(r, app)
			r.Handle("/metrics", promhttp.Handler())
		})
	} else {
		api.InitRoute(mux, app)
		mux.Handle("/metrics", promhttp.Handler())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := daprd.NewServiceWithMux(":"+strconv.Itoa(cfg.Server.Port), mux)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("HTTP服务启动", "port", cfg.Server.Port)
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if app.Scheduler == nil {
			return nil
		}
		if err := app.Scheduler.Start(); err != nil {
			return err
		}
		<-gctx.Done()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("正在停止服务")
		return s.GracefulStop()
	})

	if err := g.Wait(); err != nil {
		slog.Error("服务异常退出", "error", err)
		os.Exit(1)
	}
}
