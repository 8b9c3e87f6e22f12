/*
 * @module service/init
 * @description 服务初始化模块，负责数据库连接、迁移以及各服务的装配
 * @architecture 分层架构 - 服务层
 * @stateFlow 加载配置 -> 连接数据库 -> 迁移 -> 可选 Redis/MinIO/Kafka -> 装配服务
 * @rules 数据库不可用时启动失败；Redis、MinIO、Kafka 未配置时对应功能降级
 * @dependencies gorm.io/gorm, gorm.io/driver/postgres, github.com/go-redis/redis/v8
 * @refs main.go, api/routes.go
 */

package service

import (
	"catalog-hub/service/batch"
	"catalog-hub/service/config"
	"catalog-hub/service/database"
	"catalog-hub/service/distributed_lock"
	"catalog-hub/service/ingest"
	"catalog-hub/service/notify"
	"catalog-hub/service/pipeline"
	"catalog-hub/service/reference"
	"catalog-hub/service/scheduler"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// App 已装配的服务集合
type App struct {
	Config    *config.Config
	DB        *gorm.DB
	Ingest    *ingest.Service
	Runner    *pipeline.Runner
	Scheduler *scheduler.ResumeScheduler

	redis    *redis.Client
	notifier notify.Notifier
}

// NewApp 连接数据库、执行迁移并装配服务
func NewApp(cfg *config.Config) (*App, error) {
	db, err := openDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}
	return Assemble(cfg, db)
}

// openDatabase 初始化数据库连接
func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}
	slog.Info("数据库连接成功")

	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("数据库迁移失败: %w", err)
	}
	return db, nil
}

// Assemble 在已迁移的数据库上装配服务
func Assemble(cfg *config.Config, db *gorm.DB) (*App, error) {
	app := &App{Config: cfg, DB: db}

	var shared reference.Cache
	if cfg.Redis.Addr != "" {
		app.redis = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.redis.Ping(ctx).Err(); err != nil {
			// 缓存不可用不影响正确性
			slog.Warn("Redis连接失败，参照解析只使用批次内缓存", "addr", cfg.Redis.Addr, "error", err)
			app.redis.Close()
			app.redis = nil
		} else {
			shared = reference.NewRedisCache(app.redis, cfg.Redis.CacheTTL())
			slog.Info("Redis参照缓存已启用", "addr", cfg.Redis.Addr)
		}
	}

	router := ingest.Router{Local: ingest.LocalSource{}}
	ms, err := ingest.NewMinioSource(cfg.Minio)
	if err != nil {
		return nil, err
	}
	if ms != nil {
		router.Minio = ms
	}

	app.notifier = notify.New(cfg.Kafka.Brokers, cfg.Kafka.Topic)

	app.Ingest = ingest.NewService(db, router, batch.NewErrorRecorder(db), ingest.Options{
		SourceSystem: cfg.Pipeline.SourceSystem,
		ChunkSize:    cfg.Pipeline.ChunkSize,
	})
	app.Runner, err = pipeline.NewRunner(db, shared, app.notifier, pipeline.Options{
		SourceSystem:          cfg.Pipeline.SourceSystem,
		RuleVersion:           cfg.Pipeline.RuleVersion,
		ManagementCompanyCode: cfg.Pipeline.ManagementCompanyCode,
		ChunkSize:             cfg.Pipeline.ChunkSize,
		Lease:                 cfg.Pipeline.LeaseDuration(),
	})
	if err != nil {
		return nil, err
	}
	if cfg.Pipeline.ResumeCron != "" {
		app.Scheduler = scheduler.NewResumeScheduler(app.Runner, cfg.Pipeline.ResumeCron)
		if app.redis != nil {
			hostname, _ := os.Hostname()
			lock := distributed_lock.NewRedisLock(app.redis, fmt.Sprintf("%s:%d", hostname, os.Getpid()))
			app.Scheduler.UseLock(lock, cfg.Pipeline.LeaseDuration())
		}
	}

	slog.Info("服务初始化完成")
	return app, nil
}

// Close 释放外部连接
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			slog.Warn("关闭通知器失败", "error", err)
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		sqlDB.Close()
	}
}
