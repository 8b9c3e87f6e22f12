/*
 * @module api/routes
 * @description API路由配置模块，负责初始化和配置所有HTTP路由
 * @architecture RESTful API架构
 * @stateFlow 无状态HTTP请求处理
 * @rules 遵循RESTful API设计规范，统一错误处理和响应格式
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/cors, github.com/go-chi/render
 * @refs api/controllers/batch_controller.go
 */

package api

import (
	"catalog-hub/api/controllers"
	"catalog-hub/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
)

// InitRoute 初始化所有API路由
func InitRoute(r chi.Router, app *service.App) {
	// 基础中间件
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	// CORS配置
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// 健康检查
	healthController := controllers.NewHealthController(app.DB)
	r.Get("/health", healthController.Health)
	r.Get("/ready", healthController.Ready)

	// 批次管理
	r.Route("/batches", func(r chi.Router) {
		batchController := controllers.NewBatchController(app.DB, app.Ingest, app.Runner)
		r.Post("/ingest", batchController.Ingest)
		r.Get("/", batchController.ListBatches)
		r.Get("/{id}", batchController.GetBatch)
		r.Get("/{id}/errors", batchController.ListErrors)
		r.Post("/{id}/run", batchController.RunBatch)
		r.Post("/{id}/rerun", batchController.RerunBatch)
	})
}
