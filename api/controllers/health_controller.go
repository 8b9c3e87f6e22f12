/*
 * @module api/controllers/health_controller
 * @description 健康检查控制器，提供存活与就绪检查
 * @architecture MVC架构 - 控制器层
 * @stateFlow HTTP请求处理流程
 * @rules 就绪检查需要数据库可达
 * @dependencies net/http, gorm.io/gorm
 * @refs api/routes.go
 */

package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/render"
	"gorm.io/gorm"
)

const serviceName = "catalog-hub"

// HealthController 健康检查控制器
type HealthController struct {
	db *gorm.DB
}

// NewHealthController 创建健康检查控制器实例
func NewHealthController(db *gorm.DB) *HealthController {
	return &HealthController{db: db}
}

// HealthResponse 健康检查响应结构
type HealthResponse struct {
	Status    string    `json:"status" example:"ok"`
	Timestamp time.Time `json:"timestamp" example:"2024-01-01T00:00:00Z"`
	Version   string    `json:"version" example:"1.0.0"`
	Service   string    `json:"service" example:"catalog-hub"`
}

// Health 健康检查
func (c *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   "1.0.0",
		Service:   serviceName,
	})
}

// Ready 就绪检查
func (c *HealthController) Ready(w http.ResponseWriter, r *http.Request) {
	status := "ready"
	if err := c.ping(r.Context()); err != nil {
		status = "unavailable"
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Version:   "1.0.0",
		Service:   serviceName,
	})
}

func (c *HealthController) ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
