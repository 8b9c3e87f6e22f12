/*
 * @module api/controllers/batch_controller
 * @description 批次控制器：导入源文件、查询批次与记录级错误、触发执行与重跑
 * @architecture 分层架构 - 控制器层
 * @stateFlow HTTP请求 -> 参数验证 -> 服务调用 -> 响应返回
 * @rules 导入幂等：相同内容返回已有批次；执行与重跑同步返回终态
 * @dependencies catalog-hub/service/ingest, catalog-hub/service/pipeline
 * @refs api/routes.go
 */

package controllers

import (
	"catalog-hub/service/batch"
	"catalog-hub/service/ingest"
	"catalog-hub/service/meta"
	"catalog-hub/service/models"
	"catalog-hub/service/pipeline"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"gorm.io/gorm"
)

// Ingester 导入服务接口
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (*models.BatchRun, bool, error)
}

// Executor 批次执行接口
type Executor interface {
	Run(ctx context.Context, batchID string) (*pipeline.Result, error)
	Rerun(ctx context.Context, batchID string) (*pipeline.Result, error)
}

// BatchController 批次控制器
type BatchController struct {
	db       *gorm.DB
	ingester Ingester
	executor Executor
}

// NewBatchController 创建批次控制器
func NewBatchController(db *gorm.DB, ingester Ingester, executor Executor) *BatchController {
	return &BatchController{db: db, ingester: ingester, executor: executor}
}

// IngestResponse 导入响应
type IngestResponse struct {
	Batch     *models.BatchRun `json:"batch"`
	Duplicate bool             `json:"duplicate"`
}

// Ingest 导入源文件并创建批次
func (c *BatchController) Ingest(w http.ResponseWriter, r *http.Request) {
	var req ingest.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.JSON(w, r, BadRequestResponse("请求参数解析失败", err))
		return
	}
	if req.DataKind != "" && !meta.IsValidDataKind(req.DataKind) {
		render.JSON(w, r, BadRequestResponse("无效的数据种类", nil))
		return
	}

	run, duplicate, err := c.ingester.Ingest(r.Context(), req)
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("导入失败", err))
		return
	}
	msg := "导入成功"
	if duplicate {
		msg = "源文件已导入"
	}
	render.JSON(w, r, SuccessResponse(msg, IngestResponse{Batch: run, Duplicate: duplicate}))
}

// ListBatches 分页查询批次
func (c *BatchController) ListBatches(w http.ResponseWriter, r *http.Request) {
	page, size := pageParams(r)
	query := c.db.WithContext(r.Context()).Model(&models.BatchRun{})
	if status := r.URL.Query().Get("status"); status != "" {
		if !meta.IsValidBatchStatus(status) {
			render.JSON(w, r, BadRequestResponse("无效的批次状态", nil))
			return
		}
		query = query.Where("status = ?", status)
	}
	if company := r.URL.Query().Get("company_code"); company != "" {
		query = query.Where("company_code = ?", company)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		render.JSON(w, r, InternalErrorResponse("查询批次失败", err))
		return
	}
	var runs []models.BatchRun
	if err := query.Order("created_at DESC").Offset((page - 1) * size).Limit(size).Find(&runs).Error; err != nil {
		render.JSON(w, r, InternalErrorResponse("查询批次失败", err))
		return
	}
	render.JSON(w, r, &PaginatedResponse{Status: StatusOK, Msg: "查询成功", Data: runs, Total: total, Page: page, Size: size})
}

// GetBatch 查询批次详情
func (c *BatchController) GetBatch(w http.ResponseWriter, r *http.Request) {
	var run models.BatchRun
	err := c.db.WithContext(r.Context()).Where("batch_id = ?", chi.URLParam(r, "id")).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		render.JSON(w, r, NotFoundResponse("批次不存在", nil))
		return
	}
	if err != nil {
		render.JSON(w, r, InternalErrorResponse("查询批次失败", err))
		return
	}
	render.JSON(w, r, SuccessResponse("查询成功", run))
}

// ListErrors 查询批次的记录级错误
func (c *BatchController) ListErrors(w http.ResponseWriter, r *http.Request) {
	page, size := pageParams(r)
	query := c.db.WithContext(r.Context()).Model(&models.RecordError{}).Where("batch_id = ?", chi.URLParam(r, "id"))
	if step := r.URL.Query().Get("step"); step != "" {
		query = query.Where("step = ?", step)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		render.JSON(w, r, InternalErrorResponse("查询错误记录失败", err))
		return
	}
	var rows []models.RecordError
	if err := query.Order("created_at, id").Offset((page - 1) * size).Limit(size).Find(&rows).Error; err != nil {
		render.JSON(w, r, InternalErrorResponse("查询错误记录失败", err))
		return
	}
	render.JSON(w, r, &PaginatedResponse{Status: StatusOK, Msg: "查询成功", Data: rows, Total: total, Page: page, Size: size})
}

// RunBatch 执行批次
func (c *BatchController) RunBatch(w http.ResponseWriter, r *http.Request) {
	res, err := c.executor.Run(r.Context(), chi.URLParam(r, "id"))
	c.renderResult(w, r, res, err)
}

// RerunBatch 重开并重新执行已结束的批次
func (c *BatchController) RerunBatch(w http.ResponseWriter, r *http.Request) {
	res, err := c.executor.Rerun(r.Context(), chi.URLParam(r, "id"))
	c.renderResult(w, r, res, err)
}

func (c *BatchController) renderResult(w http.ResponseWriter, r *http.Request, res *pipeline.Result, err error) {
	switch {
	case err == nil:
		render.JSON(w, r, SuccessResponse("执行完成", res))
	case errors.Is(err, pipeline.ErrNotClaimable), errors.Is(err, batch.ErrNotReopenable), errors.Is(err, batch.ErrLeaseLost):
		render.JSON(w, r, ConflictResponse("批次当前不可执行", err))
	default:
		render.JSON(w, r, InternalErrorResponse("执行批次失败", err))
	}
}

func pageParams(r *http.Request) (int, int) {
	page, size := 1, 20
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if s, err := strconv.Atoi(r.URL.Query().Get("size")); err == nil && s > 0 && s <= 100 {
		size = s
	}
	return page, size
}
