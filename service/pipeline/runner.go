/*
 * @module service/pipeline/runner
 * @description 批次执行器：认领批次 -> 清洗 -> Upsert（仅 PRODUCT）-> 终态 -> 通知
 * @architecture 应用服务层 - 流程编排
 * @stateFlow Claim -> Cleanse -> Upsert -> Finalize -> Notify
 * @rules 统计累加器显式贯穿各阶段；阶段失败时批次以 FAILED 结束并写入 record_error；
 *        EVENT 批次只执行到清洗阶段
 * @dependencies catalog-hub/service/batch, catalog-hub/service/cleansing, catalog-hub/service/upsert
 * @refs service/scheduler/resume.go, api/controllers/batch_controller.go
 */

package pipeline

import (
	"catalog-hub/service/batch"
	"catalog-hub/service/cleansing"
	"catalog-hub/service/meta"
	"catalog-hub/service/models"
	"catalog-hub/service/notify"
	"catalog-hub/service/reference"
	"catalog-hub/service/upsert"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gorm.io/gorm"
)

// ErrNotClaimable 批次不存在、已结束或正被其他执行者处理
var ErrNotClaimable = errors.New("批次当前不可执行")

// Options 执行器配置
type Options struct {
	SourceSystem          string
	RuleVersion           string
	ManagementCompanyCode string
	ChunkSize             int
	Lease                 time.Duration
}

// Result 一次执行的结果
type Result struct {
	BatchID string       `json:"batch_id"`
	Status  string       `json:"status"`
	Stats   *batch.Stats `json:"stats"`
}

// Runner 批次执行器
type Runner struct {
	coordinator *batch.Coordinator
	recorder    *batch.ErrorRecorder
	cleanse     *cleansing.Stage
	upsert      *upsert.Stage
	notifier    notify.Notifier
	owner       string
}

// NewRunner 创建批次执行器；shared 为参照解析二级缓存，可为 nil
func NewRunner(db *gorm.DB, shared reference.Cache, notifier notify.Notifier, opts Options) (*Runner, error) {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	allow, err := reference.NewAllowList(reference.ReferenceModels...)
	if err != nil {
		return nil, err
	}
	coordinator := batch.NewCoordinator(db, opts.Lease)
	recorder := batch.NewErrorRecorder(db)

	// 执行者标识：主机名+进程ID
	hostname, _ := os.Hostname()

	return &Runner{
		coordinator: coordinator,
		recorder:    recorder,
		cleanse: cleansing.NewStage(db, allow, shared, coordinator, recorder, cleansing.Options{
			SourceSystem: opts.SourceSystem,
			RuleVersion:  opts.RuleVersion,
			ChunkSize:    opts.ChunkSize,
		}),
		upsert: upsert.NewStage(db, allow, recorder, coordinator, upsert.Options{
			SourceSystem:          opts.SourceSystem,
			ManagementCompanyCode: opts.ManagementCompanyCode,
			ChunkSize:             opts.ChunkSize,
		}),
		notifier: notifier,
		owner:    fmt.Sprintf("%s:%d", hostname, os.Getpid()),
	}, nil
}

// Coordinator 批次协调器
func (r *Runner) Coordinator() *batch.Coordinator {
	return r.coordinator
}

// Run 执行指定批次
func (r *Runner) Run(ctx context.Context, batchID string) (*Result, error) {
	run, err := r.coordinator.Claim(ctx, batchID, r.owner)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrNotClaimable
	}
	return r.execute(ctx, run)
}

// Rerun 重开已结束的批次并重新执行；清洗与 Upsert 均可重复执行
func (r *Runner) Rerun(ctx context.Context, batchID string) (*Result, error) {
	if err := r.coordinator.Reopen(ctx, batchID); err != nil {
		return nil, err
	}
	return r.Run(ctx, batchID)
}

// RunNext 认领并执行任意一个可续跑的批次；没有可执行批次时返回 nil, nil
func (r *Runner) RunNext(ctx context.Context) (*Result, error) {
	run, err := r.coordinator.ClaimNext(ctx, r.owner)
	if err != nil || run == nil {
		return nil, err
	}
	return r.execute(ctx, run)
}

func (r *Runner) execute(ctx context.Context, run *models.BatchRun) (*Result, error) {
	slog.Info("开始执行批次", "batch_id", run.BatchID, "data_kind", run.DataKind, "owner", r.owner)

	// 沿用导入阶段统计，本次运行的阶段覆盖旧值
	stats := batch.DecodeStats(run.Counts)

	fatal := r.stages(ctx, run, stats)
	if errors.Is(fatal, batch.ErrLeaseLost) {
		slog.Warn("批次租约已被接管，放弃本次执行", "batch_id", run.BatchID)
		return nil, fatal
	}

	// 取消后仍需写回终态
	finCtx := context.WithoutCancel(ctx)
	status, err := r.coordinator.Finalize(finCtx, run, stats, fatal)
	if err != nil {
		return nil, err
	}

	if err := r.notifier.BatchFinalized(finCtx, notify.Event{
		BatchID:     run.BatchID,
		CompanyCode: run.CompanyCode,
		DataKind:    run.DataKind,
		Status:      status,
		Counts:      run.Counts,
		FinishedAt:  time.Now().UTC(),
	}); err != nil {
		slog.Warn("批次完成通知失败", "batch_id", run.BatchID, "error", err)
	}

	return &Result{BatchID: run.BatchID, Status: status, Stats: stats}, nil
}

// stages 依次执行各阶段，返回致命错误
func (r *Runner) stages(ctx context.Context, run *models.BatchRun, stats *batch.Stats) error {
	if err := r.cleanse.Run(ctx, run, stats); err != nil {
		return r.stageFailed(ctx, run, meta.StepCleanse, err)
	}
	if run.DataKind != meta.DataKindProduct {
		return nil
	}
	if err := r.upsert.Run(ctx, run, stats); err != nil {
		return r.stageFailed(ctx, run, meta.StepUpsert, err)
	}
	return nil
}

func (r *Runner) stageFailed(ctx context.Context, run *models.BatchRun, step string, err error) error {
	if errors.Is(err, batch.ErrLeaseLost) {
		return err
	}
	slog.Error("批次阶段失败", "batch_id", run.BatchID, "step", step, "error", err)

	code := meta.ErrCodeCleanseStageFailed
	if step == meta.StepUpsert {
		code = meta.ErrCodeUpsertFailed
	}
	if rerr := r.recorder.Record(context.WithoutCancel(ctx), models.RecordError{
		BatchID:     run.BatchID,
		Step:        step,
		RecordRef:   run.BatchID,
		ErrorCode:   code,
		ErrorDetail: err.Error(),
	}); rerr != nil {
		slog.Error("写入阶段错误失败", "batch_id", run.BatchID, "error", rerr)
	}
	return err
}
