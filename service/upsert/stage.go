package upsert

import (
	"catalog-hub/service/batch"
	"catalog-hub/service/identity"
	"catalog-hub/service/meta"
	"catalog-hub/service/metrics"
	"catalog-hub/service/models"
	"catalog-hub/service/reference"
	"catalog-hub/service/registry"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Checkpointer 检查点写入者
type Checkpointer interface {
	Checkpoint(ctx context.Context, run *models.BatchRun, stats *batch.Stats) error
}

// Stage Upsert 阶段：按暂存记录分块，每条记录对应一个商品事务
type Stage struct {
	db         *gorm.DB
	allow      *reference.AllowList
	recorder   *batch.ErrorRecorder
	checkpoint Checkpointer
	opts       Options
}

// NewStage 创建 Upsert 阶段
func NewStage(db *gorm.DB, allow *reference.AllowList, recorder *batch.ErrorRecorder, checkpoint Checkpointer, opts Options) *Stage {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 500
	}
	return &Stage{db: db, allow: allow, recorder: recorder, checkpoint: checkpoint, opts: opts}
}

// Run 执行 Upsert 阶段；记录级错误不会中断，数据库不可用时立即返回
func (s *Stage) Run(ctx context.Context, run *models.BatchRun, stats *batch.Stats) error {
	defer metrics.ObserveStage(meta.StepUpsert, time.Now())

	snap, err := registry.Load(ctx, s.db, run.DataKind, s.allow)
	if err != nil {
		return err
	}
	engine := NewEngine(s.db, snap, identity.NewResolver(), s.recorder, s.opts)

	us := stats.BeginUpsert()
	var lastID int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var recs []models.StagedRecord
		if err := s.db.WithContext(ctx).
			Where("batch_id = ? AND temp_row_id > ?", run.BatchID, lastID).
			Order("temp_row_id").
			Limit(s.opts.ChunkSize).
			Find(&recs).Error; err != nil {
			return fmt.Errorf("读取暂存记录失败: %w", err)
		}
		if len(recs) == 0 {
			break
		}
		lastID = recs[len(recs)-1].TempRowID

		inputs, err := s.loadInputs(ctx, run, recs)
		if err != nil {
			return err
		}
		for _, in := range inputs {
			if err := engine.UpsertProduct(ctx, run, in, stats); err != nil {
				if ferr := s.fatal(ctx, err); ferr != nil {
					return ferr
				}
			}
		}

		if err := s.checkpoint.Checkpoint(ctx, run, stats); err != nil {
			return err
		}
	}

	slog.Info("Upsert 阶段完成",
		"batch_id", run.BatchID,
		"products", us.Products,
		"insert", us.Insert,
		"update", us.Update,
		"skip", us.Skip,
		"reactivate", us.Reactivate,
		"deactivate", us.Deactivate,
		"error", us.Error)
	return nil
}

// fatal 区分单个商品的失败与基础设施故障：上下文取消或数据库不可达时中止阶段
func (s *Stage) fatal(ctx context.Context, cause error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("数据库不可用: %w (原因: %v)", err, cause)
	}
	slog.Warn("商品 Upsert 失败，继续处理后续商品", "error", cause)
	return nil
}

// loadInputs 读取本块记录通过质量检查的清洗属性，组装商品输入
func (s *Stage) loadInputs(ctx context.Context, run *models.BatchRun, recs []models.StagedRecord) ([]ProductInput, error) {
	ids := make([]int64, len(recs))
	for i := range recs {
		ids[i] = recs[i].TempRowID
	}

	var attrs []models.CleansedAttribute
	if err := s.db.WithContext(ctx).
		Where("batch_id = ? AND temp_row_id IN ? AND quality_status IN ?",
			run.BatchID, ids, []string{meta.QualityOK, meta.QualityWarn}).
		Order("temp_row_id, attr_code, attr_seq").
		Find(&attrs).Error; err != nil {
		return nil, fmt.Errorf("读取清洗属性失败: %w", err)
	}

	byRow := make(map[int64][]models.CleansedAttribute, len(recs))
	for _, a := range attrs {
		byRow[a.TempRowID] = append(byRow[a.TempRowID], a)
	}

	inputs := make([]ProductInput, 0, len(recs))
	for i := range recs {
		rec := &recs[i]
		rowAttrs := byRow[rec.TempRowID]
		company := rec.CompanyCode
		if company == "" {
			company = run.CompanyCode
		}
		inputs = append(inputs, ProductInput{
			TempRowID:         rec.TempRowID,
			LineNo:            rec.LineNo,
			CompanyCode:       company,
			SourceProductCode: codeOf(rowAttrs, meta.AttrProductCode),
			ManagementCode:    codeOf(rowAttrs, meta.AttrManagementCode),
			Attributes:        rowAttrs,
			RawFragment:       string(rec.SourcePayload),
		})
	}
	return inputs, nil
}

// codeOf 取通过质量检查的代码属性；NG 的代码不会出现在 attrs 中
func codeOf(attrs []models.CleansedAttribute, attrCode string) string {
	for i := range attrs {
		if attrs[i].AttrCode != attrCode {
			continue
		}
		if v := strings.TrimSpace(refCode(&attrs[i])); v != "" {
			return v
		}
	}
	return ""
}
