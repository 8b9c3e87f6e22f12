package cleansing

import (
	"catalog-hub/service/batch"
	"catalog-hub/service/meta"
	"catalog-hub/service/metrics"
	"catalog-hub/service/models"
	"catalog-hub/service/reference"
	"catalog-hub/service/registry"
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Checkpointer 检查点写入者（批次协调器）
type Checkpointer interface {
	Checkpoint(ctx context.Context, run *models.BatchRun, stats *batch.Stats) error
}

// Options 清洗阶段配置
type Options struct {
	SourceSystem string
	RuleVersion  string
	ChunkSize    int
}

// Stage 清洗阶段：分块读取暂存记录，批量 upsert 清洗属性，每块写一次检查点
type Stage struct {
	db         *gorm.DB
	allow      *reference.AllowList
	shared     reference.Cache
	checkpoint Checkpointer
	recorder   *batch.ErrorRecorder
	opts       Options
}

// NewStage 创建清洗阶段；shared 为跨批次二级缓存，可为 nil
func NewStage(db *gorm.DB, allow *reference.AllowList, shared reference.Cache, checkpoint Checkpointer, recorder *batch.ErrorRecorder, opts Options) *Stage {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 500
	}
	return &Stage{
		db:         db,
		allow:      allow,
		shared:     shared,
		checkpoint: checkpoint,
		recorder:   recorder,
		opts:       opts,
	}
}

// 冲突时更新的列
var cleansedUpdateColumns = []string{
	"data_type", "source_id", "source_label", "source_raw",
	"value_text", "value_num", "value_date", "value_code", "value_label",
	"quality_status", "quality_detail", "provenance", "rule_version", "updated_at",
}

// Run 执行清洗阶段
func (s *Stage) Run(ctx context.Context, run *models.BatchRun, stats *batch.Stats) error {
	defer metrics.ObserveStage(meta.StepCleanse, time.Now())

	snap, err := registry.Load(ctx, s.db, run.DataKind, s.allow)
	if err != nil {
		return err
	}
	var caches []reference.Cache
	caches = append(caches, reference.NewMemoryCache())
	if s.shared != nil {
		caches = append(caches, reference.HitsOnly(s.shared))
	}
	engine := NewEngine(snap, reference.NewResolver(s.db, caches...), EngineOptions{
		BatchID:        run.BatchID,
		SourceSystem:   s.opts.SourceSystem,
		Profile:        run.Profile,
		IdempotencyKey: run.IdempotencyKey,
		RuleVersion:    s.opts.RuleVersion,
	})

	cs := stats.BeginCleanse()
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

		rows, err := s.processChunk(ctx, run, snap, engine, recs, cs)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "batch_id"}, {Name: "temp_row_id"}, {Name: "attr_code"}, {Name: "attr_seq"},
				},
				DoUpdates: clause.AssignmentColumns(cleansedUpdateColumns),
			}).CreateInBatches(rows, 200).Error; err != nil {
				return fmt.Errorf("写入清洗属性失败: %w", err)
			}
		}

		if err := s.checkpoint.Checkpoint(ctx, run, stats); err != nil {
			return err
		}
		slog.Debug("清洗分块完成", "batch_id", run.BatchID, "records", len(recs), "attributes", len(rows))
	}

	slog.Info("清洗阶段完成",
		"batch_id", run.BatchID,
		"read", cs.Read,
		"ok", cs.OK,
		"warn", cs.Warn,
		"ng", cs.NG,
		"config_skip", cs.ConfigSkip)
	return nil
}

func (s *Stage) processChunk(ctx context.Context, run *models.BatchRun, snap *registry.Snapshot, engine *Engine,
	recs []models.StagedRecord, cs *batch.CleanseStats) ([]models.CleansedAttribute, error) {

	rows := make([]models.CleansedAttribute, 0, len(recs)*8)
	for i := range recs {
		rec := &recs[i]
		attrs, issues, err := Extract(rec, snap)
		if err != nil {
			// 载荷损坏只影响本记录
			if rerr := s.recorder.Record(ctx, models.RecordError{
				BatchID:     run.BatchID,
				Step:        meta.StepCleanse,
				RecordRef:   fmt.Sprintf("%d", rec.TempRowID),
				ErrorCode:   meta.ErrCodePayloadInvalid,
				ErrorDetail: err.Error(),
				RawFragment: string(rec.SourcePayload),
			}); rerr != nil {
				return nil, rerr
			}
			continue
		}
		for _, issue := range issues {
			cs.ConfigSkip++
			slog.Warn("属性配置缺失，已跳过",
				"batch_id", run.BatchID,
				"temp_row_id", rec.TempRowID,
				"attr_code", issue.AttrCode,
				"reason", issue.Reason)
		}

		for _, a := range attrs {
			chain := snap.PolicyChain(a.AttrCode, a.CompanyCode, a.BrandCode, a.CategoryCode)
			out, err := engine.ProcessAttribute(ctx, a, chain)
			if err != nil {
				return nil, fmt.Errorf("清洗属性失败 [%s]: %w", a.RecordRef(), err)
			}
			cs.Count(out.QualityStatus)
			metrics.CleansedAttributes.WithLabelValues(out.QualityStatus).Inc()
			rows = append(rows, *out)
		}
	}
	return rows, nil
}
