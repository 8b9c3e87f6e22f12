/*
 * @module service/upsert/engine
 * @description Upsert 引擎：每个商品一个事务，身份解析、主表差异更新、EAV 生命周期、管理实体保存点
 * @architecture 领域服务层 - 主数据合并
 * @stateFlow 校验商品代码 -> EnsureIdentity -> 锁定主表 -> 插入/差异更新 -> EAV 同步 -> 管理实体（保存点） -> 提交
 * @rules 单个商品的失败只回滚该商品；记录级错误在事务结束后写入 record_error；
 *        统计增量只在提交成功后合并
 * @dependencies gorm.io/gorm, catalog-hub/service/identity, catalog-hub/service/registry
 * @refs service/upsert/stage.go, service/batch/coordinator.go
 */

package upsert

import (
	"catalog-hub/service/batch"
	"catalog-hub/service/identity"
	"catalog-hub/service/meta"
	"catalog-hub/service/metrics"
	"catalog-hub/service/models"
	"catalog-hub/service/registry"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Options Upsert 配置
type Options struct {
	SourceSystem          string
	ManagementCompanyCode string // 为空时不维护管理实体
	ChunkSize             int
}

// ProductInput 一个逻辑商品：暂存记录及其通过质量检查的清洗属性
type ProductInput struct {
	TempRowID         int64
	LineNo            int
	CompanyCode       string
	SourceProductCode string
	ManagementCode    string
	Attributes        []models.CleansedAttribute
	RawFragment       string
}

// RecordRef 记录引用
func (in ProductInput) RecordRef() string {
	return fmt.Sprintf("temp_row_id=%d,line=%d,product=%s", in.TempRowID, in.LineNo, in.SourceProductCode)
}

// Engine Upsert 引擎，每个批次一个实例，商品之间顺序处理
type Engine struct {
	db       *gorm.DB
	snap     *registry.Snapshot
	identity *identity.Resolver
	recorder *batch.ErrorRecorder
	opts     Options

	refIDs map[string]int64
	warned map[string]bool
}

// NewEngine 创建 Upsert 引擎
func NewEngine(db *gorm.DB, snap *registry.Snapshot, resolver *identity.Resolver, recorder *batch.ErrorRecorder, opts Options) *Engine {
	return &Engine{
		db:       db,
		snap:     snap,
		identity: resolver,
		recorder: recorder,
		opts:     opts,
		refIDs:   make(map[string]int64),
		warned:   make(map[string]bool),
	}
}

// UpsertProduct 处理一个商品；记录级错误写入 record_error 后返回 nil，基础设施故障返回 error
func (e *Engine) UpsertProduct(ctx context.Context, run *models.BatchRun, in ProductInput, stats *batch.Stats) error {
	if strings.TrimSpace(in.SourceProductCode) == "" {
		stats.Upsert.Error++
		return e.record(ctx, run, in, &RecordError{Code: meta.ErrCodeMissingProductCode, Detail: "缺少源商品代码"})
	}
	if utf8.RuneCountInString(in.SourceProductCode) > meta.MaxCodeLength {
		stats.Upsert.Error++
		return e.record(ctx, run, in, &RecordError{
			Code:   meta.ErrCodeInvalidProductCode,
			Detail: fmt.Sprintf("源商品代码超过 %d 个字符", meta.MaxCodeLength),
		})
	}

	var (
		primary batch.UpsertStats
		mgmt    batch.UpsertStats
		mgmtErr error
	)
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		primary, mgmt, mgmtErr = batch.UpsertStats{}, batch.UpsertStats{}, nil

		gid, isNew, err := e.identity.EnsureIdentity(ctx, tx, in.CompanyCode, in.SourceProductCode)
		if err != nil {
			if errors.Is(err, identity.ErrConflict) {
				return &RecordError{Code: meta.ErrCodeIdentityConflict, Detail: err.Error()}
			}
			return err
		}
		if isNew {
			slog.Debug("新建商品身份", "batch_id", run.BatchID, "g_product_id", gid, "source_product_code", in.SourceProductCode)
		}

		if err := e.upsertMaster(tx, run, in, gid, &primary); err != nil {
			return err
		}
		desired := e.eavDesired(run, in.Attributes, func(d *models.AttributeDefinition) bool { return d.IsGoldenEAV })
		if err := syncEAV[models.ProductEAV](tx, "g_product_id", gid, desired, run.BatchID, &primary); err != nil {
			return err
		}

		if e.managementApplies(in) {
			// 保存点：管理实体失败只回滚自身
			mgmtErr = tx.Transaction(func(sp *gorm.DB) error {
				return e.upsertManagement(sp, run, in, &mgmt)
			})
		}
		return nil
	})

	if err != nil {
		stats.Upsert.Error++
		var rerr *RecordError
		if errors.As(err, &rerr) {
			return e.record(ctx, run, in, rerr)
		}
		slog.Error("商品 Upsert 失败", "batch_id", run.BatchID, "record_ref", in.RecordRef(), "error", err)
		if rec := e.record(ctx, run, in, &RecordError{Code: meta.ErrCodeUpsertFailed, Detail: err.Error()}); rec != nil {
			return rec
		}
		return err
	}

	primary.Products = 1
	stats.Upsert.Add(primary)
	observe(primary)

	if mgmtErr != nil {
		stats.Management.Error++
		slog.Warn("管理实体 Upsert 失败，主表已提交", "batch_id", run.BatchID, "management_code", in.ManagementCode, "error", mgmtErr)
		return e.record(ctx, run, in, &RecordError{Code: meta.ErrCodeManagementFailed, Detail: mgmtErr.Error()})
	}
	if e.managementApplies(in) {
		mgmt.Products = 1
		stats.Management.Add(mgmt)
	}
	return nil
}

func observe(st batch.UpsertStats) {
	metrics.UpsertOperations.WithLabelValues("insert").Add(float64(st.Insert))
	metrics.UpsertOperations.WithLabelValues("update").Add(float64(st.Update))
	metrics.UpsertOperations.WithLabelValues("skip").Add(float64(st.Skip))
	metrics.UpsertOperations.WithLabelValues("deactivate").Add(float64(st.Deactivate))
}

// record 事务结束后通过 db（而非 tx）写入错误
func (e *Engine) record(ctx context.Context, run *models.BatchRun, in ProductInput, rerr *RecordError) error {
	return e.recorder.Record(ctx, models.RecordError{
		BatchID:     run.BatchID,
		Step:        meta.StepUpsert,
		RecordRef:   in.RecordRef(),
		ErrorCode:   rerr.Code,
		ErrorDetail: rerr.Detail,
		RawFragment: in.RawFragment,
	})
}

func (e *Engine) provenance(run *models.BatchRun) models.JSONB {
	return models.JSONB{
		"source_system":   e.opts.SourceSystem,
		"profile":         run.Profile,
		"batch_id":        run.BatchID,
		"idempotency_key": run.IdempotencyKey,
	}
}

func (e *Engine) upsertMaster(tx *gorm.DB, run *models.BatchRun, in ProductInput, gid int64, st *batch.UpsertStats) error {
	desired, err := desiredColumns(e, tx, masterColumns, in.Attributes, func(d *models.AttributeDefinition) string {
		if d.IsGoldenMaster {
			return d.TargetColumn
		}
		return ""
	})
	if err != nil {
		return err
	}

	var rows []models.ProductMaster
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("g_product_id = ?", gid).Limit(1).Find(&rows).Error; err != nil {
		return fmt.Errorf("读取主表失败: %w", err)
	}

	if len(rows) == 0 {
		if _, ok := desired["g_category_id"]; !ok {
			return &RecordError{
				Code:   meta.ErrCodeCategoryNotFound,
				Detail: fmt.Sprintf("新商品 %s 缺少有效品类", in.SourceProductCode),
			}
		}
		m := &models.ProductMaster{
			GProductID:        gid,
			CompanyCode:       in.CompanyCode,
			SourceProductCode: in.SourceProductCode,
			GSalesStatusCd:    meta.StatusUnknown,
			GStockStatusCd:    meta.StatusUnknown,
			GPublishStatusCd:  meta.StatusUnknown,
			Provenance:        e.provenance(run),
			LastBatchID:       run.BatchID,
		}
		if err := insertRow(tx, masterColumns, m, desired, st); err != nil {
			return fmt.Errorf("新增主表失败: %w", err)
		}
		return nil
	}

	extra := map[string]interface{}{
		"provenance":    e.provenance(run),
		"last_batch_id": run.BatchID,
	}
	if err := updateRow(tx, masterColumns, &rows[0], desired, extra, st); err != nil {
		return fmt.Errorf("更新主表失败: %w", err)
	}
	return nil
}

func (e *Engine) managementApplies(in ProductInput) bool {
	return e.opts.ManagementCompanyCode != "" &&
		in.CompanyCode == e.opts.ManagementCompanyCode &&
		strings.TrimSpace(in.ManagementCode) != ""
}

func (e *Engine) upsertManagement(tx *gorm.DB, run *models.BatchRun, in ProductInput, st *batch.UpsertStats) error {
	desired, err := desiredColumns(e, tx, mgmtColumns, in.Attributes, func(d *models.AttributeDefinition) string {
		if d.IsMgmtMaster {
			return d.MgmtColumn
		}
		return ""
	})
	if err != nil {
		return err
	}

	row, found, err := lockManagement(tx, in.CompanyCode, in.ManagementCode)
	if err != nil {
		return err
	}
	if !found {
		m := &models.ProductManagement{
			CompanyCode:    in.CompanyCode,
			ManagementCode: in.ManagementCode,
			Provenance:     e.provenance(run),
			LastBatchID:    run.BatchID,
		}
		var created batch.UpsertStats
		err := tx.Transaction(func(sp *gorm.DB) error {
			return insertRow(sp, mgmtColumns, m, desired, &created)
		})
		switch {
		case err == nil:
			st.Add(created)
			row = m
		case errors.Is(err, gorm.ErrDuplicatedKey):
			// 并发创建，改为更新已存在的行
			if row, found, err = lockManagement(tx, in.CompanyCode, in.ManagementCode); err != nil {
				return err
			} else if !found {
				return fmt.Errorf("管理实体 %s 冲突后仍不存在", in.ManagementCode)
			}
			if err := updateRow(tx, mgmtColumns, row, desired, e.mgmtExtra(run), st); err != nil {
				return err
			}
		default:
			return fmt.Errorf("新增管理实体失败: %w", err)
		}
	} else if err := updateRow(tx, mgmtColumns, row, desired, e.mgmtExtra(run), st); err != nil {
		return fmt.Errorf("更新管理实体失败: %w", err)
	}

	eav := e.eavDesired(run, in.Attributes, func(d *models.AttributeDefinition) bool { return d.IsMgmtEAV })
	return syncEAV[models.ProductManagementEAV](tx, "mgmt_id", row.MgmtID, eav, run.BatchID, st)
}

func (e *Engine) mgmtExtra(run *models.BatchRun) map[string]interface{} {
	return map[string]interface{}{
		"provenance":    e.provenance(run),
		"last_batch_id": run.BatchID,
	}
}

func lockManagement(tx *gorm.DB, company, code string) (*models.ProductManagement, bool, error) {
	var rows []models.ProductManagement
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("company_code = ? AND management_code = ?", company, code).
		Limit(1).Find(&rows).Error; err != nil {
		return nil, false, fmt.Errorf("读取管理实体失败: %w", err)
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return &rows[0], true, nil
}

// desiredColumns 由清洗属性构建 列 -> 期望值；同一列取第一个（attr_code, attr_seq 排序）有值的属性
func desiredColumns[T any](e *Engine, tx *gorm.DB, cs columnSet[T], attrs []models.CleansedAttribute,
	target func(*models.AttributeDefinition) string) (map[string]Value, error) {

	desired := make(map[string]Value)
	for i := range attrs {
		a := &attrs[i]
		def, ok := e.snap.Definition(a.AttrCode)
		if !ok {
			continue
		}
		name := target(def)
		if name == "" {
			continue
		}
		col, ok := cs.lookup(name)
		if !ok {
			e.warnOnce("column:"+name, "属性目标列未登记，已忽略", "attr_code", a.AttrCode, "column", name)
			continue
		}
		if _, set := desired[name]; set {
			continue
		}

		var v Value
		if col.Kind == KindID {
			id, found, err := e.lookupRefID(tx, col.Ref, refCode(a))
			if err != nil {
				return nil, err
			}
			if found {
				v = IDValue(id)
			}
		} else {
			v = attrValue(a, col.Kind)
			if d, ok := v.(DecimalValue); ok && col.Scale > 0 {
				// 按列精度舍入后再比较
				v = DecimalValue{d.Decimal.Round(col.Scale)}
			}
		}
		if v != nil {
			desired[name] = v
		}
	}
	return desired, nil
}

func refCode(a *models.CleansedAttribute) string {
	if a.ValueCode != nil {
		return *a.ValueCode
	}
	if a.ValueText != nil {
		return *a.ValueText
	}
	return ""
}

// attrValue 按列类型规范化：金额统一为 decimal，日期统一为日历日
func attrValue(a *models.CleansedAttribute, kind Kind) Value {
	switch kind {
	case KindText:
		switch {
		case a.ValueCode != nil:
			return TextValue(*a.ValueCode)
		case a.ValueText != nil:
			return TextValue(*a.ValueText)
		case a.ValueNum.Valid:
			return TextValue(a.ValueNum.Decimal.String())
		case a.ValueDate != nil:
			return TextValue(a.ValueDate.Format(time.DateOnly))
		}
	case KindDecimal:
		if a.ValueNum.Valid {
			return DecimalValue{a.ValueNum.Decimal}
		}
		if s := refCode(a); s != "" {
			if d, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(s), ",", "")); err == nil {
				return DecimalValue{d}
			}
		}
	case KindDate:
		if a.ValueDate != nil {
			return DateValue{*a.ValueDate}
		}
		if s := refCode(a); s != "" {
			for _, layout := range []string{time.DateOnly, "2006/01/02"} {
				if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
					return DateValue{t}
				}
			}
		}
	}
	return nil
}

// lookupRefID 业务代码 -> 代理键，批次内缓存
func (e *Engine) lookupRefID(tx *gorm.DB, ref, code string) (int64, bool, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return 0, false, nil
	}
	key := ref + "|" + code
	if id, ok := e.refIDs[key]; ok {
		return id, id != 0, nil
	}

	var ids []int64
	var err error
	switch ref {
	case refBrand:
		err = tx.Model(&models.Brand{}).Where("brand_code = ?", code).Limit(1).Pluck("brand_id", &ids).Error
	case refCategory:
		err = tx.Model(&models.Category{}).Where("category_code = ?", code).Limit(1).Pluck("category_id", &ids).Error
	default:
		return 0, false, fmt.Errorf("未知参照表 %q", ref)
	}
	if err != nil {
		return 0, false, fmt.Errorf("查询%s代理键失败: %w", ref, err)
	}

	var id int64
	if len(ids) > 0 {
		id = ids[0]
	}
	e.refIDs[key] = id
	return id, id != 0, nil
}

func (e *Engine) eavDesired(run *models.BatchRun, attrs []models.CleansedAttribute, include func(*models.AttributeDefinition) bool) []eavValue {
	var out []eavValue
	for i := range attrs {
		a := &attrs[i]
		def, ok := e.snap.Definition(a.AttrCode)
		if !ok || !include(def) || a.IsEmpty() {
			continue
		}
		prov := stableProvenance(a.Provenance)
		prov["batch_id"] = run.BatchID
		prov["idempotency_key"] = run.IdempotencyKey
		out = append(out, eavValue{
			AttrCode:   a.AttrCode,
			AttrSeq:    a.AttrSeq,
			DataType:   a.DataType,
			Text:       a.ValueText,
			Num:        a.ValueNum,
			Date:       a.ValueDate,
			Code:       a.ValueCode,
			Unit:       def.Unit,
			Quality:    a.QualityStatus,
			Provenance: prov,
		})
	}
	return out
}

func (e *Engine) warnOnce(key, msg string, args ...interface{}) {
	if e.warned[key] {
		return
	}
	e.warned[key] = true
	slog.Warn(msg, args...)
}
