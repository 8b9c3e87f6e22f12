/*
 * @module service/cleansing/engine
 * @description 清洗引擎：对每个暂存属性依次执行 策略链 -> 类型转换 -> 参照解析 -> 质量判定 -> 明细与血缘
 * @architecture 领域服务层 - 属性级状态机
 * @stateFlow 策略 -> 转换 -> 解析（LIST/REF） -> OK / WARN / NG
 * @rules 数据问题只体现在 quality_status 与 quality_detail 中，不返回错误；
 *        只有基础设施故障（如数据库不可用）返回 error
 * @dependencies catalog-hub/service/reference, catalog-hub/service/registry
 * @refs service/cleansing/stage.go
 */

package cleansing

import (
	"catalog-hub/service/meta"
	"catalog-hub/service/models"
	"catalog-hub/service/reference"
	"catalog-hub/service/registry"
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// EngineOptions 写入血缘的批次上下文
type EngineOptions struct {
	BatchID        string
	SourceSystem   string
	Profile        string
	IdempotencyKey string
	RuleVersion    string // 策略链未给出版本时使用
}

// QualityDetail 质量明细
type QualityDetail struct {
	Issues     []Issue  `json:"issues,omitempty"`
	Policies   []string `json:"policies,omitempty"`
	Dictionary string   `json:"dictionary,omitempty"`
	MatchMode  string   `json:"match_mode,omitempty"`
	Resolution string   `json:"resolution,omitempty"`
}

// Engine 清洗引擎，每个批次一个实例
type Engine struct {
	snap     *registry.Snapshot
	resolver *reference.Resolver
	opts     EngineOptions
	warned   sync.Map
}

// NewEngine 创建清洗引擎
func NewEngine(snap *registry.Snapshot, resolver *reference.Resolver, opts EngineOptions) *Engine {
	return &Engine{snap: snap, resolver: resolver, opts: opts}
}

// ProcessAttribute 清洗单个属性
func (e *Engine) ProcessAttribute(ctx context.Context, a StagedAttribute, chain registry.PolicyChain) (*models.CleansedAttribute, error) {
	w := &workValue{ID: a.SourceID, Label: a.SourceLabel, Required: a.IsRequired}
	for _, p := range chain {
		applyPolicy(w, p)
	}

	ruleVersion := chain.RuleVersion()
	if ruleVersion == "" {
		ruleVersion = e.opts.RuleVersion
	}

	out := &models.CleansedAttribute{
		BatchID:     a.BatchID,
		TempRowID:   a.TempRowID,
		AttrCode:    a.AttrCode,
		AttrSeq:     a.AttrSeq,
		DataType:    a.DataType,
		SourceID:    a.SourceID,
		SourceLabel: a.SourceLabel,
		SourceRaw:   a.SourceRaw,
		RuleVersion: ruleVersion,
	}
	detail := QualityDetail{Policies: chain.Functions()}

	status, err := e.evaluate(ctx, a, w, out, &detail)
	if err != nil {
		return nil, err
	}
	detail.Issues = w.Issues
	out.QualityStatus = status

	if out.QualityDetail, err = models.ToJSONB(detail); err != nil {
		return nil, err
	}
	out.Provenance = models.JSONB{
		"source_system":   e.opts.SourceSystem,
		"profile":         e.opts.Profile,
		"idempotency_key": e.opts.IdempotencyKey,
		"batch_id":        a.BatchID,
		"temp_row_id":     a.TempRowID,
		"line_no":         a.LineNo,
		"rule_version":    ruleVersion,
	}
	if detail.Dictionary != "" {
		out.Provenance["dictionary"] = detail.Dictionary
		out.Provenance["match_mode"] = detail.MatchMode
		if m, ok := e.snap.Mapping(detail.Dictionary); ok {
			out.Provenance["lineage"] = m.Lineage()
		}
	}
	return out, nil
}

// evaluate 类型转换、解析并给出质量状态
func (e *Engine) evaluate(ctx context.Context, a StagedAttribute, w *workValue, out *models.CleansedAttribute, detail *QualityDetail) (string, error) {
	if w.blank() {
		if w.Required {
			w.addIssue(meta.IssueMissingRequired, "", "必填值为空")
			return meta.QualityNG, nil
		}
		// 非必填空值：值列全部为空，Upsert 视为缺省
		return meta.QualityOK, nil
	}
	if w.Invalid {
		return failVerdict(w), nil
	}

	value := strings.TrimSpace(w.primary())
	switch a.DataType {
	case meta.DataTypeText:
		out.ValueText = &value
		return meta.QualityOK, nil

	case meta.DataTypeNum:
		d, err := parseDecimal(value)
		if err != nil {
			w.addIssue(meta.IssueCastFailed, "", "无法转换为数值: %q", value)
			return failVerdict(w), nil
		}
		out.ValueNum = decimal.NullDecimal{Decimal: d, Valid: true}
		return meta.QualityOK, nil

	case meta.DataTypeDate:
		t, err := castDate(value, w.DateLayouts)
		if err != nil {
			w.addIssue(meta.IssueCastFailed, "", "无法转换为日期: %q", value)
			return failVerdict(w), nil
		}
		out.ValueDate = &t
		return meta.QualityOK, nil

	case meta.DataTypeList, meta.DataTypeRef:
		return e.resolve(ctx, a, w, out, detail)
	}

	w.addIssue(meta.IssueCastFailed, "", "未知数据类型 %s", a.DataType)
	return failVerdict(w), nil
}

func (e *Engine) resolve(ctx context.Context, a StagedAttribute, w *workValue, out *models.CleansedAttribute, detail *QualityDetail) (string, error) {
	code := ""
	if a.Definition != nil {
		code = a.Definition.RefMappingCode
	}
	detail.Dictionary = code

	var res reference.Result
	mapping, ok := e.snap.Mapping(code)
	if !ok {
		e.warnOnce(code, a.AttrCode)
		w.addIssue(meta.IssueRefMappingMissing, "", "参照映射 %q 不存在或配置无效", code)
		res = reference.Result{Reason: reference.ReasonMappingMissing}
	} else {
		m := *mapping
		if w.MatchMode != "" {
			m.MatchMode = w.MatchMode
		}
		detail.MatchMode = m.MatchMode

		var err error
		res, err = e.resolver.Resolve(ctx, &m, w.ID, w.Label)
		if err != nil {
			return "", err
		}
	}
	detail.Resolution = res.Reason

	if res.Found {
		out.ValueCode = &res.Code
		label := res.Label
		if label == "" {
			label = strings.TrimSpace(w.Label)
		}
		if label != "" {
			out.ValueLabel = &label
		}
		return meta.QualityOK, nil
	}

	if ok {
		w.addIssue(meta.IssueRefUnresolved, "", "参照未解析: id=%q label=%q (%s)", w.ID, w.Label, res.Reason)
	}
	if w.RawFallback {
		raw := rawValue(w.ID, w.Label)
		out.ValueText = &raw
		w.addIssue(meta.IssueRawFallback, "RAW_FALLBACK", "保留原始值")
		return meta.QualityWarn, nil
	}
	return failVerdict(w), nil
}

// failVerdict 转换、校验或解析失败：必填为 NG，否则 WARN 且值为空
func failVerdict(w *workValue) string {
	if w.Required {
		return meta.QualityNG
	}
	return meta.QualityWarn
}

func (e *Engine) warnOnce(mappingCode, attrCode string) {
	if _, loaded := e.warned.LoadOrStore(mappingCode, struct{}{}); loaded {
		return
	}
	slog.Warn("参照映射缺失或无效，属性按未解析处理",
		"batch_id", e.opts.BatchID,
		"mapping_code", mappingCode,
		"attr_code", attrCode)
}
