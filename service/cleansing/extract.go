package cleansing

import (
	"catalog-hub/service/meta"
	"catalog-hub/service/models"
	"catalog-hub/service/registry"
	"fmt"
	"strings"
)

// StagedAttribute 从暂存记录抽取出的 EAV 形态中间属性
type StagedAttribute struct {
	BatchID      string
	TempRowID    int64
	LineNo       int
	CompanyCode  string
	BrandCode    string
	CategoryCode string

	AttrCode    string
	AttrSeq     int
	DataType    string
	SourceID    string
	SourceLabel string
	SourceRaw   string
	IsRequired  bool

	Definition *models.AttributeDefinition
}

// RecordRef 记录引用，写入 record_error 与日志
func (a StagedAttribute) RecordRef() string {
	return fmt.Sprintf("%d:%s:%d", a.TempRowID, a.AttrCode, a.AttrSeq)
}

// ConfigIssue 配置问题：该属性在本记录中被跳过
type ConfigIssue struct {
	AttrCode string
	Reason   string
}

// Extract 按固定列映射与列描述中的 attr_code 抽取属性
func Extract(rec *models.StagedRecord, snap *registry.Snapshot) ([]StagedAttribute, []ConfigIssue, error) {
	cols, err := rec.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("解析暂存载荷失败 [temp_row_id=%d]: %w", rec.TempRowID, err)
	}

	byTarget := make(map[string]models.ColumnDescriptor, len(cols))
	for _, c := range cols {
		if c.TargetColumn == "" || !c.MappingSuccess {
			continue
		}
		if _, dup := byTarget[c.TargetColumn]; !dup {
			byTarget[c.TargetColumn] = c
		}
	}

	var (
		attrs  []StagedAttribute
		issues []ConfigIssue
	)
	base := StagedAttribute{
		BatchID:      rec.BatchID,
		TempRowID:    rec.TempRowID,
		LineNo:       rec.LineNo,
		CompanyCode:  rec.CompanyCode,
		BrandCode:    rec.BrandCode,
		CategoryCode: rec.CategoryCode,
	}
	emit := func(attrCode string, seq int, id, label string, required bool) {
		def, ok := snap.Definition(attrCode)
		if !ok {
			issues = append(issues, ConfigIssue{AttrCode: attrCode, Reason: "属性定义不存在或未启用"})
			return
		}
		a := base
		a.AttrCode = attrCode
		a.AttrSeq = seq
		a.DataType = def.DataType
		a.SourceID = id
		a.SourceLabel = label
		a.SourceRaw = rawFragment(id, label)
		a.IsRequired = required
		a.Definition = def
		attrs = append(attrs, a)
	}

	fixed := make(map[string]bool)
	for _, m := range snap.FixedColumns(rec.CompanyCode) {
		if !meta.IsValidValueRole(m.ValueRole) {
			issues = append(issues, ConfigIssue{AttrCode: m.AttrCode, Reason: "无效的取值模式 " + m.ValueRole})
			continue
		}
		idCol, hasID := byTarget[m.IDColumn]
		labelCol, hasLabel := byTarget[m.LabelColumn]

		var id, label string
		var present, required bool
		switch m.ValueRole {
		case meta.ValueRoleIDLabel:
			present = hasID || hasLabel
			id, label = idCol.EffectiveValue(), labelCol.EffectiveValue()
			required = (hasID && idCol.IsRequired) || (hasLabel && labelCol.IsRequired)
		case meta.ValueRoleIDOnly:
			present = hasID
			id = idCol.EffectiveValue()
			required = hasID && idCol.IsRequired
		case meta.ValueRoleLabelOnly:
			present = hasLabel
			label = labelCol.EffectiveValue()
			required = hasLabel && labelCol.IsRequired
		}
		if !present {
			continue
		}
		fixed[m.AttrCode] = true
		emit(m.AttrCode, m.AttrSeq, id, label, required)
	}

	// 直接携带 attr_code 的列，同一属性按出现顺序编号
	seqs := make(map[string]int)
	for _, c := range cols {
		if c.AttrCode == "" || !c.MappingSuccess || fixed[c.AttrCode] {
			continue
		}
		seqs[c.AttrCode]++
		emit(c.AttrCode, seqs[c.AttrCode], c.EffectiveValue(), "", c.IsRequired)
	}

	return attrs, issues, nil
}

func rawFragment(id, label string) string {
	switch {
	case id != "" && label != "":
		return id + "|" + label
	case id != "":
		return id
	default:
		return label
	}
}

// rawValue 回退时保留的原始值：优先 id，其次名称
func rawValue(id, label string) string {
	if s := strings.TrimSpace(id); s != "" {
		return s
	}
	return strings.TrimSpace(label)
}
