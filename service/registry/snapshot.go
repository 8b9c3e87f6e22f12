/*
 * @module service/registry/snapshot
 * @description 属性定义注册表：每个批次加载一次的只读快照（属性定义、固定列映射、清洗策略、已编译参照映射）
 * @architecture 领域服务层 - 配置读取
 * @stateFlow Load -> 批次运行期间只读访问
 * @rules 策略按步骤号排序；同一步骤号内作用域最具体者生效；无法编译的参照映射记录告警并视为缺失
 * @dependencies gorm.io/gorm, catalog-hub/service/reference
 * @refs service/cleansing/engine.go
 */

package registry

import (
	"catalog-hub/service/meta"
	"catalog-hub/service/models"
	"catalog-hub/service/reference"
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
)

// Snapshot 批次级只读配置快照
type Snapshot struct {
	DataKind string

	definitions map[string]*models.AttributeDefinition
	fixed       []models.FixedColumnMapping
	policies    map[string][]models.CleansePolicy
	mappings    map[string]*reference.Mapping
}

// Load 读取全部有效配置
func Load(ctx context.Context, db *gorm.DB, dataKind string, allow *reference.AllowList) (*Snapshot, error) {
	db = db.WithContext(ctx)
	snap := &Snapshot{
		DataKind:    dataKind,
		definitions: make(map[string]*models.AttributeDefinition),
		policies:    make(map[string][]models.CleansePolicy),
		mappings:    make(map[string]*reference.Mapping),
	}

	var defs []models.AttributeDefinition
	if err := db.Where("is_active = ? AND data_kind = ?", true, dataKind).Find(&defs).Error; err != nil {
		return nil, fmt.Errorf("加载属性定义失败: %w", err)
	}
	for i := range defs {
		d := defs[i]
		if !meta.IsValidDataType(d.DataType) {
			slog.Warn("属性定义数据类型无效，已忽略", "attr_code", d.AttrCode, "data_type", d.DataType)
			continue
		}
		snap.definitions[d.AttrCode] = &d
	}

	if err := db.Where("is_active = ? AND data_kind = ?", true, dataKind).
		Order("attr_code, attr_seq, id").Find(&snap.fixed).Error; err != nil {
		return nil, fmt.Errorf("加载固定列映射失败: %w", err)
	}

	var policies []models.CleansePolicy
	if err := db.Where("is_active = ?", true).Order("attr_code, step_no, id").Find(&policies).Error; err != nil {
		return nil, fmt.Errorf("加载清洗策略失败: %w", err)
	}
	for _, p := range policies {
		snap.policies[p.AttrCode] = append(snap.policies[p.AttrCode], p)
	}

	var refs []models.ReferenceMapping
	if err := db.Where("is_active = ?", true).Find(&refs).Error; err != nil {
		return nil, fmt.Errorf("加载参照映射失败: %w", err)
	}
	for _, r := range refs {
		m, err := reference.Compile(r, allow)
		if err != nil {
			slog.Warn("参照映射配置无效，解析时按未解析处理", "mapping_code", r.MappingCode, "error", err)
			continue
		}
		snap.mappings[r.MappingCode] = m
	}

	slog.Info("配置快照已加载",
		"data_kind", dataKind,
		"definitions", len(snap.definitions),
		"fixed_columns", len(snap.fixed),
		"policies", len(policies),
		"mappings", len(snap.mappings))
	return snap, nil
}

// Definition 按属性代码获取定义
func (s *Snapshot) Definition(code string) (*models.AttributeDefinition, bool) {
	d, ok := s.definitions[code]
	return d, ok
}

// Mapping 按映射代码获取已编译映射
func (s *Snapshot) Mapping(code string) (*reference.Mapping, bool) {
	m, ok := s.mappings[code]
	return m, ok
}

// FixedColumns 返回公司适用的固定列映射；公司专属映射覆盖同一 (attr_code, attr_seq) 的通配映射
func (s *Snapshot) FixedColumns(company string) []models.FixedColumnMapping {
	type key struct {
		attr string
		seq  int
	}
	chosen := make(map[key]models.FixedColumnMapping)
	var order []key
	for _, m := range s.fixed {
		if m.CompanyCode != company && m.CompanyCode != meta.ScopeWildcard {
			continue
		}
		k := key{m.AttrCode, m.AttrSeq}
		prev, seen := chosen[k]
		if !seen {
			order = append(order, k)
			chosen[k] = m
			continue
		}
		if prev.CompanyCode == meta.ScopeWildcard && m.CompanyCode == company {
			chosen[k] = m
		}
	}

	out := make([]models.FixedColumnMapping, 0, len(order))
	for _, k := range order {
		out = append(out, chosen[k])
	}
	return out
}

// PolicyChain 返回 (attr, company, brand, category) 适用的策略链
func (s *Snapshot) PolicyChain(attrCode, company, brand, category string) PolicyChain {
	return buildChain(s.policies[attrCode], company, brand, category)
}
