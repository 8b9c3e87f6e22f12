/*
 * @module service/models/attribute
 * @description 属性定义、固定列映射、清洗策略、参照映射等配置模型
 * @architecture DDD领域驱动设计 - 配置实体
 * @stateFlow 配置在批次运行期间只读，按批次缓存
 * @rules 参照映射中的表名和列名只来自配置行，加载时经过白名单校验
 * @dependencies gorm.io/gorm
 * @refs service/registry/snapshot.go, service/reference/shape.go
 */

package models

import "time"

// AttributeDefinition 属性定义
type AttributeDefinition struct {
	AttrCode       string `json:"attr_code" gorm:"primaryKey;size:64"`
	AttrName       string `json:"attr_name" gorm:"size:255"`
	DataKind       string `json:"data_kind" gorm:"not null;size:16;default:'PRODUCT'"`
	DataType       string `json:"data_type" gorm:"not null;size:8"` // TEXT, NUM, DATE, LIST, REF
	TargetColumn   string `json:"target_column" gorm:"size:64"`     // 主表目标列（golden master）
	MgmtColumn     string `json:"mgmt_column" gorm:"size:64"`       // 管理实体目标列
	IsGoldenMaster bool   `json:"is_golden_master" gorm:"default:false"`
	IsGoldenEAV    bool   `json:"is_golden_eav" gorm:"default:false"`
	IsMgmtMaster   bool   `json:"is_mgmt_master" gorm:"default:false"`
	IsMgmtEAV      bool   `json:"is_mgmt_eav" gorm:"default:false"`
	Unit           string `json:"unit" gorm:"size:32"`
	RefMappingCode string `json:"ref_mapping_code" gorm:"size:64"`
	IsActive       bool   `json:"is_active" gorm:"default:true"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (AttributeDefinition) TableName() string {
	return "attribute_definition"
}

// FixedColumnMapping 暂存固定列到属性代码的映射
type FixedColumnMapping struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	CompanyCode string `json:"company_code" gorm:"not null;size:32;default:'*'"`
	DataKind    string `json:"data_kind" gorm:"not null;size:16;default:'PRODUCT'"`
	AttrCode    string `json:"attr_code" gorm:"not null;size:64"`
	AttrSeq     int    `json:"attr_seq" gorm:"not null;default:1"`
	IDColumn    string `json:"id_column" gorm:"size:64"`           // 载荷中承载 id 的 target_column
	LabelColumn string `json:"label_column" gorm:"size:64"`        // 载荷中承载名称的 target_column
	ValueRole   string `json:"value_role" gorm:"not null;size:16"` // ID_LABEL, ID_ONLY, LABEL_ONLY
	IsActive    bool   `json:"is_active" gorm:"default:true"`
}

// TableName 指定表名
func (FixedColumnMapping) TableName() string {
	return "fixed_column_mapping"
}

// CleansePolicy 清洗策略，按作用域与步骤号组成策略链
type CleansePolicy struct {
	ID           uint   `json:"id" gorm:"primaryKey"`
	AttrCode     string `json:"attr_code" gorm:"not null;size:64;index"`
	CompanyCode  string `json:"company_code" gorm:"not null;size:32;default:'*'"`
	BrandCode    string `json:"brand_code" gorm:"not null;size:128;default:'*'"`
	CategoryCode string `json:"category_code" gorm:"not null;size:128;default:'*'"`
	StepNo       int    `json:"step_no" gorm:"not null"`
	Function     string `json:"function" gorm:"not null;size:32"` // 白名单函数名
	Params       JSONB  `json:"params" gorm:"type:jsonb"`
	RuleVersion  string `json:"rule_version" gorm:"size:32"`
	IsActive     bool   `json:"is_active" gorm:"default:true"`
}

// TableName 指定表名
func (CleansePolicy) TableName() string {
	return "cleanse_policy"
}

// ReferenceMapping 参照解析映射描述
type ReferenceMapping struct {
	MappingCode  string `json:"mapping_code" gorm:"primaryKey;size:64"`
	Shape        string `json:"shape" gorm:"not null;size:16"` // SINGLE_HOP, TWO_HOP
	SourceTable  string `json:"source_table" gorm:"not null;size:64"`
	FilterColumn string `json:"filter_column" gorm:"size:64"`
	FilterValue  string `json:"filter_value" gorm:"size:128"`
	IDColumn     string `json:"id_column" gorm:"not null;size:64"`
	LabelColumn  string `json:"label_column" gorm:"size:64"`

	// 单跳时从源表返回；两跳时从 JoinTable 返回
	ReturnCodeColumn  string `json:"return_code_column" gorm:"not null;size:64"`
	ReturnLabelColumn string `json:"return_label_column" gorm:"size:64"`

	JoinTable   string `json:"join_table" gorm:"size:64"`
	JoinColumns JSONB  `json:"join_columns" gorm:"type:jsonb"` // 源表列 -> 连接表列

	MatchMode string `json:"match_mode" gorm:"size:8;default:'ID'"` // ID, AUTO
	IsActive  bool   `json:"is_active" gorm:"default:true"`
}

// TableName 指定表名
func (ReferenceMapping) TableName() string {
	return "reference_mapping"
}

// ColumnProfile 导入时的列配置：CSV表头 -> 目标列/属性代码
type ColumnProfile struct {
	ID           uint   `json:"id" gorm:"primaryKey"`
	Profile      string `json:"profile" gorm:"not null;size:64;index"`
	CompanyCode  string `json:"company_code" gorm:"not null;size:32"`
	DataKind     string `json:"data_kind" gorm:"not null;size:16"`
	Header       string `json:"header" gorm:"not null;size:255"`
	TargetColumn string `json:"target_column" gorm:"size:64"`
	AttrCode     string `json:"attr_code" gorm:"size:64"`
	IsRequired   bool   `json:"is_required" gorm:"default:false"`
}

// TableName 指定表名
func (ColumnProfile) TableName() string {
	return "column_profile"
}
