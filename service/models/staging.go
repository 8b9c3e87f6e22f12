/*
 * @module service/models/staging
 * @description 暂存层模型：暂存记录（含自描述列载荷）与清洗后属性
 * @architecture DDD领域驱动设计 - 实体模型
 * @stateFlow 导入 -> 暂存记录 -> 属性抽取 -> 清洗属性
 * @rules 暂存载荷保留源文件的全部列；清洗属性以 (batch, row, attr_code, attr_seq) 唯一
 * @dependencies gorm.io/gorm, gorm.io/datatypes, github.com/shopspring/decimal
 * @refs service/cleansing/stage.go
 */

package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ColumnDescriptor 暂存载荷中的单列描述
type ColumnDescriptor struct {
	Index            int    `json:"index"`
	Header           string `json:"header"`
	RawValue         string `json:"raw_value"`
	TransformedValue string `json:"transformed_value"`
	TargetColumn     string `json:"target_column"`
	AttrCode         string `json:"attr_code"`
	DataKind         string `json:"data_kind"`
	IsRequired       bool   `json:"is_required"`
	IsInjected       bool   `json:"is_injected"`
	MappingSuccess   bool   `json:"mapping_success"`
}

// EffectiveValue 优先返回转换后的值
func (c ColumnDescriptor) EffectiveValue() string {
	if c.TransformedValue != "" {
		return c.TransformedValue
	}
	return c.RawValue
}

// StagedRecord 暂存记录，源CSV的一行
type StagedRecord struct {
	TempRowID int64  `json:"temp_row_id" gorm:"primaryKey;autoIncrement"`
	BatchID   string `json:"batch_id" gorm:"not null;type:varchar(36);index"`
	LineNo    int    `json:"line_no"`

	// 便于过滤的提升列
	CompanyCode       string `json:"company_code" gorm:"size:32"`
	SourceProductCode string `json:"source_product_code" gorm:"type:text"`
	BrandCode         string `json:"brand_code" gorm:"type:text"`
	CategoryCode      string `json:"category_code" gorm:"type:text"`
	ManagementCode    string `json:"management_code" gorm:"type:text"`
	RowFingerprint    string `json:"row_fingerprint" gorm:"size:32"`

	SourcePayload datatypes.JSON `json:"source_payload"`
	CreatedAt     time.Time      `json:"created_at"`
}

// TableName 指定表名
func (StagedRecord) TableName() string {
	return "staged_record"
}

// Columns 解析自描述载荷
func (r *StagedRecord) Columns() ([]ColumnDescriptor, error) {
	if len(r.SourcePayload) == 0 {
		return nil, nil
	}
	var cols []ColumnDescriptor
	if err := json.Unmarshal(r.SourcePayload, &cols); err != nil {
		return nil, err
	}
	return cols, nil
}

// SetColumns 写入自描述载荷
func (r *StagedRecord) SetColumns(cols []ColumnDescriptor) error {
	b, err := json.Marshal(cols)
	if err != nil {
		return err
	}
	r.SourcePayload = datatypes.JSON(b)
	return nil
}

// CleansedAttribute 清洗后属性，按数据类型只填充一个值列
type CleansedAttribute struct {
	ID        int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	BatchID   string `json:"batch_id" gorm:"not null;type:varchar(36);uniqueIndex:idx_cleansed_attr_key,priority:1"`
	TempRowID int64  `json:"temp_row_id" gorm:"not null;uniqueIndex:idx_cleansed_attr_key,priority:2"`
	AttrCode  string `json:"attr_code" gorm:"not null;size:64;uniqueIndex:idx_cleansed_attr_key,priority:3"`
	AttrSeq   int    `json:"attr_seq" gorm:"not null;uniqueIndex:idx_cleansed_attr_key,priority:4"`
	DataType  string `json:"data_type" gorm:"not null;size:8"`

	// 源值
	SourceID    string `json:"source_id" gorm:"type:text"`
	SourceLabel string `json:"source_label" gorm:"type:text"`
	SourceRaw   string `json:"source_raw" gorm:"type:text"`

	// 类型化后的值
	ValueText  *string             `json:"value_text,omitempty" gorm:"type:text"`
	ValueNum   decimal.NullDecimal `json:"value_num" gorm:"type:numeric(20,6)"`
	ValueDate  *time.Time          `json:"value_date,omitempty" gorm:"type:date"`
	ValueCode  *string             `json:"value_code,omitempty" gorm:"size:128"`
	ValueLabel *string             `json:"value_label,omitempty" gorm:"type:text"`

	QualityStatus string `json:"quality_status" gorm:"not null;size:4;index"` // OK, WARN, NG
	QualityDetail JSONB  `json:"quality_detail" gorm:"type:jsonb"`
	Provenance    JSONB  `json:"provenance" gorm:"type:jsonb"`
	RuleVersion   string `json:"rule_version" gorm:"size:32"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (CleansedAttribute) TableName() string {
	return "cleansed_attribute"
}

// IsEmpty 所有值列均为空
func (a *CleansedAttribute) IsEmpty() bool {
	return a.ValueText == nil && !a.ValueNum.Valid && a.ValueDate == nil && a.ValueCode == nil
}
