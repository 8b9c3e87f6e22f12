/*
 * @module service/models/product
 * @description 商品主数据模型：身份映射、golden 主表、EAV 属性表及管理实体
 * @architecture DDD领域驱动设计 - 聚合根与值对象
 * @stateFlow 身份解析 -> 主表差异更新 -> EAV 生命周期（有效/失效/复活）
 * @rules (company, source_code) 仅允许一个有效身份；EAV 行只做软删除
 * @dependencies gorm.io/gorm, github.com/shopspring/decimal
 * @refs service/upsert/engine.go, service/identity/resolver.go
 */

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductIdentity 源商品代码到内部代理键的映射
type ProductIdentity struct {
	ID                int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	GProductID        int64  `json:"g_product_id" gorm:"column:g_product_id;not null;uniqueIndex"`
	CompanyCode       string `json:"company_code" gorm:"not null;size:32"`
	SourceProductCode string `json:"source_product_code" gorm:"not null;size:128"`
	IsActive          bool   `json:"is_active" gorm:"not null"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (ProductIdentity) TableName() string {
	return "product_identity"
}

// ProductMaster golden 商品主表
type ProductMaster struct {
	GProductID        int64  `json:"g_product_id" gorm:"column:g_product_id;primaryKey;autoIncrement:false"`
	CompanyCode       string `json:"company_code" gorm:"not null;size:32"`
	SourceProductCode string `json:"source_product_code" gorm:"not null;size:128"`

	GBrandID     *int64              `json:"g_brand_id" gorm:"column:g_brand_id"`
	GCategoryID  *int64              `json:"g_category_id" gorm:"column:g_category_id"`
	GProductName *string             `json:"g_product_name" gorm:"column:g_product_name;size:512"`
	GCurrency    *string             `json:"g_currency" gorm:"column:g_currency;size:8"`
	GPrice       decimal.NullDecimal `json:"g_price" gorm:"column:g_price;type:numeric(20,4)"`
	GReleaseDate *time.Time          `json:"g_release_date" gorm:"column:g_release_date;type:date"`
	GColorCd     *string             `json:"g_color_cd" gorm:"column:g_color_cd;size:64"`

	// 状态列，新建时缺省为 UNKNOWN
	GSalesStatusCd   string `json:"g_sales_status_cd" gorm:"column:g_sales_status_cd;not null;size:32"`
	GStockStatusCd   string `json:"g_stock_status_cd" gorm:"column:g_stock_status_cd;not null;size:32"`
	GPublishStatusCd string `json:"g_publish_status_cd" gorm:"column:g_publish_status_cd;not null;size:32"`

	Provenance  JSONB  `json:"provenance" gorm:"type:jsonb"`
	LastBatchID string `json:"last_batch_id" gorm:"type:varchar(36)"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (ProductMaster) TableName() string {
	return "product_master"
}

// EAVColumns EAV 行的公共列（值列按数据类型只填一个）
type EAVColumns struct {
	ID            int64               `json:"id" gorm:"primaryKey;autoIncrement"`
	AttrCode      string              `json:"attr_code" gorm:"not null;size:64"`
	AttrSeq       int                 `json:"attr_seq" gorm:"not null"`
	DataType      string              `json:"data_type" gorm:"not null;size:8"`
	ValueText     *string             `json:"value_text,omitempty" gorm:"type:text"`
	ValueNum      decimal.NullDecimal `json:"value_num" gorm:"type:numeric(20,6)"`
	ValueDate     *time.Time          `json:"value_date,omitempty" gorm:"type:date"`
	ValueCode     *string             `json:"value_code,omitempty" gorm:"size:128"`
	Unit          string              `json:"unit" gorm:"size:32"`
	QualityStatus string              `json:"quality_status" gorm:"not null;size:4"`
	Provenance    JSONB               `json:"provenance" gorm:"type:jsonb"`
	IsActive      bool                `json:"is_active" gorm:"not null"`
	LastBatchID   string              `json:"last_batch_id" gorm:"type:varchar(36)"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// ProductEAV golden EAV 属性行，键为 (g_product_id, attr_code, attr_seq)
type ProductEAV struct {
	GProductID int64 `json:"g_product_id" gorm:"column:g_product_id;not null;index"`
	EAVColumns
}

// TableName 指定表名
func (ProductEAV) TableName() string {
	return "product_eav"
}

func (r *ProductEAV) Columns() *EAVColumns { return &r.EAVColumns }
func (r *ProductEAV) SetOwner(id int64)    { r.GProductID = id }

// ProductManagement 管理实体（指定公司按管理代码汇总商品）
type ProductManagement struct {
	MgmtID         int64  `json:"mgmt_id" gorm:"primaryKey;autoIncrement"`
	CompanyCode    string `json:"company_code" gorm:"not null;size:32"`
	ManagementCode string `json:"management_code" gorm:"not null;size:128"`

	GBrandID    *int64  `json:"g_brand_id" gorm:"column:g_brand_id"`
	GCategoryID *int64  `json:"g_category_id" gorm:"column:g_category_id"`
	GMgmtName   *string `json:"g_mgmt_name" gorm:"column:g_mgmt_name;size:512"`

	Provenance  JSONB  `json:"provenance" gorm:"type:jsonb"`
	LastBatchID string `json:"last_batch_id" gorm:"type:varchar(36)"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (ProductManagement) TableName() string {
	return "product_management"
}

// ProductManagementEAV 管理实体 EAV 行，键为 (mgmt_id, attr_code, attr_seq)
type ProductManagementEAV struct {
	MgmtID int64 `json:"mgmt_id" gorm:"not null;index"`
	EAVColumns
}

// TableName 指定表名
func (ProductManagementEAV) TableName() string {
	return "product_management_eav"
}

func (r *ProductManagementEAV) Columns() *EAVColumns { return &r.EAVColumns }
func (r *ProductManagementEAV) SetOwner(id int64)    { r.MgmtID = id }
