/*
 * @module testutil/test_helper
 * @description 测试工具和辅助函数
 * @architecture 测试基础设施 - 提供测试通用工具和数据工厂
 * @stateFlow 测试环境初始化 -> 测试数据创建 -> 测试执行 -> 清理资源
 * @rules 提供可重用的测试工具，确保测试环境的一致性
 * @dependencies gorm, sqlite, testify, time
 * @refs service/models, service/database
 */

package testutil

import (
	"catalog-hub/service/database"
	"catalog-hub/service/meta"
	"catalog-hub/service/models"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB 测试数据库配置
type TestDB struct {
	DB *gorm.DB
}

// NewTestDB 创建测试数据库
// 单连接的内存库：事务内的所有操作都必须使用事务句柄
func NewTestDB() *TestDB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to connect test database: %v", err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		panic(fmt.Sprintf("failed to get sql.DB: %v", err))
	}
	sqlDB.SetMaxOpenConns(1)

	if err := database.AutoMigrate(db); err != nil {
		panic(fmt.Sprintf("failed to migrate test database: %v", err))
	}

	return &TestDB{DB: db}
}

// Close 关闭数据库连接
func (tdb *TestDB) Close() {
	if db, err := tdb.DB.DB(); err == nil {
		db.Close()
	}
}

// TestDataFactory 测试数据工厂
type TestDataFactory struct {
	DB *gorm.DB
}

// NewTestDataFactory 创建测试数据工厂
func NewTestDataFactory(db *gorm.DB) *TestDataFactory {
	return &TestDataFactory{DB: db}
}

func (f *TestDataFactory) mustCreate(v interface{}) {
	if err := f.DB.Create(v).Error; err != nil {
		panic(fmt.Sprintf("failed to create test data %T: %v", v, err))
	}
}

// CreateBrand 创建品牌
func (f *TestDataFactory) CreateBrand(code, name string) *models.Brand {
	b := &models.Brand{BrandCode: code, BrandName: name}
	f.mustCreate(b)
	return b
}

// CreateCategory 创建品类
func (f *TestDataFactory) CreateCategory(code, name string) *models.Category {
	c := &models.Category{CategoryCode: code, CategoryName: name}
	f.mustCreate(c)
	return c
}

// DefinitionOption 属性定义选项函数类型
type DefinitionOption func(*models.AttributeDefinition)

// AsMaster 写入主表列
func AsMaster(column string) DefinitionOption {
	return func(d *models.AttributeDefinition) {
		d.IsGoldenMaster = true
		d.TargetColumn = column
	}
}

// AsEAV 写入 EAV
func AsEAV() DefinitionOption {
	return func(d *models.AttributeDefinition) { d.IsGoldenEAV = true }
}

// AsMgmtMaster 写入管理实体主表列
func AsMgmtMaster(column string) DefinitionOption {
	return func(d *models.AttributeDefinition) {
		d.IsMgmtMaster = true
		d.MgmtColumn = column
	}
}

// AsMgmtEAV 写入管理实体 EAV
func AsMgmtEAV() DefinitionOption {
	return func(d *models.AttributeDefinition) { d.IsMgmtEAV = true }
}

// WithRefMapping 指定参照映射
func WithRefMapping(code string) DefinitionOption {
	return func(d *models.AttributeDefinition) { d.RefMappingCode = code }
}

// WithUnit 指定单位
func WithUnit(unit string) DefinitionOption {
	return func(d *models.AttributeDefinition) { d.Unit = unit }
}

// CreateDefinition 创建属性定义
func (f *TestDataFactory) CreateDefinition(code, dataType string, opts ...DefinitionOption) *models.AttributeDefinition {
	d := &models.AttributeDefinition{
		AttrCode: code,
		AttrName: code,
		DataKind: meta.DataKindProduct,
		DataType: dataType,
		IsActive: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	f.mustCreate(d)
	return d
}

// CreateFixedColumn 创建固定列映射（通配公司）
func (f *TestDataFactory) CreateFixedColumn(attrCode, idColumn, labelColumn, role string) *models.FixedColumnMapping {
	m := &models.FixedColumnMapping{
		CompanyCode: meta.ScopeWildcard,
		DataKind:    meta.DataKindProduct,
		AttrCode:    attrCode,
		AttrSeq:     1,
		IDColumn:    idColumn,
		LabelColumn: labelColumn,
		ValueRole:   role,
		IsActive:    true,
	}
	f.mustCreate(m)
	return m
}

// PolicyOption 清洗策略选项函数类型
type PolicyOption func(*models.CleansePolicy)

// ForCompany 限定公司作用域
func ForCompany(code string) PolicyOption {
	return func(p *models.CleansePolicy) { p.CompanyCode = code }
}

// ForBrand 限定品牌作用域
func ForBrand(code string) PolicyOption {
	return func(p *models.CleansePolicy) { p.BrandCode = code }
}

// ForCategory 限定品类作用域
func ForCategory(code string) PolicyOption {
	return func(p *models.CleansePolicy) { p.CategoryCode = code }
}

// WithParams 指定函数参数
func WithParams(params models.JSONB) PolicyOption {
	return func(p *models.CleansePolicy) { p.Params = params }
}

// CreatePolicy 创建清洗策略
func (f *TestDataFactory) CreatePolicy(attrCode string, stepNo int, function string, opts ...PolicyOption) *models.CleansePolicy {
	p := &models.CleansePolicy{
		AttrCode:     attrCode,
		CompanyCode:  meta.ScopeWildcard,
		BrandCode:    meta.ScopeWildcard,
		CategoryCode: meta.ScopeWildcard,
		StepNo:       stepNo,
		Function:     function,
		RuleVersion:  "v1",
		IsActive:     true,
	}
	for _, opt := range opts {
		opt(p)
	}
	f.mustCreate(p)
	return p
}

// CreateMapping 创建参照映射
func (f *TestDataFactory) CreateMapping(m models.ReferenceMapping) *models.ReferenceMapping {
	if m.MatchMode == "" {
		m.MatchMode = meta.MatchModeID
	}
	m.IsActive = true
	f.mustCreate(&m)
	return &m
}

// BatchOption 批次选项函数类型
type BatchOption func(*models.BatchRun)

// WithCompany 指定批次公司
func WithCompany(code string) BatchOption {
	return func(b *models.BatchRun) { b.CompanyCode = code }
}

// WithDataKind 指定批次数据种类
func WithDataKind(kind string) BatchOption {
	return func(b *models.BatchRun) { b.DataKind = kind }
}

// WithStatus 指定批次状态
func WithStatus(status string) BatchOption {
	return func(b *models.BatchRun) { b.Status = status }
}

// CreateBatch 创建 RUNNING 批次
func (f *TestDataFactory) CreateBatch(opts ...BatchOption) *models.BatchRun {
	id := uuid.New().String()
	b := &models.BatchRun{
		BatchID:        id,
		IdempotencyKey: "test:" + id,
		CompanyCode:    "C001",
		DataKind:       meta.DataKindProduct,
		SourceURI:      "file:///tmp/test.csv",
		Profile:        "default",
		Status:         meta.BatchStatusRunning,
		StartedAt:      time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(b)
	}
	f.mustCreate(b)
	return b
}

// Col 构造已映射的列描述
func Col(target, value string) models.ColumnDescriptor {
	return models.ColumnDescriptor{
		Header:         target,
		RawValue:       value,
		TargetColumn:   target,
		DataKind:       meta.DataKindProduct,
		MappingSuccess: true,
	}
}

// AttrCol 构造直接携带属性代码的列描述
func AttrCol(attrCode, value string) models.ColumnDescriptor {
	c := Col("", value)
	c.Header = attrCode
	c.AttrCode = attrCode
	return c
}

// CreateStagedRecord 创建暂存记录，提升列从载荷中的固定列取值
func (f *TestDataFactory) CreateStagedRecord(batch *models.BatchRun, lineNo int, cols ...models.ColumnDescriptor) *models.StagedRecord {
	for i := range cols {
		cols[i].Index = i
	}
	rec := &models.StagedRecord{
		BatchID:     batch.BatchID,
		LineNo:      lineNo,
		CompanyCode: batch.CompanyCode,
	}
	for _, c := range cols {
		switch c.TargetColumn {
		case "product_cd":
			rec.SourceProductCode = c.RawValue
		case "brand_cd":
			rec.BrandCode = c.RawValue
		case "category_cd":
			rec.CategoryCode = c.RawValue
		case "mgmt_cd":
			rec.ManagementCode = c.RawValue
		}
	}
	if err := rec.SetColumns(cols); err != nil {
		panic(err)
	}
	f.mustCreate(rec)
	return rec
}
