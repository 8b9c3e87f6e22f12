/*
 * @module service/database/migrate
 * @description 数据库迁移模块，负责创建和更新数据库表结构、部分唯一索引与商品序列
 * @architecture 数据访问层 - 迁移管理
 * @stateFlow 应用启动时执行数据库迁移
 * @rules 确保数据库结构与模型定义保持一致；同一 (公司, 源商品代码) 只允许一个有效身份
 * @dependencies catalog-hub/service/models, gorm.io/gorm
 * @refs service/identity/resolver.go
 */

package database

import (
	"catalog-hub/service/models"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
)

// ProductIDSequence 商品代理键序列名
const ProductIDSequence = "product_id_seq"

// 模型标签无法表达的索引（部分索引、跨嵌入结构的复合唯一键）
var extraIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_product_identity_active
		ON product_identity (company_code, source_product_code) WHERE is_active`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_product_eav_key
		ON product_eav (g_product_id, attr_code, attr_seq)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_product_mgmt_key
		ON product_management (company_code, management_code)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_product_mgmt_eav_key
		ON product_management_eav (mgmt_id, attr_code, attr_seq)`,
}

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate(db *gorm.DB) error {
	slog.Info("开始数据库迁移...")

	// 批次与暂存相关表
	err := db.AutoMigrate(
		&models.BatchRun{},
		&models.RecordError{},
		&models.StagedRecord{},
		&models.CleansedAttribute{},
	)
	if err != nil {
		return err
	}

	// 配置相关表
	err = db.AutoMigrate(
		&models.AttributeDefinition{},
		&models.FixedColumnMapping{},
		&models.CleansePolicy{},
		&models.ReferenceMapping{},
		&models.ColumnProfile{},
	)
	if err != nil {
		return err
	}

	// 参照表
	err = db.AutoMigrate(
		&models.Brand{},
		&models.Category{},
		&models.RefDictionary{},
		&models.RefCrosswalk{},
	)
	if err != nil {
		return err
	}

	// 商品主数据相关表
	err = db.AutoMigrate(
		&models.ProductIdentity{},
		&models.ProductMaster{},
		&models.ProductEAV{},
		&models.ProductManagement{},
		&models.ProductManagementEAV{},
	)
	if err != nil {
		return err
	}

	for _, stmt := range extraIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("创建索引失败: %w", err)
		}
	}

	if err := ensureSequence(db); err != nil {
		return err
	}

	slog.Info("数据库迁移完成")
	return nil
}

// ensureSequence 仅在 PostgreSQL 上创建序列，其他方言由 max+1 回退兜底
func ensureSequence(db *gorm.DB) error {
	if db.Dialector.Name() != "postgres" {
		slog.Debug("当前方言不支持序列，跳过", "dialect", db.Dialector.Name())
		return nil
	}
	if err := db.Exec("CREATE SEQUENCE IF NOT EXISTS " + ProductIDSequence).Error; err != nil {
		return fmt.Errorf("创建序列 %s 失败: %w", ProductIDSequence, err)
	}
	return nil
}
