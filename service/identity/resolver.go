/*
 * @module service/identity/resolver
 * @description 身份解析：(公司, 源商品代码) -> 内部代理键，采用乐观的 插入或查询 模式
 * @architecture 领域服务层 - 身份管理
 * @stateFlow 查询有效身份 -> 分配代理键（序列，失败回退 max+1） -> 保存点内插入 -> 冲突则重新查询
 * @rules 同一 (公司, 源商品代码) 一旦提交只对应一个代理键；不使用全局锁
 * @dependencies gorm.io/gorm
 * @refs service/database/migrate.go, service/upsert/engine.go
 */

package identity

import (
	"catalog-hub/service/database"
	"catalog-hub/service/models"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
)

// ErrConflict 重试后仍无法确定身份
var ErrConflict = errors.New("身份解析重试次数用尽")

// 插入冲突后的最大重试次数
const maxAttempts = 3

// Resolver 身份解析器
type Resolver struct{}

// NewResolver 创建身份解析器
func NewResolver() *Resolver {
	return &Resolver{}
}

// EnsureIdentity 返回代理键；isNew 表示本次调用创建了身份
// tx 为调用方的商品事务，插入在嵌套保存点中执行，冲突不会破坏外层事务
func (r *Resolver) EnsureIdentity(ctx context.Context, tx *gorm.DB, company, code string) (int64, bool, error) {
	tx = tx.WithContext(ctx)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		id, found, err := findActive(tx, company, code)
		if err != nil {
			return 0, false, err
		}
		if found {
			return id, false, nil
		}

		newID, err := allocateID(tx)
		if err != nil {
			return 0, false, err
		}

		created, err := tryInsert(tx, company, code, newID)
		if err != nil {
			return 0, false, err
		}
		if created {
			return newID, true, nil
		}
		slog.Debug("身份插入冲突，重新查询",
			"company_code", company,
			"source_product_code", code,
			"attempt", attempt)
	}
	return 0, false, fmt.Errorf("%w: %s/%s", ErrConflict, company, code)
}

func findActive(tx *gorm.DB, company, code string) (int64, bool, error) {
	var rows []models.ProductIdentity
	err := tx.Where("company_code = ? AND source_product_code = ? AND is_active = ?", company, code, true).
		Limit(1).Find(&rows).Error
	if err != nil {
		return 0, false, fmt.Errorf("查询身份失败: %w", err)
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	return rows[0].GProductID, true, nil
}

// tryInsert 在保存点中插入；唯一约束冲突（并发插入同一代码或代理键碰撞）返回 false
func tryInsert(tx *gorm.DB, company, code string, id int64) (bool, error) {
	err := tx.Transaction(func(sp *gorm.DB) error {
		return sp.Create(&models.ProductIdentity{
			GProductID:        id,
			CompanyCode:       company,
			SourceProductCode: code,
			IsActive:          true,
		}).Error
	})
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, nil
	}
	return false, fmt.Errorf("插入身份失败: %w", err)
}

// allocateID 优先使用序列；序列不可用时回退为 max+1，碰撞由唯一约束兜底
func allocateID(tx *gorm.DB) (int64, error) {
	if tx.Dialector.Name() == "postgres" {
		var id int64
		err := tx.Transaction(func(sp *gorm.DB) error {
			return sp.Raw("SELECT nextval('" + database.ProductIDSequence + "')").Scan(&id).Error
		})
		if err == nil && id > 0 {
			return id, nil
		}
		slog.Warn("商品序列不可用，回退为 max+1", "error", err)
	}

	var max int64
	if err := tx.Model(&models.ProductIdentity{}).
		Select("COALESCE(MAX(g_product_id), 0)").
		Scan(&max).Error; err != nil {
		return 0, fmt.Errorf("分配代理键失败: %w", err)
	}
	return max + 1, nil
}
