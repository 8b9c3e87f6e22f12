/*
 * @module service/batch/coordinator
 * @description 批次协调器：认领批次（行锁 + 租约）、检查点写回统计文档、终态判定与重开
 * @architecture 领域服务层 - 批次生命周期
 * @stateFlow RUNNING --Claim--> RUNNING(租约) --Checkpoint*--> Finalize --> COMPLETED / PARTIAL / FAILED
 * @rules 认领使用 FOR UPDATE SKIP LOCKED，同一批次同一时刻只有一个执行者；
 *        检查点与终态更新都以租约持有者为条件
 * @dependencies gorm.io/gorm, gorm.io/gorm/clause
 * @refs service/pipeline/runner.go
 */

package batch

import (
	"catalog-hub/service/meta"
	"catalog-hub/service/metrics"
	"catalog-hub/service/models"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrLeaseLost 租约已被其他执行者接管
	ErrLeaseLost = errors.New("批次租约已失效")
	// ErrNotReopenable 批次不存在或不处于终态
	ErrNotReopenable = errors.New("批次不存在或不处于终态，无法重开")
)

// Coordinator 批次协调器
type Coordinator struct {
	db    *gorm.DB
	lease time.Duration
	now   func() time.Time
}

// NewCoordinator 创建批次协调器
func NewCoordinator(db *gorm.DB, lease time.Duration) *Coordinator {
	return &Coordinator{
		db:    db,
		lease: lease,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Claim 认领指定批次；批次被锁定、租约未过期或不处于 RUNNING 时返回 nil, nil
func (c *Coordinator) Claim(ctx context.Context, batchID, owner string) (*models.BatchRun, error) {
	return c.claim(ctx, owner, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("batch_id = ?", batchID)
	})
}

// ClaimNext 认领任意一个可续跑的批次，供调度器使用
func (c *Coordinator) ClaimNext(ctx context.Context, owner string) (*models.BatchRun, error) {
	return c.claim(ctx, owner, func(tx *gorm.DB) *gorm.DB {
		return tx.Order("created_at")
	})
}

func (c *Coordinator) claim(ctx context.Context, owner string, scope func(*gorm.DB) *gorm.DB) (*models.BatchRun, error) {
	var claimed *models.BatchRun
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := c.now()
		var runs []models.BatchRun
		q := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", meta.BatchStatusRunning).
			Where("lease_expires_at IS NULL OR lease_expires_at < ?", now)
		if err := scope(q).Limit(1).Find(&runs).Error; err != nil {
			return err
		}
		if len(runs) == 0 {
			return nil
		}

		run := runs[0]
		expires := now.Add(c.lease)
		res := tx.Model(&models.BatchRun{}).
			Where("batch_id = ?", run.BatchID).
			Updates(map[string]interface{}{
				"lease_owner":      owner,
				"lease_expires_at": expires,
			})
		if res.Error != nil {
			return res.Error
		}
		run.LeaseOwner = owner
		run.LeaseExpiresAt = &expires
		claimed = &run
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("认领批次失败: %w", err)
	}
	if claimed != nil {
		slog.Info("批次已认领", "batch_id", claimed.BatchID, "owner", owner)
	}
	return claimed, nil
}

// Checkpoint 合并统计文档并续租；崩溃后批次保持 RUNNING，统计快照可查
func (c *Coordinator) Checkpoint(ctx context.Context, run *models.BatchRun, stats *Stats) error {
	counts, err := stats.Merge(run.Counts)
	if err != nil {
		return fmt.Errorf("生成统计文档失败: %w", err)
	}
	expires := c.now().Add(c.lease)

	res := c.db.WithContext(ctx).Model(&models.BatchRun{}).
		Where("batch_id = ? AND lease_owner = ?", run.BatchID, run.LeaseOwner).
		Updates(map[string]interface{}{
			"counts":           counts,
			"lease_expires_at": expires,
		})
	if res.Error != nil {
		return fmt.Errorf("写入检查点失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}

	run.Counts = counts
	run.LeaseExpiresAt = &expires
	slog.Debug("检查点已写入", "batch_id", run.BatchID)
	return nil
}

// Finalize 判定终态、写入最终统计并释放租约
func (c *Coordinator) Finalize(ctx context.Context, run *models.BatchRun, stats *Stats, fatal error) (string, error) {
	status := DecideStatus(stats, run.DataKind, fatal)
	counts, err := stats.Merge(run.Counts)
	if err != nil {
		return "", fmt.Errorf("生成统计文档失败: %w", err)
	}
	if fatal != nil {
		counts["fatal_error"] = fatal.Error()
	} else {
		delete(counts, "fatal_error")
	}
	ended := c.now()

	res := c.db.WithContext(ctx).Model(&models.BatchRun{}).
		Where("batch_id = ? AND lease_owner = ?", run.BatchID, run.LeaseOwner).
		Updates(map[string]interface{}{
			"status":           status,
			"counts":           counts,
			"ended_at":         ended,
			"lease_owner":      "",
			"lease_expires_at": nil,
		})
	if res.Error != nil {
		return "", fmt.Errorf("更新批次终态失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return "", ErrLeaseLost
	}

	run.Status = status
	run.Counts = counts
	run.EndedAt = &ended
	run.LeaseOwner = ""
	run.LeaseExpiresAt = nil
	metrics.BatchesFinalized.WithLabelValues(status).Inc()

	slog.Info("批次处理结束",
		"batch_id", run.BatchID,
		"status", status,
		"errors", stats.ErrorCount(run.DataKind),
		"succeeded", stats.SuccessCount(run.DataKind))
	return status, nil
}

// Reopen 将终态批次重置为 RUNNING，以便显式重跑
func (c *Coordinator) Reopen(ctx context.Context, batchID string) error {
	res := c.db.WithContext(ctx).Model(&models.BatchRun{}).
		Where("batch_id = ? AND status IN ?", batchID, []string{
			meta.BatchStatusCompleted, meta.BatchStatusPartial, meta.BatchStatusFailed,
		}).
		Updates(map[string]interface{}{
			"status":           meta.BatchStatusRunning,
			"ended_at":         nil,
			"lease_owner":      "",
			"lease_expires_at": nil,
		})
	if res.Error != nil {
		return fmt.Errorf("重开批次失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotReopenable
	}
	slog.Info("批次已重开", "batch_id", batchID)
	return nil
}
