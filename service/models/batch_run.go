/*
 * @module service/models/batch_run
 * @description 批次运行模型：一个CSV文件对应一个批次，记录状态、统计文档与租约
 * @architecture DDD领域驱动设计 - 实体模型
 * @stateFlow RUNNING -> COMPLETED / PARTIAL / FAILED
 * @rules idempotency_key 唯一，保证同一源对象只建一次批次
 * @dependencies gorm.io/gorm, time
 * @refs service/batch/coordinator.go
 */

package models

import (
	"time"
)

// BatchRun 批次运行记录
type BatchRun struct {
	BatchID        string `json:"batch_id" gorm:"primaryKey;type:varchar(36)"`
	IdempotencyKey string `json:"idempotency_key" gorm:"not null;size:255;uniqueIndex"`
	CompanyCode    string `json:"company_code" gorm:"not null;size:32;index"`
	DataKind       string `json:"data_kind" gorm:"not null;size:16"` // PRODUCT, EVENT
	SourceURI      string `json:"source_uri" gorm:"size:1000"`
	Profile        string `json:"profile" gorm:"size:64"` // 导入时使用的列配置名

	// 状态信息
	Status string `json:"status" gorm:"not null;size:16;index"` // RUNNING, COMPLETED, PARTIAL, FAILED
	Counts JSONB  `json:"counts" gorm:"type:jsonb"`             // 各阶段统计文档

	// 租约：防止多个执行者处理同一批次
	LeaseOwner     string     `json:"lease_owner,omitempty" gorm:"size:128"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TableName 指定表名
func (BatchRun) TableName() string {
	return "batch_run"
}

// RecordError 记录级错误，一条错误一行
type RecordError struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	BatchID     string    `json:"batch_id" gorm:"not null;type:varchar(36);index"`
	Step        string    `json:"step" gorm:"not null;size:16"` // INGEST, CLEANSE, UPSERT
	RecordRef   string    `json:"record_ref" gorm:"size:255"`
	ErrorCode   string    `json:"error_code" gorm:"not null;size:64;index"`
	ErrorDetail string    `json:"error_detail" gorm:"type:text"`
	RawFragment string    `json:"raw_fragment" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName 指定表名
func (RecordError) TableName() string {
	return "record_error"
}
