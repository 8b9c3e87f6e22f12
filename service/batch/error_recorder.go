package batch

import (
	"catalog-hub/service/metrics"
	"catalog-hub/service/models"
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 原始片段、记录引用最大保留长度（字节）
const (
	maxRawFragment = 2000
	maxRecordRef   = 255
)

// ErrorRecorder 记录级错误写入器，一条错误一行
type ErrorRecorder struct {
	db *gorm.DB
}

// NewErrorRecorder 创建错误写入器
func NewErrorRecorder(db *gorm.DB) *ErrorRecorder {
	return &ErrorRecorder{db: db}
}

// WithTx 返回绑定到事务的写入器
func (r *ErrorRecorder) WithTx(tx *gorm.DB) *ErrorRecorder {
	return &ErrorRecorder{db: tx}
}

// Record 写入一条记录级错误
func (r *ErrorRecorder) Record(ctx context.Context, e models.RecordError) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.RawFragment = truncate(e.RawFragment, maxRawFragment)
	e.RecordRef = truncate(e.RecordRef, maxRecordRef)

	if err := r.db.WithContext(ctx).Create(&e).Error; err != nil {
		slog.Error("写入记录级错误失败",
			"batch_id", e.BatchID,
			"record_ref", e.RecordRef,
			"error_code", e.ErrorCode,
			"error", err)
		return fmt.Errorf("写入 record_error 失败: %w", err)
	}
	metrics.RecordErrors.WithLabelValues(e.Step).Inc()
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
