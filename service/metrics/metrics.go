/*
 * @module service/metrics/metrics
 * @description 管线 Prometheus 指标：清洗质量、Upsert 操作、记录级错误、批次终态与阶段耗时
 * @architecture 基础设施层 - 可观测性
 * @rules 指标注册到默认注册表，由 /metrics 暴露
 * @dependencies github.com/prometheus/client_golang
 */

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	CleansedAttributes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_cleansed_attributes_total",
			Help: "清洗后属性数量，按质量状态划分",
		},
		[]string{"status"},
	)

	UpsertOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_upsert_operations_total",
			Help: "Upsert 属性级操作数量（insert/update/skip/deactivate）",
		},
		[]string{"op"},
	)

	RecordErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_record_errors_total",
			Help: "写入 record_error 的记录级错误数量，按阶段划分",
		},
		[]string{"step"},
	)

	BatchesFinalized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_batches_finalized_total",
			Help: "进入终态的批次数量，按状态划分",
		},
		[]string{"status"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_stage_duration_seconds",
			Help:    "各阶段执行耗时",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"stage"},
	)
)

func init() {
	prometheus.MustRegister(CleansedAttributes, UpsertOperations, RecordErrors, BatchesFinalized, StageDuration)
}

// ObserveStage 记录阶段耗时，用法：defer metrics.ObserveStage("CLEANSE", time.Now())
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
