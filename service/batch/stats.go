package batch

import (
	"catalog-hub/service/meta"
	"catalog-hub/service/models"
)

// IngestStats 导入阶段统计
type IngestStats struct {
	Read int `json:"read"`
	OK   int `json:"ok"`
	NG   int `json:"ng"`
}

// CleanseStats 清洗阶段统计（按属性计数）
type CleanseStats struct {
	Read       int `json:"read"`
	OK         int `json:"ok"`
	Warn       int `json:"warn"`
	NG         int `json:"ng"`
	ConfigSkip int `json:"config_skip"`
}

// Count 按质量状态计数
func (s *CleanseStats) Count(quality string) {
	s.Read++
	switch quality {
	case meta.QualityOK:
		s.OK++
	case meta.QualityWarn:
		s.Warn++
	case meta.QualityNG:
		s.NG++
	}
}

// UpsertStats Upsert 阶段统计：insert/update/skip 按属性操作计数，error 按商品计数
type UpsertStats struct {
	Products   int `json:"products"`
	Insert     int `json:"insert"`
	Update     int `json:"update"`
	Skip       int `json:"skip"`
	Reactivate int `json:"reactivate"`
	Deactivate int `json:"deactivate"`
	Error      int `json:"error"`
}

// Add 合并另一份统计（通常是单个商品事务提交后的增量）
func (s *UpsertStats) Add(o UpsertStats) {
	s.Products += o.Products
	s.Insert += o.Insert
	s.Update += o.Update
	s.Skip += o.Skip
	s.Reactivate += o.Reactivate
	s.Deactivate += o.Deactivate
	s.Error += o.Error
}

// Stats 单次运行的统计累加器，显式在各阶段之间传递
// 只有本次运行启动过的阶段才会写回统计文档，重跑时覆盖对应阶段而不是累加
type Stats struct {
	Ingest     *IngestStats  `json:"ingest,omitempty"`
	Cleanse    *CleanseStats `json:"cleanse,omitempty"`
	Upsert     *UpsertStats  `json:"upsert,omitempty"`
	Management *UpsertStats  `json:"management,omitempty"`
}

// NewStats 创建空累加器
func NewStats() *Stats {
	return &Stats{}
}

// BeginIngest 开始导入阶段计数
func (s *Stats) BeginIngest() *IngestStats {
	s.Ingest = &IngestStats{}
	return s.Ingest
}

// BeginCleanse 开始清洗阶段计数
func (s *Stats) BeginCleanse() *CleanseStats {
	s.Cleanse = &CleanseStats{}
	return s.Cleanse
}

// BeginUpsert 开始 Upsert 阶段计数（含管理实体）
func (s *Stats) BeginUpsert() *UpsertStats {
	s.Upsert = &UpsertStats{}
	s.Management = &UpsertStats{}
	return s.Upsert
}

// Merge 将本次运行的阶段文档合并进已有统计文档
func (s *Stats) Merge(counts models.JSONB) (models.JSONB, error) {
	doc, err := models.ToJSONB(s)
	if err != nil {
		return nil, err
	}
	merged := models.JSONB{}
	for k, v := range counts {
		merged[k] = v
	}
	for k, v := range doc {
		merged[k] = v
	}
	return merged, nil
}

// DecodeStats 从统计文档还原累加器，用于续跑时沿用导入阶段统计
func DecodeStats(counts models.JSONB) *Stats {
	s := NewStats()
	if len(counts) == 0 {
		return s
	}
	_ = counts.Decode(s)
	return s
}

// ErrorCount 记录级错误总数
func (s *Stats) ErrorCount(dataKind string) int {
	n := 0
	if s.Ingest != nil {
		n += s.Ingest.NG
	}
	if dataKind == meta.DataKindEvent {
		if s.Cleanse != nil {
			n += s.Cleanse.NG
		}
		return n
	}
	if s.Upsert != nil {
		n += s.Upsert.Error
	}
	if s.Management != nil {
		n += s.Management.Error
	}
	return n
}

// SuccessCount 成功处理的数量；PRODUCT 按提交成功的商品计，EVENT 批次只清洗，按通过质量检查的属性计
func (s *Stats) SuccessCount(dataKind string) int {
	if dataKind == meta.DataKindEvent {
		if s.Cleanse == nil {
			return 0
		}
		return s.Cleanse.OK + s.Cleanse.Warn
	}
	if s.Upsert == nil {
		return 0
	}
	return s.Upsert.Products
}

// DecideStatus 批次终态规则：致命错误或全部失败为 FAILED，部分失败为 PARTIAL，否则 COMPLETED
func DecideStatus(s *Stats, dataKind string, fatal error) string {
	if fatal != nil {
		return meta.BatchStatusFailed
	}
	errs := s.ErrorCount(dataKind)
	if errs == 0 {
		return meta.BatchStatusCompleted
	}
	if s.SuccessCount(dataKind) == 0 {
		return meta.BatchStatusFailed
	}
	return meta.BatchStatusPartial
}
