/*
 * @module service/ingest/service
 * @description 导入服务：读取CSV源文件，按列配置生成自描述载荷并写入暂存记录，创建批次
 * @architecture 领域服务层 - 数据导入
 * @stateFlow 读取源 -> 计算幂等键 -> 已存在则直接返回 -> 解码/解析 -> 暂存记录 + 批次(RUNNING)
 * @rules 同一内容只建一次批次；源文件的所有列都保留在载荷中，未配置的列 mapping_success=false；
 *        列数不符的行写入 record_error，不进入暂存层
 * @dependencies gorm.io/gorm, github.com/zeebo/xxh3, golang.org/x/text
 * @refs service/models/staging.go, service/pipeline/runner.go
 */

package ingest

import (
	"bytes"
	"catalog-hub/service/batch"
	"catalog-hub/service/meta"
	"catalog-hub/service/models"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
	"gorm.io/gorm"
)

// 支持的源文件编码
const (
	EncodingUTF8     = "UTF-8"
	EncodingShiftJIS = "SHIFT_JIS"
)

// 注入列与提升列
const (
	ColumnCompanyCode  = "company_code"
	ColumnProductCode  = "product_cd"
	ColumnBrandCode    = "brand_cd"
	ColumnCategoryCode = "category_cd"
	ColumnMgmtCode     = "mgmt_cd"
)

// Request 导入请求
type Request struct {
	CompanyCode string `json:"company_code"`
	DataKind    string `json:"data_kind"`
	Profile     string `json:"profile"`
	SourceURI   string `json:"source_uri"`
	Encoding    string `json:"encoding"`
}

// Options 导入配置
type Options struct {
	SourceSystem string
	ChunkSize    int
}

// Service 导入服务
type Service struct {
	db       *gorm.DB
	source   Source
	recorder *batch.ErrorRecorder
	opts     Options
}

// NewService 创建导入服务
func NewService(db *gorm.DB, source Source, recorder *batch.ErrorRecorder, opts Options) *Service {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 500
	}
	return &Service{db: db, source: source, recorder: recorder, opts: opts}
}

// Ingest 导入一个源文件；返回的 bool 表示批次已存在（重复导入）
func (s *Service) Ingest(ctx context.Context, req Request) (*models.BatchRun, bool, error) {
	if req.CompanyCode == "" || req.SourceURI == "" {
		return nil, false, errors.New("company_code 与 source_uri 不能为空")
	}
	if req.DataKind == "" {
		req.DataKind = meta.DataKindProduct
	}
	if !meta.IsValidDataKind(req.DataKind) {
		return nil, false, fmt.Errorf("无效的数据种类: %s", req.DataKind)
	}

	content, err := s.read(ctx, req.SourceURI)
	if err != nil {
		return nil, false, err
	}
	key := IdempotencyKey(req.CompanyCode, req.DataKind, s.opts.SourceSystem, content)

	if existing, err := s.findByKey(ctx, key); err != nil {
		return nil, false, err
	} else if existing != nil {
		slog.Info("源文件已导入，返回已有批次", "batch_id", existing.BatchID, "idempotency_key", key)
		return existing, true, nil
	}

	header, rows, err := parse(content, req.Encoding)
	if err != nil {
		return nil, false, err
	}
	profile, err := s.loadProfile(ctx, req)
	if err != nil {
		return nil, false, err
	}
	if missing := profile.missingRequired(header); len(missing) > 0 {
		return nil, false, fmt.Errorf("缺少必需列: %s", strings.Join(missing, ", "))
	}

	now := time.Now().UTC()
	run := &models.BatchRun{
		BatchID:        uuid.New().String(),
		IdempotencyKey: key,
		CompanyCode:    req.CompanyCode,
		DataKind:       req.DataKind,
		SourceURI:      req.SourceURI,
		Profile:        req.Profile,
		Status:         meta.BatchStatusRunning,
		StartedAt:      now,
	}

	stats := batch.NewStats()
	is := stats.BeginIngest()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return err
		}
		recorder := s.recorder.WithTx(tx)

		chunk := make([]models.StagedRecord, 0, s.opts.ChunkSize)
		flush := func() error {
			if len(chunk) == 0 {
				return nil
			}
			if err := tx.CreateInBatches(chunk, s.opts.ChunkSize).Error; err != nil {
				return fmt.Errorf("写入暂存记录失败: %w", err)
			}
			chunk = chunk[:0]
			return nil
		}

		for _, row := range rows {
			is.Read++
			if len(row.fields) != len(header) {
				is.NG++
				if err := recorder.Record(ctx, models.RecordError{
					BatchID:     run.BatchID,
					Step:        meta.StepIngest,
					RecordRef:   fmt.Sprintf("line=%d", row.line),
					ErrorCode:   meta.ErrCodeIngestRowInvalid,
					ErrorDetail: fmt.Sprintf("列数不符: 期望 %d，实际 %d", len(header), len(row.fields)),
					RawFragment: strings.Join(row.fields, ","),
				}); err != nil {
					return err
				}
				continue
			}
			rec, err := stage(run, header, row, profile)
			if err != nil {
				return err
			}
			chunk = append(chunk, *rec)
			is.OK++
			if len(chunk) >= s.opts.ChunkSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if err := flush(); err != nil {
			return err
		}

		counts, err := stats.Merge(nil)
		if err != nil {
			return err
		}
		run.Counts = counts
		return tx.Model(run).Update("counts", counts).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// 并发导入同一内容
			if existing, ferr := s.findByKey(ctx, key); ferr == nil && existing != nil {
				return existing, true, nil
			}
		}
		return nil, false, fmt.Errorf("创建批次失败: %w", err)
	}

	slog.Info("导入完成",
		"batch_id", run.BatchID,
		"company_code", run.CompanyCode,
		"data_kind", run.DataKind,
		"read", is.Read,
		"ok", is.OK,
		"ng", is.NG)
	return run, false, nil
}

// IdempotencyKey 公司:数据种类:源系统:内容指纹
func IdempotencyKey(company, dataKind, sourceSystem string, content []byte) string {
	return fmt.Sprintf("%s:%s:%s:%016x", company, dataKind, sourceSystem, xxh3.Hash(content))
}

func (s *Service) read(ctx context.Context, uri string) ([]byte, error) {
	rc, err := s.source.Open(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("读取源文件失败: %w", err)
	}
	return content, nil
}

func (s *Service) findByKey(ctx context.Context, key string) (*models.BatchRun, error) {
	var runs []models.BatchRun
	if err := s.db.WithContext(ctx).Where("idempotency_key = ?", key).Limit(1).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("查询批次失败: %w", err)
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

type csvRow struct {
	line   int
	fields []string
}

// parse 解码并解析CSV；首行为表头
func parse(content []byte, encoding string) ([]string, []csvRow, error) {
	var r io.Reader = bytes.NewReader(content)
	switch strings.ToUpper(strings.ReplaceAll(encoding, "-", "_")) {
	case "", "UTF_8", "UTF8":
		r = bytes.NewReader(bytes.TrimPrefix(content, []byte("\xEF\xBB\xBF")))
	case EncodingShiftJIS, "SJIS", "CP932":
		r = transform.NewReader(r, japanese.ShiftJIS.NewDecoder())
	default:
		return nil, nil, fmt.Errorf("不支持的编码: %s", encoding)
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil, errors.New("源文件为空")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("读取表头失败: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []csvRow
	for {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("解析CSV失败: %w", err)
		}
		line, _ := cr.FieldPos(0)
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			continue
		}
		rows = append(rows, csvRow{line: line, fields: fields})
	}
	return header, rows, nil
}

// stage 生成暂存记录：全部列 + 注入的公司代码
func stage(run *models.BatchRun, header []string, row csvRow, profile columnProfile) (*models.StagedRecord, error) {
	rec := &models.StagedRecord{
		BatchID:     run.BatchID,
		LineNo:      row.line,
		CompanyCode: run.CompanyCode,
	}

	cols := make([]models.ColumnDescriptor, 0, len(header)+1)
	for i, h := range header {
		raw := row.fields[i]
		c := models.ColumnDescriptor{
			Index:    i,
			Header:   h,
			RawValue: raw,
			DataKind: run.DataKind,
		}
		if valid := strings.ToValidUTF8(raw, "\uFFFD"); valid != raw {
			c.TransformedValue = valid
		}
		if p, ok := profile[h]; ok {
			c.TargetColumn = p.TargetColumn
			c.AttrCode = p.AttrCode
			c.IsRequired = p.IsRequired
			c.MappingSuccess = true
		}
		hoist(rec, c)
		cols = append(cols, c)
	}
	cols = append(cols, models.ColumnDescriptor{
		Index:          len(header),
		Header:         ColumnCompanyCode,
		RawValue:       run.CompanyCode,
		TargetColumn:   ColumnCompanyCode,
		DataKind:       run.DataKind,
		IsInjected:     true,
		MappingSuccess: true,
	})

	if err := rec.SetColumns(cols); err != nil {
		return nil, fmt.Errorf("生成暂存载荷失败: %w", err)
	}
	rec.RowFingerprint = fmt.Sprintf("%016x", xxh3.HashString(strings.Join(row.fields, "\x1f")))
	return rec, nil
}

func hoist(rec *models.StagedRecord, c models.ColumnDescriptor) {
	v := strings.TrimSpace(c.EffectiveValue())
	switch c.TargetColumn {
	case ColumnProductCode:
		rec.SourceProductCode = v
	case ColumnBrandCode:
		rec.BrandCode = v
	case ColumnCategoryCode:
		rec.CategoryCode = v
	case ColumnMgmtCode:
		rec.ManagementCode = v
	}
}
