package upsert

import (
	"catalog-hub/service/batch"
	"catalog-hub/service/models"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 参与差异比较的血缘字段；批次相关字段（batch_id 等）不参与
var stableProvenanceKeys = []string{"source_system", "profile", "rule_version", "dictionary", "match_mode"}

func stableProvenance(p models.JSONB) models.JSONB {
	out := models.JSONB{}
	for _, k := range stableProvenanceKeys {
		if v, ok := p[k]; ok && v != nil && v != "" {
			out[k] = v
		}
	}
	return out
}

type eavKey struct {
	attr string
	seq  int
}

// eavValue 期望写入的 EAV 值
type eavValue struct {
	AttrCode   string
	AttrSeq    int
	DataType   string
	Text       *string
	Num        decimal.NullDecimal
	Date       *time.Time
	Code       *string
	Unit       string
	Quality    string
	Provenance models.JSONB
}

func (d eavValue) key() eavKey {
	return eavKey{d.AttrCode, d.AttrSeq}
}

func (d eavValue) fill(c *models.EAVColumns, batchID string) {
	c.AttrCode = d.AttrCode
	c.AttrSeq = d.AttrSeq
	c.DataType = d.DataType
	c.ValueText = d.Text
	c.ValueNum = d.Num
	c.ValueDate = d.Date
	c.ValueCode = d.Code
	c.Unit = d.Unit
	c.QualityStatus = d.Quality
	c.Provenance = d.Provenance
	c.IsActive = true
	c.LastBatchID = batchID
}

func (d eavValue) updates(batchID string) map[string]interface{} {
	return map[string]interface{}{
		"data_type":      d.DataType,
		"value_text":     d.Text,
		"value_num":      d.Num,
		"value_date":     d.Date,
		"value_code":     d.Code,
		"unit":           d.Unit,
		"quality_status": d.Quality,
		"provenance":     d.Provenance,
		"last_batch_id":  batchID,
	}
}

// matches 值列、质量、单位与稳定血缘均相同
func (d eavValue) matches(c *models.EAVColumns) bool {
	return c.DataType == d.DataType &&
		Equal(textOf(c.ValueText), textOf(d.Text)) &&
		Equal(decimalOf(c.ValueNum), decimalOf(d.Num)) &&
		Equal(dateOf(c.ValueDate), dateOf(d.Date)) &&
		Equal(textOf(c.ValueCode), textOf(d.Code)) &&
		c.Unit == d.Unit &&
		c.QualityStatus == d.Quality &&
		stableProvenance(c.Provenance).Canonical() == stableProvenance(d.Provenance).Canonical()
}

// eavRow product_eav 与 product_management_eav 共用的行约束
type eavRow[T any] interface {
	*T
	Columns() *models.EAVColumns
	SetOwner(id int64)
}

// syncEAV EAV 生命周期：新增 / 变化则更新 / 失效则复活 / 无变化跳过；本批未出现的有效键置为失效
func syncEAV[T any, PT eavRow[T]](tx *gorm.DB, ownerColumn string, ownerID int64, desired []eavValue, batchID string, st *batch.UpsertStats) error {
	var existing []T
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(ownerColumn+" = ?", ownerID).
		Order("id").
		Find(&existing).Error; err != nil {
		return fmt.Errorf("读取 EAV 失败: %w", err)
	}

	index := make(map[eavKey]PT, len(existing))
	for i := range existing {
		row := PT(&existing[i])
		c := row.Columns()
		index[eavKey{c.AttrCode, c.AttrSeq}] = row
	}

	touched := make(map[eavKey]bool, len(desired))
	for _, d := range desired {
		k := d.key()
		if touched[k] {
			continue
		}
		touched[k] = true

		row, ok := index[k]
		if !ok {
			row = PT(new(T))
			row.SetOwner(ownerID)
			d.fill(row.Columns(), batchID)
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("新增 EAV 失败 [%s/%d]: %w", d.AttrCode, d.AttrSeq, err)
			}
			st.Insert++
			continue
		}

		c := row.Columns()
		switch {
		case !c.IsActive:
			updates := d.updates(batchID)
			updates["is_active"] = true
			if err := tx.Model(row).Updates(updates).Error; err != nil {
				return fmt.Errorf("复活 EAV 失败 [%s/%d]: %w", d.AttrCode, d.AttrSeq, err)
			}
			st.Update++
			st.Reactivate++
		case !d.matches(c):
			if err := tx.Model(row).Updates(d.updates(batchID)).Error; err != nil {
				return fmt.Errorf("更新 EAV 失败 [%s/%d]: %w", d.AttrCode, d.AttrSeq, err)
			}
			st.Update++
		default:
			st.Skip++
		}
	}

	var retire []int64
	for k, row := range index {
		if c := row.Columns(); !touched[k] && c.IsActive {
			retire = append(retire, c.ID)
		}
	}
	if len(retire) == 0 {
		return nil
	}
	sort.Slice(retire, func(i, j int) bool { return retire[i] < retire[j] })
	if err := tx.Model(PT(new(T))).
		Where("id IN ?", retire).
		Updates(map[string]interface{}{"is_active": false, "last_batch_id": batchID}).Error; err != nil {
		return fmt.Errorf("失效 EAV 失败: %w", err)
	}
	st.Deactivate += len(retire)
	return nil
}
