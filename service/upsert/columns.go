package upsert

import (
	"catalog-hub/service/batch"
	"catalog-hub/service/meta"
	"catalog-hub/service/models"

	"gorm.io/gorm"
)

// Kind 主表列的取值类型
type Kind int

const (
	KindText Kind = iota + 1
	KindDecimal
	KindDate
	KindID
)

// 外键列对应的参照表
const (
	refBrand    = "brand"
	refCategory = "category"
)

// column 封闭的列定义：只有登记在列集合中的列才能被写入
type column[T any] struct {
	Name  string
	Kind  Kind
	Ref   string
	Scale int32 // KindDecimal 的列小数位，与表定义一致
	Get   func(*T) Value
	Set   func(*T, Value)
}

// product_master.g_price numeric(20,4)
const priceScale = 4

type columnSet[T any] []column[T]

func (cs columnSet[T]) lookup(name string) (column[T], bool) {
	for _, c := range cs {
		if c.Name == name {
			return c, true
		}
	}
	return column[T]{}, false
}

// ColumnChange 单列变更
type ColumnChange struct {
	Column string
	Old    Value
	New    Value
}

// diff 按列集合顺序比较，只返回真正变化的列
func (cs columnSet[T]) diff(row *T, desired map[string]Value) []ColumnChange {
	var changes []ColumnChange
	for _, c := range cs {
		v, ok := desired[c.Name]
		if !ok {
			continue
		}
		if old := c.Get(row); !Equal(old, v) {
			changes = append(changes, ColumnChange{Column: c.Name, Old: old, New: v})
		}
	}
	return changes
}

func (cs columnSet[T]) apply(row *T, changes []ColumnChange) {
	for _, ch := range changes {
		if c, ok := cs.lookup(ch.Column); ok {
			c.Set(row, ch.New)
		}
	}
}

// all 新建行时全部期望值都视为变更
func (cs columnSet[T]) all(row *T, desired map[string]Value) []ColumnChange {
	var changes []ColumnChange
	for _, c := range cs {
		if v, ok := desired[c.Name]; ok {
			changes = append(changes, ColumnChange{Column: c.Name, Old: c.Get(row), New: v})
		}
	}
	return changes
}

// toUpdates 只在写库边界转换为列映射
func toUpdates(changes []ColumnChange, extra map[string]interface{}) map[string]interface{} {
	updates := make(map[string]interface{}, len(changes)+len(extra))
	for _, ch := range changes {
		updates[ch.Column] = sqlValue(ch.New)
	}
	for k, v := range extra {
		updates[k] = v
	}
	return updates
}

// insertRow 新建行：全部期望列计为 insert
func insertRow[T any](tx *gorm.DB, cs columnSet[T], row *T, desired map[string]Value, st *batch.UpsertStats) error {
	changes := cs.all(row, desired)
	cs.apply(row, changes)
	if err := tx.Create(row).Error; err != nil {
		return err
	}
	st.Insert += len(changes)
	return nil
}

// updateRow 已有行：只更新变化的列；无变化时不写库
func updateRow[T any](tx *gorm.DB, cs columnSet[T], row *T, desired map[string]Value, extra map[string]interface{}, st *batch.UpsertStats) error {
	changes := cs.diff(row, desired)
	st.Skip += len(desired) - len(changes)
	if len(changes) == 0 {
		return nil
	}
	if err := tx.Model(row).Updates(toUpdates(changes, extra)).Error; err != nil {
		return err
	}
	cs.apply(row, changes)
	st.Update += len(changes)
	return nil
}

func statusColumn(name string, field func(*models.ProductMaster) *string) column[models.ProductMaster] {
	return column[models.ProductMaster]{
		Name: name,
		Kind: KindText,
		Get: func(m *models.ProductMaster) Value {
			if s := *field(m); s != "" {
				return TextValue(s)
			}
			return nil
		},
		Set: func(m *models.ProductMaster, v Value) {
			if s, ok := v.(TextValue); ok && s != "" {
				*field(m) = string(s)
				return
			}
			*field(m) = meta.StatusUnknown
		},
	}
}

// masterColumns 商品主表可写列
var masterColumns = columnSet[models.ProductMaster]{
	{
		Name: "g_brand_id", Kind: KindID, Ref: refBrand,
		Get: func(m *models.ProductMaster) Value { return idOf(m.GBrandID) },
		Set: func(m *models.ProductMaster, v Value) { setID(&m.GBrandID, v) },
	},
	{
		Name: "g_category_id", Kind: KindID, Ref: refCategory,
		Get: func(m *models.ProductMaster) Value { return idOf(m.GCategoryID) },
		Set: func(m *models.ProductMaster, v Value) { setID(&m.GCategoryID, v) },
	},
	{
		Name: "g_product_name", Kind: KindText,
		Get: func(m *models.ProductMaster) Value { return textOf(m.GProductName) },
		Set: func(m *models.ProductMaster, v Value) { setText(&m.GProductName, v) },
	},
	{
		Name: "g_currency", Kind: KindText,
		Get: func(m *models.ProductMaster) Value { return textOf(m.GCurrency) },
		Set: func(m *models.ProductMaster, v Value) { setText(&m.GCurrency, v) },
	},
	{
		Name: "g_price", Kind: KindDecimal, Scale: priceScale,
		Get: func(m *models.ProductMaster) Value { return decimalOf(m.GPrice) },
		Set: func(m *models.ProductMaster, v Value) { setDecimal(&m.GPrice, v) },
	},
	{
		Name: "g_release_date", Kind: KindDate,
		Get: func(m *models.ProductMaster) Value { return dateOf(m.GReleaseDate) },
		Set: func(m *models.ProductMaster, v Value) { setDate(&m.GReleaseDate, v) },
	},
	{
		Name: "g_color_cd", Kind: KindText,
		Get: func(m *models.ProductMaster) Value { return textOf(m.GColorCd) },
		Set: func(m *models.ProductMaster, v Value) { setText(&m.GColorCd, v) },
	},
	statusColumn("g_sales_status_cd", func(m *models.ProductMaster) *string { return &m.GSalesStatusCd }),
	statusColumn("g_stock_status_cd", func(m *models.ProductMaster) *string { return &m.GStockStatusCd }),
	statusColumn("g_publish_status_cd", func(m *models.ProductMaster) *string { return &m.GPublishStatusCd }),
}

// mgmtColumns 管理实体可写列
var mgmtColumns = columnSet[models.ProductManagement]{
	{
		Name: "g_brand_id", Kind: KindID, Ref: refBrand,
		Get: func(m *models.ProductManagement) Value { return idOf(m.GBrandID) },
		Set: func(m *models.ProductManagement, v Value) { setID(&m.GBrandID, v) },
	},
	{
		Name: "g_category_id", Kind: KindID, Ref: refCategory,
		Get: func(m *models.ProductManagement) Value { return idOf(m.GCategoryID) },
		Set: func(m *models.ProductManagement, v Value) { setID(&m.GCategoryID, v) },
	},
	{
		Name: "g_mgmt_name", Kind: KindText,
		Get: func(m *models.ProductManagement) Value { return textOf(m.GMgmtName) },
		Set: func(m *models.ProductManagement, v Value) { setText(&m.GMgmtName, v) },
	},
}
