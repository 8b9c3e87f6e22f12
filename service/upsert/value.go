package upsert

import (
	"time"

	"github.com/shopspring/decimal"
)

// Value 主表列的类型化取值；nil 表示 NULL
type Value interface {
	isValue()
}

// TextValue 文本
type TextValue string

// DecimalValue 数值（金额等），按数值比较
type DecimalValue struct{ decimal.Decimal }

// DateValue 日期，只比较日历日
type DateValue struct{ time.Time }

// IDValue 外键代理键
type IDValue int64

func (TextValue) isValue()    {}
func (DecimalValue) isValue() {}
func (DateValue) isValue()    {}
func (IDValue) isValue()      {}

// Equal 按类型分派的相等比较
// 字符串不同但类型上等价的取值（如 1200 与 1200.00、不同时刻的同一天）视为相等
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case TextValue:
		y, ok := b.(TextValue)
		return ok && x == y
	case DecimalValue:
		y, ok := b.(DecimalValue)
		return ok && x.Equal(y.Decimal)
	case DateValue:
		y, ok := b.(DateValue)
		return ok && sameDay(x.Time, y.Time)
	case IDValue:
		y, ok := b.(IDValue)
		return ok && x == y
	}
	return false
}

func sameDay(a, b time.Time) bool {
	return a.Format(time.DateOnly) == b.Format(time.DateOnly)
}

// sqlValue 写库边界：转换为驱动可接受的值
func sqlValue(v Value) interface{} {
	switch x := v.(type) {
	case TextValue:
		return string(x)
	case DecimalValue:
		return x.Decimal
	case DateValue:
		return dateOnly(x.Time)
	case IDValue:
		return int64(x)
	}
	return nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// 指针字段与 Value 之间的转换
func textOf(p *string) Value {
	if p == nil {
		return nil
	}
	return TextValue(*p)
}

func setText(dst **string, v Value) {
	if s, ok := v.(TextValue); ok {
		str := string(s)
		*dst = &str
		return
	}
	*dst = nil
}

func idOf(p *int64) Value {
	if p == nil {
		return nil
	}
	return IDValue(*p)
}

func setID(dst **int64, v Value) {
	if id, ok := v.(IDValue); ok {
		n := int64(id)
		*dst = &n
		return
	}
	*dst = nil
}

func decimalOf(d decimal.NullDecimal) Value {
	if !d.Valid {
		return nil
	}
	return DecimalValue{d.Decimal}
}

func setDecimal(dst *decimal.NullDecimal, v Value) {
	if d, ok := v.(DecimalValue); ok {
		*dst = decimal.NullDecimal{Decimal: d.Decimal, Valid: true}
		return
	}
	*dst = decimal.NullDecimal{}
}

func dateOf(p *time.Time) Value {
	if p == nil {
		return nil
	}
	return DateValue{*p}
}

func setDate(dst **time.Time, v Value) {
	if d, ok := v.(DateValue); ok {
		t := dateOnly(d.Time)
		*dst = &t
		return
	}
	*dst = nil
}
