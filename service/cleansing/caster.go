package cleansing

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// 默认日期布局，DATE_FORMAT 指定的布局优先
var defaultDateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006/1/2",
	"20060102",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	time.RFC3339,
}

var numberCleaner = strings.NewReplacer(",", "", " ", "", "_", "")

// 数值列统一为 numeric(20,6)
const (
	numPrecision = 20
	numScale     = 6
)

var numLimit = decimal.New(1, numPrecision-numScale)

// parseDecimal 解析数值，小数部分四舍五入到 6 位，整数部分超出列精度时报错
func parseDecimal(s string) (decimal.Decimal, error) {
	s = numberCleaner.Replace(strings.TrimSpace(s))
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("空值")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, err
	}
	d = d.Round(numScale)
	if d.Abs().GreaterThanOrEqual(numLimit) {
		return decimal.Decimal{}, fmt.Errorf("数值 %s 超出范围", s)
	}
	return d, nil
}

// castDate 解析日期并截断为 UTC 零点
func castDate(s string, layouts []string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range append(append([]string{}, layouts...), defaultDateLayouts...) {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("无法解析日期 %q", s)
}
