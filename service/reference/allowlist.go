package reference

import (
	"catalog-hub/service/models"
	"fmt"
	"sync"

	"gorm.io/gorm/schema"
)

// ReferenceModels 允许参照解析访问的表模型
var ReferenceModels = []interface{}{
	&models.Brand{},
	&models.Category{},
	&models.RefDictionary{},
	&models.RefCrosswalk{},
}

// AllowList 参照解析可用的表名与列名白名单
type AllowList struct {
	tables map[string]map[string]struct{}
}

// NewAllowList 通过解析模型的 gorm schema 构建白名单
func NewAllowList(refModels ...interface{}) (*AllowList, error) {
	if len(refModels) == 0 {
		refModels = ReferenceModels
	}

	cache := &sync.Map{}
	allow := &AllowList{tables: make(map[string]map[string]struct{}, len(refModels))}
	for _, m := range refModels {
		s, err := schema.Parse(m, cache, schema.NamingStrategy{})
		if err != nil {
			return nil, fmt.Errorf("解析参照模型失败: %w", err)
		}
		cols := make(map[string]struct{}, len(s.DBNames))
		for _, name := range s.DBNames {
			cols[name] = struct{}{}
		}
		allow.tables[s.Table] = cols
	}
	return allow, nil
}

// HasColumn 表和列是否都在白名单中
func (a *AllowList) HasColumn(table, column string) bool {
	cols, ok := a.tables[table]
	if !ok {
		return false
	}
	_, ok = cols[column]
	return ok
}

// check 校验表名与一组列名，空列名视为未配置而跳过
func (a *AllowList) check(table string, columns ...string) error {
	if _, ok := a.tables[table]; !ok {
		return fmt.Errorf("表 %q: %w", table, ErrIdentifierNotAllowed)
	}
	for _, c := range columns {
		if c == "" {
			continue
		}
		if !a.HasColumn(table, c) {
			return fmt.Errorf("列 %q.%q: %w", table, c, ErrIdentifierNotAllowed)
		}
	}
	return nil
}
