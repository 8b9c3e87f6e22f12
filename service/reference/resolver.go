package reference

import (
	"catalog-hub/service/meta"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// 未解析原因
const (
	ReasonNotFound         = "NOT_FOUND"
	ReasonMappingMissing   = "MAPPING_MISSING"
	ReasonUnknownMatchMode = "UNKNOWN_MATCH_MODE"
	ReasonEmptyKey         = "EMPTY_KEY"
)

// Result 参照解析结果，Found 为 false 时 Code/Label 为空
type Result struct {
	Code   string `json:"code"`
	Label  string `json:"label"`
	Found  bool   `json:"found"`
	Reason string `json:"reason,omitempty"`
}

func unresolved(reason string) Result {
	return Result{Reason: reason}
}

// Resolver 参照解析器，数据问题一律返回未解析，只有基础设施故障返回 error
type Resolver struct {
	db     *gorm.DB
	caches []Cache
}

// NewResolver 创建解析器，caches 按顺序逐级查找（通常为批次内存缓存 + Redis）
func NewResolver(db *gorm.DB, caches ...Cache) *Resolver {
	active := make([]Cache, 0, len(caches))
	for _, c := range caches {
		if c != nil {
			active = append(active, c)
		}
	}
	return &Resolver{db: db, caches: active}
}

// Resolve 将源 id/名称解析为标准代码
func (r *Resolver) Resolve(ctx context.Context, m *Mapping, id, label string) (Result, error) {
	if m == nil || m.Shape == nil {
		return unresolved(ReasonMappingMissing), nil
	}
	if m.MatchMode != meta.MatchModeID && m.MatchMode != meta.MatchModeAuto {
		slog.Warn("未知的匹配模式，按未解析处理", "mapping_code", m.Code, "match_mode", m.MatchMode)
		return unresolved(ReasonUnknownMatchMode), nil
	}

	id = strings.TrimSpace(id)
	label = strings.TrimSpace(label)
	if m.MatchMode == meta.MatchModeID {
		label = ""
	}
	if id == "" && label == "" {
		return unresolved(ReasonEmptyKey), nil
	}

	key := cacheKey(m, id, label)
	for i, c := range r.caches {
		if res, ok := c.Get(ctx, key); ok {
			// 回填上一级缓存
			for j := 0; j < i; j++ {
				r.caches[j].Set(ctx, key, res)
			}
			return res, nil
		}
	}

	query, args, ok := buildQuery(m, id, label)
	if !ok {
		return unresolved(ReasonEmptyKey), nil
	}

	var rows []lookupRow
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return Result{}, fmt.Errorf("参照查询失败 [%s]: %w", m.Code, err)
	}

	res := unresolved(ReasonNotFound)
	if len(rows) > 0 && rows[0].Code != nil && *rows[0].Code != "" {
		res = Result{Code: *rows[0].Code, Found: true}
		if rows[0].Label != nil {
			res.Label = *rows[0].Label
		}
	}

	for _, c := range r.caches {
		c.Set(ctx, key, res)
	}
	return res, nil
}

type lookupRow struct {
	Code  *string `gorm:"column:code"`
	Label *string `gorm:"column:label"`
}

func cacheKey(m *Mapping, id, label string) string {
	return strings.Join([]string{m.Code, m.MatchMode, id, label}, "\x1f")
}

// buildQuery 生成查询语句；所有标识符均已通过白名单并加引号，源值只作为绑定参数
func buildQuery(m *Mapping, id, label string) (string, []interface{}, bool) {
	q := pq.QuoteIdentifier

	var (
		first     SingleHop
		selectSQL string
		fromSQL   string
	)
	switch s := m.Shape.(type) {
	case SingleHop:
		first = s
		selectSQL = "SELECT " + textExpr("t1", s.CodeColumn) + " AS code, " + textExpr("t1", s.ReturnLabelColumn) + " AS label"
		fromSQL = " FROM " + q(s.Table) + " t1"
	case TwoHop:
		first = s.First
		selectSQL = "SELECT " + textExpr("t2", s.CodeColumn) + " AS code, " + textExpr("t2", s.LabelColumn) + " AS label"
		on := make([]string, 0, len(s.Join))
		for _, p := range s.Join {
			on = append(on, "t1."+q(p.From)+" = t2."+q(p.To))
		}
		fromSQL = " FROM " + q(first.Table) + " t1 JOIN " + q(s.Table) + " t2 ON " + strings.Join(on, " AND ")
	default:
		return "", nil, false
	}

	var (
		where []string
		args  []interface{}
	)
	if id != "" {
		where = append(where, "t1."+q(first.IDColumn)+" = ?")
		args = append(args, id)
	}
	if label != "" && first.LabelColumn != "" {
		where = append(where, "t1."+q(first.LabelColumn)+" = ?")
		args = append(args, label)
	}
	if len(where) == 0 {
		return "", nil, false
	}
	if first.FilterColumn != "" {
		where = append(where, "t1."+q(first.FilterColumn)+" = ?")
		args = append(args, first.FilterValue)
	}

	return selectSQL + fromSQL + " WHERE " + strings.Join(where, " AND ") + " LIMIT 1", args, true
}

func textExpr(alias, column string) string {
	if column == "" {
		return "NULL"
	}
	return "CAST(" + alias + "." + pq.QuoteIdentifier(column) + " AS TEXT)"
}
