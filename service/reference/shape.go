/*
 * @module service/reference/shape
 * @description 参照解析形态：单跳查表与两跳连接，以封闭的代数类型表达
 * @architecture 领域层 - 值对象
 * @stateFlow ReferenceMapping 配置行 -> Compile（白名单校验） -> Mapping
 * @rules 表名与列名只来自可信配置行，且必须在白名单中；CSV 数据只作为绑定参数
 * @dependencies catalog-hub/service/models, github.com/lib/pq
 * @refs service/reference/resolver.go, service/registry/snapshot.go
 */

package reference

import (
	"catalog-hub/service/meta"
	"catalog-hub/service/models"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrMissingJoin 两跳映射缺少连接定义
	ErrMissingJoin = errors.New("两跳映射缺少连接定义")
	// ErrUnknownShape 未知的解析形态
	ErrUnknownShape = errors.New("未知的参照解析形态")
	// ErrIdentifierNotAllowed 表名或列名不在白名单中
	ErrIdentifierNotAllowed = errors.New("标识符不在白名单中")
)

// Shape 解析形态，只有 SingleHop 与 TwoHop 两种实现
type Shape interface {
	shape()
}

// SingleHop 单表查找：按 id 列（可选附加过滤列）匹配，返回代码列
type SingleHop struct {
	Table             string
	FilterColumn      string
	FilterValue       string
	IDColumn          string
	LabelColumn       string
	CodeColumn        string
	ReturnLabelColumn string
}

// ColumnPair 两跳连接的列等值条件
type ColumnPair struct {
	From string // 第一跳表的列
	To   string // 第二跳表的列
}

// TwoHop 先在第一跳表匹配，再按列等值连接第二跳表取代码
type TwoHop struct {
	First       SingleHop
	Join        []ColumnPair
	Table       string
	CodeColumn  string
	LabelColumn string
}

func (SingleHop) shape() {}
func (TwoHop) shape()    {}

// Mapping 编译后的参照映射
type Mapping struct {
	Code      string
	Shape     Shape
	MatchMode string
}

// Lineage 返回解析路径描述，写入血缘
func (m *Mapping) Lineage() string {
	switch s := m.Shape.(type) {
	case SingleHop:
		return s.Table + "." + s.CodeColumn
	case TwoHop:
		return s.First.Table + "->" + s.Table + "." + s.CodeColumn
	}
	return ""
}

// Compile 校验配置行并编译为 Mapping
func Compile(m models.ReferenceMapping, allow *AllowList) (*Mapping, error) {
	first := SingleHop{
		Table:             m.SourceTable,
		FilterColumn:      m.FilterColumn,
		FilterValue:       m.FilterValue,
		IDColumn:          m.IDColumn,
		LabelColumn:       m.LabelColumn,
		CodeColumn:        m.ReturnCodeColumn,
		ReturnLabelColumn: m.ReturnLabelColumn,
	}
	if first.Table == "" || first.IDColumn == "" {
		return nil, fmt.Errorf("映射 %s 缺少源表或 id 列", m.MappingCode)
	}
	if err := allow.check(first.Table, first.IDColumn, first.FilterColumn, first.LabelColumn); err != nil {
		return nil, fmt.Errorf("映射 %s: %w", m.MappingCode, err)
	}

	mode := strings.ToUpper(strings.TrimSpace(m.MatchMode))
	if mode == "" {
		mode = meta.MatchModeID
	}

	switch strings.ToUpper(m.Shape) {
	case meta.ShapeSingleHop:
		if first.CodeColumn == "" {
			return nil, fmt.Errorf("映射 %s 缺少返回代码列", m.MappingCode)
		}
		if err := allow.check(first.Table, first.CodeColumn, first.ReturnLabelColumn); err != nil {
			return nil, fmt.Errorf("映射 %s: %w", m.MappingCode, err)
		}
		return &Mapping{Code: m.MappingCode, Shape: first, MatchMode: mode}, nil

	case meta.ShapeTwoHop:
		pairs := joinPairs(m.JoinColumns)
		if m.JoinTable == "" || len(pairs) == 0 {
			return nil, fmt.Errorf("映射 %s: %w", m.MappingCode, ErrMissingJoin)
		}
		if m.ReturnCodeColumn == "" {
			return nil, fmt.Errorf("映射 %s 缺少返回代码列", m.MappingCode)
		}
		hop := TwoHop{
			First:       first,
			Join:        pairs,
			Table:       m.JoinTable,
			CodeColumn:  m.ReturnCodeColumn,
			LabelColumn: m.ReturnLabelColumn,
		}
		// 两跳时返回列属于第二跳表
		hop.First.CodeColumn = ""
		hop.First.ReturnLabelColumn = ""
		if err := allow.check(hop.Table, hop.CodeColumn, hop.LabelColumn); err != nil {
			return nil, fmt.Errorf("映射 %s: %w", m.MappingCode, err)
		}
		for _, p := range pairs {
			if err := allow.check(first.Table, p.From); err != nil {
				return nil, fmt.Errorf("映射 %s: %w", m.MappingCode, err)
			}
			if err := allow.check(hop.Table, p.To); err != nil {
				return nil, fmt.Errorf("映射 %s: %w", m.MappingCode, err)
			}
		}
		return &Mapping{Code: m.MappingCode, Shape: hop, MatchMode: mode}, nil
	}

	return nil, fmt.Errorf("映射 %s 形态 %q: %w", m.MappingCode, m.Shape, ErrUnknownShape)
}

// joinPairs 将 {源列: 连接列} 展开为按源列排序的等值条件
func joinPairs(cols models.JSONB) []ColumnPair {
	pairs := make([]ColumnPair, 0, len(cols))
	for from, to := range cols.StringMap() {
		if from == "" || to == "" {
			continue
		}
		pairs = append(pairs, ColumnPair{From: from, To: to})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].From < pairs[j].From })
	return pairs
}
