package registry

import (
	"catalog-hub/service/meta"
	"catalog-hub/service/models"
	"sort"
)

// PolicyChain 按步骤号排序的策略链
type PolicyChain []models.CleansePolicy

// RuleVersion 链中最大的规则版本号，链为空时返回空串
func (c PolicyChain) RuleVersion() string {
	v := ""
	for _, p := range c {
		if p.RuleVersion > v {
			v = p.RuleVersion
		}
	}
	return v
}

// Functions 链中的函数名，写入质量明细
func (c PolicyChain) Functions() []string {
	out := make([]string, 0, len(c))
	for _, p := range c {
		out = append(out, p.Function)
	}
	return out
}

func matchScope(scope, value string) bool {
	return scope == meta.ScopeWildcard || scope == "" || scope == value
}

// specificity 非通配字段越多越具体；数量相同时 公司 > 品牌 > 品类
func specificity(p models.CleansePolicy) int {
	score := 0
	if p.CompanyCode != meta.ScopeWildcard && p.CompanyCode != "" {
		score += 8 + 4
	}
	if p.BrandCode != meta.ScopeWildcard && p.BrandCode != "" {
		score += 8 + 2
	}
	if p.CategoryCode != meta.ScopeWildcard && p.CategoryCode != "" {
		score += 8 + 1
	}
	return score
}

func buildChain(policies []models.CleansePolicy, company, brand, category string) PolicyChain {
	best := make(map[int]models.CleansePolicy)
	for _, p := range policies {
		if !matchScope(p.CompanyCode, company) || !matchScope(p.BrandCode, brand) || !matchScope(p.CategoryCode, category) {
			continue
		}
		cur, ok := best[p.StepNo]
		if !ok || specificity(p) > specificity(cur) || (specificity(p) == specificity(cur) && p.ID < cur.ID) {
			best[p.StepNo] = p
		}
	}

	chain := make(PolicyChain, 0, len(best))
	for _, p := range best {
		chain = append(chain, p)
	}
	sort.Slice(chain, func(i, j int) bool { return chain[i].StepNo < chain[j].StepNo })
	return chain
}
