package cleansing

import (
	"catalog-hub/service/meta"
	"catalog-hub/service/models"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"golang.org/x/text/unicode/norm"
)

// Issue 质量明细中的单条问题
type Issue struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Function string `json:"function,omitempty"`
}

// workValue 策略链执行期间的工作值
type workValue struct {
	ID          string
	Label       string
	Required    bool
	RawFallback bool
	MatchMode   string
	DateLayouts []string
	Invalid     bool
	Issues      []Issue
}

func (w *workValue) addIssue(code, function, format string, args ...interface{}) {
	w.Issues = append(w.Issues, Issue{Code: code, Function: function, Message: fmt.Sprintf(format, args...)})
}

// primary 参与校验与类型转换的值：优先 id，其次名称
func (w *workValue) primary() string {
	if strings.TrimSpace(w.ID) != "" {
		return w.ID
	}
	return w.Label
}

func (w *workValue) blank() bool {
	return strings.TrimSpace(w.ID) == "" && strings.TrimSpace(w.Label) == ""
}

func (w *workValue) mapText(fn func(string) string) {
	w.ID = fn(w.ID)
	w.Label = fn(w.Label)
}

type policyFunc func(w *workValue, params models.JSONB)

// 白名单函数，不支持任意脚本
var whitelist = map[string]policyFunc{
	"TRIM":  func(w *workValue, _ models.JSONB) { w.mapText(strings.TrimSpace) },
	"UPPER": func(w *workValue, _ models.JSONB) { w.mapText(strings.ToUpper) },
	"LOWER": func(w *workValue, _ models.JSONB) { w.mapText(strings.ToLower) },
	// 全角半角统一
	"NFKC": func(w *workValue, _ models.JSONB) { w.mapText(norm.NFKC.String) },
	"REPLACE": func(w *workValue, p models.JSONB) {
		old := cast.ToString(p["old"])
		if old == "" {
			return
		}
		repl := cast.ToString(p["new"])
		w.mapText(func(s string) string { return strings.ReplaceAll(s, old, repl) })
	},
	"DEFAULT": func(w *workValue, p models.JSONB) {
		if w.blank() {
			w.ID = cast.ToString(p["value"])
		}
	},
	"MAX_LENGTH": func(w *workValue, p models.JSONB) {
		max := cast.ToInt(p["max"])
		if max <= 0 || w.blank() {
			return
		}
		if n := utf8.RuneCountInString(w.primary()); n > max {
			w.Invalid = true
			w.addIssue(meta.IssueValidationFailed, "MAX_LENGTH", "长度 %d 超过上限 %d", n, max)
		}
	},
	"RANGE": func(w *workValue, p models.JSONB) {
		if w.blank() {
			return
		}
		d, err := parseDecimal(w.primary())
		if err != nil {
			// 交给类型转换阶段报告
			return
		}
		if s := cast.ToString(p["min"]); s != "" {
			if min, err := decimal.NewFromString(s); err == nil && d.LessThan(min) {
				w.Invalid = true
				w.addIssue(meta.IssueValidationFailed, "RANGE", "%s 小于下限 %s", d.String(), min.String())
			}
		}
		if s := cast.ToString(p["max"]); s != "" {
			if max, err := decimal.NewFromString(s); err == nil && d.GreaterThan(max) {
				w.Invalid = true
				w.addIssue(meta.IssueValidationFailed, "RANGE", "%s 大于上限 %s", d.String(), max.String())
			}
		}
	},
	"PATTERN": func(w *workValue, p models.JSONB) {
		if w.blank() {
			return
		}
		re, err := compilePattern(cast.ToString(p["regex"]))
		if err != nil {
			slog.Warn("PATTERN 正则无效，已跳过", "regex", p["regex"], "error", err)
			return
		}
		if !re.MatchString(w.primary()) {
			w.Invalid = true
			w.addIssue(meta.IssueValidationFailed, "PATTERN", "不匹配 %s", re.String())
		}
	},
	"DATE_FORMAT": func(w *workValue, p models.JSONB) {
		if layout := cast.ToString(p["layout"]); layout != "" {
			w.DateLayouts = append(w.DateLayouts, layout)
		}
		if format := cast.ToString(p["format"]); format != "" {
			w.DateLayouts = append(w.DateLayouts, toGoLayout(format))
		}
	},
	"REQUIRED":     func(w *workValue, _ models.JSONB) { w.Required = true },
	"RAW_FALLBACK": func(w *workValue, _ models.JSONB) { w.RawFallback = true },
	"MATCH_MODE": func(w *workValue, p models.JSONB) {
		w.MatchMode = strings.ToUpper(strings.TrimSpace(cast.ToString(p["mode"])))
	},
}

// IsWhitelisted 函数是否在白名单中
func IsWhitelisted(function string) bool {
	_, ok := whitelist[strings.ToUpper(function)]
	return ok
}

func applyPolicy(w *workValue, p models.CleansePolicy) {
	fn, ok := whitelist[strings.ToUpper(p.Function)]
	if !ok {
		slog.Warn("清洗函数不在白名单中，已跳过", "attr_code", p.AttrCode, "function", p.Function, "policy_id", p.ID)
		w.addIssue(meta.IssueUnknownFunction, p.Function, "函数未注册")
		return
	}
	fn(w, p.Params)
}

var patternCache sync.Map

func compilePattern(expr string) (*regexp.Regexp, error) {
	if v, ok := patternCache.Load(expr); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	patternCache.Store(expr, re)
	return re, nil
}

var layoutTokens = strings.NewReplacer(
	"yyyy", "2006",
	"MM", "01",
	"dd", "02",
	"HH", "15",
	"mm", "04",
	"ss", "05",
)

// toGoLayout 将 yyyy/MM/dd 形式的格式转换为 Go 时间布局
func toGoLayout(format string) string {
	return layoutTokens.Replace(format)
}
