package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// 通用 JSON 类型，用于统计文档、质量明细、血缘等半结构化列
type JSONB map[string]interface{}

// 实现 Scanner 接口
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("类型断言失败: 不是 []byte 或 string")
	}
	return json.Unmarshal(bytes, j)
}

// 实现 Valuer 接口
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// ToJSONB 将任意结构体转换为 JSONB（经由 JSON 编码）
func ToJSONB(v interface{}) (JSONB, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out JSONB
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Decode 将 JSONB 解码到目标结构体
func (j JSONB) Decode(into interface{}) error {
	b, err := json.Marshal(j)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, into)
}

// Canonical 返回稳定的 JSON 文本（键有序），用于差异比较
func (j JSONB) Canonical() string {
	if len(j) == 0 {
		return "{}"
	}
	// encoding/json 对 map 键按字典序输出
	b, err := json.Marshal(map[string]interface{}(j))
	if err != nil {
		return ""
	}
	return string(b)
}

// StringMap 将 JSONB 中的字符串值展开为 map[string]string，非字符串值被忽略
func (j JSONB) StringMap() map[string]string {
	out := make(map[string]string, len(j))
	for k, v := range j {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
