package meta

// 属性数据类型
const (
	DataTypeText = "TEXT"
	DataTypeNum  = "NUM"
	DataTypeDate = "DATE"
	DataTypeList = "LIST"
	DataTypeRef  = "REF"
)

// 质量状态
const (
	QualityOK   = "OK"
	QualityWarn = "WARN"
	QualityNG   = "NG"
)

// 固定列映射的取值模式
const (
	ValueRoleIDLabel   = "ID_LABEL"   // id 与名称都保留
	ValueRoleIDOnly    = "ID_ONLY"    // 只保留 id
	ValueRoleLabelOnly = "LABEL_ONLY" // 只保留名称
)

// 参照解析匹配模式
const (
	MatchModeID   = "ID"
	MatchModeAuto = "AUTO"
)

// 参照解析形态
const (
	ShapeSingleHop = "SINGLE_HOP"
	ShapeTwoHop    = "TWO_HOP"
)

// 策略作用域通配符
const ScopeWildcard = "*"

// 主表状态列缺省值
const StatusUnknown = "UNKNOWN"

// 具有特殊含义的属性代码
const (
	AttrProductCode    = "PRODUCT_CD"
	AttrManagementCode = "MGMT_CD"
	AttrBrand          = "BRAND"
	AttrCategory       = "CATEGORY"
)

// IsValidDataType 检查属性数据类型是否有效
func IsValidDataType(dataType string) bool {
	validTypes := map[string]bool{
		DataTypeText: true,
		DataTypeNum:  true,
		DataTypeDate: true,
		DataTypeList: true,
		DataTypeRef:  true,
	}
	return validTypes[dataType]
}

// NeedsResolution LIST/REF 类型需要参照解析
func NeedsResolution(dataType string) bool {
	return dataType == DataTypeList || dataType == DataTypeRef
}

// IsValidValueRole 检查取值模式是否有效
func IsValidValueRole(role string) bool {
	return role == ValueRoleIDLabel || role == ValueRoleIDOnly || role == ValueRoleLabelOnly
}

// IsPassingQuality NG 以外的状态可以进入 Upsert
func IsPassingQuality(status string) bool {
	return status == QualityOK || status == QualityWarn
}
