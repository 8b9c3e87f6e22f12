package meta

// 批次数据种类
const (
	DataKindProduct = "PRODUCT"
	DataKindEvent   = "EVENT"
)

// 批次状态常量
const (
	BatchStatusRunning   = "RUNNING"
	BatchStatusCompleted = "COMPLETED"
	BatchStatusPartial   = "PARTIAL"
	BatchStatusFailed    = "FAILED"
)

var BatchStatuses = []MetaField{
	{
		Name:        BatchStatusRunning,
		DisplayName: "执行中",
		Type:        "string",
		Description: "已由导入阶段创建，尚未结束",
	},
	{
		Name:        BatchStatusCompleted,
		DisplayName: "完成",
		Type:        "string",
		Description: "无错误记录",
	},
	{
		Name:        BatchStatusPartial,
		DisplayName: "部分成功",
		Type:        "string",
		Description: "存在错误记录，但至少一条记录处理成功",
	},
	{
		Name:        BatchStatusFailed,
		DisplayName: "失败",
		Type:        "string",
		Description: "没有成功记录或发生致命错误",
	},
}

// 处理阶段（record_error.step）
const (
	StepIngest  = "INGEST"
	StepCleanse = "CLEANSE"
	StepUpsert  = "UPSERT"
)

// IsValidDataKind 检查数据种类是否有效
func IsValidDataKind(kind string) bool {
	return kind == DataKindProduct || kind == DataKindEvent
}

// IsTerminalBatchStatus 是否为终态
func IsTerminalBatchStatus(status string) bool {
	switch status {
	case BatchStatusCompleted, BatchStatusPartial, BatchStatusFailed:
		return true
	}
	return false
}

// IsValidBatchStatus 检查批次状态是否有效
func IsValidBatchStatus(status string) bool {
	return status == BatchStatusRunning || IsTerminalBatchStatus(status)
}
