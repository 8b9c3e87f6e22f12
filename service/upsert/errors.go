package upsert

// RecordError 记录级数据错误：回滚当前商品事务，写入 record_error 后继续下一个商品
type RecordError struct {
	Code   string
	Detail string
}

func (e *RecordError) Error() string {
	return e.Code + ": " + e.Detail
}
