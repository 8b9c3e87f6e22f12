package controllers

import "log/slog"

// APIResponse 统一API响应结构
type APIResponse struct {
	Status int         `json:"status" example:"0"`
	Msg    string      `json:"msg" example:"操作成功"`
	Data   interface{} `json:"data,omitempty"`
}

// PaginatedResponse 分页响应结构
type PaginatedResponse struct {
	Status int         `json:"status" example:"0"`
	Msg    string      `json:"msg" example:"操作成功"`
	Data   interface{} `json:"data"`
	Total  int64       `json:"total" example:"100"`
	Page   int         `json:"page" example:"1"`
	Size   int         `json:"size" example:"10"`
}

// 响应状态码
const (
	StatusOK            = 0
	StatusBadRequest    = 400
	StatusNotFound      = 404
	StatusConflict      = 409
	StatusInternalError = 500
)

// SuccessResponse 成功响应
func SuccessResponse(msg string, data interface{}) *APIResponse {
	return &APIResponse{Status: StatusOK, Msg: msg, Data: data}
}

// BadRequestResponse 参数错误响应
func BadRequestResponse(msg string, err error) *APIResponse {
	return errorResponse(StatusBadRequest, msg, err)
}

// NotFoundResponse 资源不存在响应
func NotFoundResponse(msg string, err error) *APIResponse {
	return errorResponse(StatusNotFound, msg, err)
}

// ConflictResponse 状态冲突响应
func ConflictResponse(msg string, err error) *APIResponse {
	return errorResponse(StatusConflict, msg, err)
}

// InternalErrorResponse 服务器内部错误响应
func InternalErrorResponse(msg string, err error) *APIResponse {
	if err != nil {
		slog.Error(msg, "error", err)
	}
	return errorResponse(StatusInternalError, msg, err)
}

func errorResponse(status int, msg string, err error) *APIResponse {
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	return &APIResponse{Status: status, Msg: msg}
}
