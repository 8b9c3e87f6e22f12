package meta

// 记录级错误代码（record_error.error_code）
const (
	ErrCodeMissingProductCode = "MISSING_PRODUCT_CODE"
	ErrCodeInvalidProductCode = "INVALID_PRODUCT_CODE"
	ErrCodeCategoryNotFound   = "CATEGORY_NOT_FOUND"
	ErrCodeIdentityConflict   = "IDENTITY_CONFLICT"
	ErrCodeManagementFailed   = "MANAGEMENT_FAILED"
	ErrCodeUpsertFailed       = "UPSERT_FAILED"
	ErrCodeCleanseStageFailed = "CLEANSE_STAGE_FAILED"
	ErrCodeIngestRowInvalid   = "INGEST_ROW_INVALID"
	ErrCodePayloadInvalid     = "PAYLOAD_INVALID"
)

// MaxCodeLength 商品代码、管理代码的最大长度（product_identity 等表的列宽）
const MaxCodeLength = 128

// 质量明细中的问题代码（quality_detail.issues[].code）
const (
	IssueMissingRequired   = "MISSING_REQUIRED"
	IssueCastFailed        = "CAST_FAILED"
	IssueValidationFailed  = "VALIDATION_FAILED"
	IssueRefUnresolved     = "REF_UNRESOLVED"
	IssueRefMappingMissing = "REF_MAPPING_MISSING"
	IssueRawFallback       = "RAW_FALLBACK"
	IssueUnknownFunction   = "UNKNOWN_FUNCTION"
)
