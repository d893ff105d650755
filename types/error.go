package types

import (
	"errors"
	"fmt"
)

// ErrorCode 全局统一错误码
type ErrorCode string

// 配置错误（致命，不可重试）
const (
	ErrConfiguration     ErrorCode = "CONFIGURATION"
	ErrDimensionMismatch ErrorCode = "DIMENSION_MISMATCH"
	ErrMissingCredential ErrorCode = "MISSING_CREDENTIAL"
)

// 协作方瞬时错误（调用点捕获，替换为安全回退）
const (
	ErrUpstreamTimeout     ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamError       ErrorCode = "UPSTREAM_ERROR"
	ErrUnparsableOutput    ErrorCode = "UNPARSABLE_OUTPUT"
	ErrServiceUnavailable  ErrorCode = "SERVICE_UNAVAILABLE"
	ErrExtractionFailed    ErrorCode = "EXTRACTION_FAILED"
	ErrUnsupportedFormat   ErrorCode = "UNSUPPORTED_FORMAT"
	ErrStoreUninitialized  ErrorCode = "STORE_UNINITIALIZED"
	ErrProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
)

// 结构性流水线失败（只对所属 workflow 致命）
const (
	ErrEmptyStepOutput ErrorCode = "EMPTY_STEP_OUTPUT"
	ErrPrecondition    ErrorCode = "PRECONDITION"
)

// 数据损坏（异步检测并修复，不向用户抛出）
const (
	ErrStateCorruption ErrorCode = "STATE_CORRUPTION"
)

// Error 携带错误码和可重试标记的结构化错误。
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回底层原因。
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError 创建结构化错误。
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause 附加底层原因。
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable 标记错误可重试。
func (e *Error) WithRetryable() *Error {
	e.Retryable = true
	return e
}

// CodeOf 提取错误码；非结构化错误返回空串。
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsFatalConfig 报告 err 是否为不可重试的配置错误。
func IsFatalConfig(err error) bool {
	switch CodeOf(err) {
	case ErrConfiguration, ErrDimensionMismatch, ErrMissingCredential:
		return true
	}
	return false
}
