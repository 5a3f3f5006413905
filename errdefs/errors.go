package errdefs

import (
	"errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode string

const (
	// 输入相关错误，发生在任何设备I/O之前
	ErrCodePrecondition ErrorCode = "PRECONDITION"

	// 会话相关错误
	ErrCodeConnection    ErrorCode = "CONNECTION"
	ErrCodeSessionClosed ErrorCode = "SESSION_CLOSED"

	// 查询相关错误
	ErrCodeDeviceQuery ErrorCode = "DEVICE_QUERY"

	// 配置变更各阶段错误
	ErrCodeStage      ErrorCode = "STAGE"
	ErrCodeValidation ErrorCode = "VALIDATION"
	ErrCodeCommit     ErrorCode = "COMMIT"
)

// 配置变更阶段名称
const (
	PhaseStage    = "stage"
	PhaseValidate = "validate"
	PhaseCommit   = "commit"
)

// Error 设备操作错误
type Error struct {
	Code    ErrorCode              `json:"code"`
	Phase   string                 `json:"phase,omitempty"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"` // 原始错误，不参与JSON序列化
}

// Error 实现error接口
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 按错误码匹配，errors.Is(err, errdefs.ErrValidation) 不比较消息内容
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// AddDetail 添加错误详细信息
func (e *Error) AddDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Detail 读取详细信息
func (e *Error) Detail(key string) (interface{}, bool) {
	if e.Details == nil {
		return nil, false
	}
	v, ok := e.Details[key]
	return v, ok
}

// 预定义的哨兵错误，仅用于errors.Is比较
var (
	ErrPrecondition  = &Error{Code: ErrCodePrecondition, Message: "precondition failed"}
	ErrConnection    = &Error{Code: ErrCodeConnection, Message: "device connection failed"}
	ErrSessionClosed = &Error{Code: ErrCodeSessionClosed, Message: "device session is not connected"}
	ErrDeviceQuery   = &Error{Code: ErrCodeDeviceQuery, Message: "device query failed"}
	ErrStage         = &Error{Code: ErrCodeStage, Phase: PhaseStage, Message: "stage failed"}
	ErrValidation    = &Error{Code: ErrCodeValidation, Phase: PhaseValidate, Message: "validation failed"}
	ErrCommit        = &Error{Code: ErrCodeCommit, Phase: PhaseCommit, Message: "commit failed"}
)

// New 创建新的错误
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Wrap 创建带原因的错误
func Wrap(code ErrorCode, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

func MissingInput(field string) *Error {
	return New(ErrCodePrecondition, fmt.Sprintf("missing required input: %s", field)).
		AddDetail("field", field)
}

func InvalidInput(field, reason string) *Error {
	return New(ErrCodePrecondition, fmt.Sprintf("invalid input '%s': %s", field, reason)).
		AddDetail("field", field).
		AddDetail("reason", reason)
}

func Connection(cause error, format string, args ...interface{}) *Error {
	return Wrap(ErrCodeConnection, cause, format, args...)
}

func SessionClosed(operation string) *Error {
	return New(ErrCodeSessionClosed, fmt.Sprintf("%s: device session is not connected", operation)).
		AddDetail("operation", operation)
}

func DeviceQuery(cause error, format string, args ...interface{}) *Error {
	return Wrap(ErrCodeDeviceQuery, cause, format, args...)
}

func Stage(cause error, format string, args ...interface{}) *Error {
	e := Wrap(ErrCodeStage, cause, format, args...)
	e.Phase = PhaseStage
	return e
}

func Validation(cause error, format string, args ...interface{}) *Error {
	e := Wrap(ErrCodeValidation, cause, format, args...)
	e.Phase = PhaseValidate
	return e
}

func Commit(cause error, format string, args ...interface{}) *Error {
	e := Wrap(ErrCodeCommit, cause, format, args...)
	e.Phase = PhaseCommit
	return e
}

// Get 获取链上最外层的*Error，如果没有则返回nil
func Get(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// CodeOf 返回最外层错误码
func CodeOf(err error) ErrorCode {
	if e := Get(err); e != nil {
		return e.Code
	}
	return ""
}

// IsCode 检查错误链上是否存在指定错误码
func IsCode(err error, code ErrorCode) bool {
	return errors.Is(err, &Error{Code: code})
}

// IsMutationPhase 检查是否为配置变更阶段错误
func IsMutationPhase(err error) bool {
	switch CodeOf(err) {
	case ErrCodeStage, ErrCodeValidation, ErrCodeCommit:
		return true
	default:
		return false
	}
}

// RecoveryHint 给操作员的处理建议
func RecoveryHint(err error) string {
	if err == nil {
		return ""
	}
	e := Get(err)
	if e == nil {
		return "unexpected failure; inspect the logs"
	}
	switch e.Code {
	case ErrCodePrecondition:
		return "fix the input and retry; the device was not contacted"
	case ErrCodeSessionClosed:
		return "the session was already closed; open a new session before retrying"
	case ErrCodeConnection:
		return "reconnect to the device; nothing was changed"
	case ErrCodeDeviceQuery:
		if IsCode(e.Cause, ErrCodeConnection) {
			return "peer state could not be read because the connection failed; reconnect and query again"
		}
		return "the device answered with an error or an unreadable payload; check the router and query again"
	case ErrCodeStage:
		if IsCode(e.Cause, ErrCodeConnection) {
			return "the change was not staged because the connection failed; reconnect and retry"
		}
		return "the change was not staged; another configuration session may hold the lock"
	case ErrCodeValidation:
		return "the device rejected the change during validation; it was discarded and nothing was committed"
	case ErrCodeCommit:
		if discarded, _ := e.Detail("discarded"); discarded == false {
			return "commit failed and the staged change could not be discarded; inspect the candidate configuration on the device"
		}
		return "commit failed after a successful validation; the staged change was discarded, inspect the device before retrying"
	default:
		return "unexpected failure; inspect the logs"
	}
}
