package errors

import (
	stdErrors "errors"
	"fmt"
	"log/slog"
)

// Code 表示系统内的统一错误码。
type Code string

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeUpstreamFailure       Code = "UPSTREAM_FAILURE"
	CodeUpstreamStatus        Code = "UPSTREAM_STATUS"
	CodeGone                  Code = "GONE"
	CodeDecodeFailure         Code = "DECODE_FAILURE"
	CodeSearchDisabled        Code = "SEARCH_DISABLED"
	CodeModelFailure          Code = "MODEL_FAILURE"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
)

// Severity 决定错误写入日志时的级别，见 LogLevel。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// defaults 是每个错误码的默认消息、严重程度与是否可重试。
type defaults struct {
	message   string
	severity  Severity
	retryable bool
}

var codeDefaults = map[Code]defaults{
	CodeUnknown:               {"unknown error", SeverityCritical, false},
	CodeInvalidArgument:       {"invalid argument", SeverityInfo, false},
	CodeNotFound:              {"resource not found", SeverityInfo, false},
	CodeUpstreamFailure:       {"upstream request failed", SeverityWarning, true},
	CodeUpstreamStatus:        {"upstream returned an unexpected status", SeverityWarning, false},
	CodeGone:                  {"resource no longer available", SeverityInfo, false},
	CodeDecodeFailure:         {"malformed upstream payload", SeverityWarning, false},
	CodeSearchDisabled:        {"web search is not configured", SeverityInfo, false},
	CodeModelFailure:          {"model inference failed", SeverityWarning, true},
	CodeInitializationFailure: {"service not initialized", SeverityCritical, false},
	CodeTimeout:               {"operation timed out", SeverityWarning, true},
}

func defaultsOf(code Code) defaults {
	if d, ok := codeDefaults[code]; ok {
		return d
	}
	return codeDefaults[CodeUnknown]
}

// DefaultMessage 返回错误码的默认描述。
func DefaultMessage(code Code) string {
	return defaultsOf(code).message
}

// Error 是系统内统一的错误类型。
type Error struct {
	code      Code
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool
	severity  *Severity
}

// Option 在创建错误时覆盖默认属性。
type Option func(*Error)

// WithMetadata 附加一项额外信息，例如上游返回的状态码。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithRetryable 覆盖错误码默认的可重试属性。
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithSeverity 覆盖错误码默认的严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.severity = &sev
	}
}

// New 创建错误。message 为空时使用错误码的默认描述。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = DefaultMessage(code)
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 与 New 相同，并保留 cause 供 errors.Is/As 使用。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 使 errors.Is 按错误码匹配。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if e == nil || !ok || t == nil {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回不含 cause 的错误描述，可直接展示给调用方。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 合并错误链上所有统一错误的附加信息，外层覆盖内层。
func (e *Error) Metadata() map[string]string {
	var merged map[string]string
	for _, link := range e.chain() {
		for k, v := range link.metadata {
			if merged == nil {
				merged = make(map[string]string)
			}
			if _, exists := merged[k]; !exists {
				merged[k] = v
			}
		}
	}
	return merged
}

// Retryable 返回错误链上最外层的显式设置，没有时使用错误码默认值。
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	for _, link := range e.chain() {
		if link.retryable != nil {
			return *link.retryable
		}
	}
	return defaultsOf(e.code).retryable
}

// Severity 的查找规则与 Retryable 相同。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	for _, link := range e.chain() {
		if link.severity != nil {
			return *link.severity
		}
	}
	return defaultsOf(e.code).severity
}

// chain 由外到内列出错误链上的统一错误。
func (e *Error) chain() []*Error {
	var links []*Error
	var err error = e
	for err != nil {
		var next *Error
		if !stdErrors.As(err, &next) || next == nil {
			break
		}
		links = append(links, next)
		err = next.cause
	}
	return links
}

// From 取出错误链上最外层的统一错误。
func From(err error) (*Error, bool) {
	var target *Error
	if err != nil && stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误码，非统一错误返回 UNKNOWN。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// RetryableError 判断任意 error 是否可重试。
func RetryableError(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}

// SeverityOf 返回任意 error 的严重程度，非统一错误按 UNKNOWN 处理。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return defaultsOf(CodeUnknown).severity
}

// LogLevel 把错误的严重程度映射为日志级别。
func LogLevel(err error) slog.Level {
	switch SeverityOf(err) {
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
