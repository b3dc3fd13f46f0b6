package model

import (
	"errors"
	"fmt"
)

// Kind 对应 registry 的错误分类，路由层据此映射 HTTP 状态码。
type Kind string

const (
	KindNotFound        Kind = "not-found"
	KindConflict        Kind = "conflict"
	KindBadData         Kind = "bad-data"
	KindBadRequest      Kind = "bad-request"
	KindUnavailable     Kind = "unavailable"
	KindInternal        Kind = "internal"
	KindContentMismatch Kind = "content-mismatch"
)

// Error 携带分类与描述，底层原因通过 Unwrap 暴露。
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap 暴露底层原因，支持 errors.Is/As 链式判断。
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError 构造指定分类的错误。
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError 在保留底层原因的前提下附加分类与描述。
func WrapError(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf 沿错误链提取分类，未分类的错误一律视为 internal。
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindInternal
}

// IsKind 判断错误是否属于给定分类。
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsNotFound 是最常用的分类判断的便捷形式。
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}
