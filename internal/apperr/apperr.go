// Package apperr 定义了全仓库统一的结构化错误类型。
// 每个错误带有分类 Kind 与出错的字段/ID，调用方据此决定重试还是直接返回用户。
package apperr

import (
	"errors"
	"fmt"
)

// Kind 表示错误的分类。
type Kind string

const (
	// KindValidation 输入不合法（无法分块的文档、越界参数等），不重试。
	KindValidation Kind = "validation"
	// KindEmbedding 向量化后端失败，可在编排层做有限次退避重试。
	KindEmbedding Kind = "embedding"
	// KindGeneration 生成后端失败，可在编排层做有限次退避重试。
	KindGeneration Kind = "generation"
	// KindIndex 向量/关键词索引后端失败。摄取视为文档级致命错误，检索可降级。
	KindIndex Kind = "index"
	// KindAuthorization 资源归属校验失败，不重试。
	KindAuthorization Kind = "authorization"
	// KindNotFound 资源不存在。
	KindNotFound Kind = "not_found"
	// KindUnsupportedFormat 文本提取不支持的文档类型。
	KindUnsupportedFormat Kind = "unsupported_format"
)

// Error 是带分类与结构化细节的错误。
type Error struct {
	Kind    Kind
	Message string
	Err     error
	Details map[string]interface{}
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail 追加一条结构化细节（如出错的字段名或文档ID）。
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New 构造一个指定分类的错误。
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap 包装底层错误并赋予分类。
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf 返回错误的分类；非 *Error 的错误归为空分类。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is 判断错误是否属于给定分类。
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable 返回该错误是否值得在编排层重试。
// 只有后端能力类失败（向量化/生成）可重试，输入与权限类错误永不重试。
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindEmbedding, KindGeneration:
		return true
	default:
		return false
	}
}
