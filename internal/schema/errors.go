package schema

import (
	"errors"
	"fmt"
)

// 解析错误类别，可用 errors.Is 判断
var (
	ErrMissingField   = errors.New("missing required field")
	ErrInvalidEnum    = errors.New("invalid enumerated value")
	ErrMalformedShape = errors.New("malformed collection shape")
)

// ParseError 配置文档解析失败，Path 定位到具体字段
type ParseError struct {
	Kind  error
	Path  string
	Value string
	Msg   string
}

func (e *ParseError) Error() string {
	msg := e.Kind.Error()
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", e.Path, msg)
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Kind }

func missing(path string) error {
	return &ParseError{Kind: ErrMissingField, Path: path}
}

func malformed(path, format string, args ...any) error {
	return &ParseError{Kind: ErrMalformedShape, Path: path, Msg: fmt.Sprintf(format, args...)}
}
