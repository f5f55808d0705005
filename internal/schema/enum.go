package schema

import (
	"fmt"
	"strings"

	"piper/pkg/model"
)

// RegexFlags 支持的正则标志
var RegexFlags = []string{"CASE_INSENSITIVE", "DOTALL", "MULTILINE"}

// NormalizeToken 枚举值归一化：忽略大小写，空格与下划线等价
func NormalizeToken(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == '_' }), "_")
}

// ParseEnum 在给定取值集合中解析枚举，未识别时错误信息包含原始值
func ParseEnum[T ~string](raw string, values []T) (T, error) {
	token := NormalizeToken(raw)
	for _, v := range values {
		if string(v) == token {
			return v, nil
		}
	}
	var zero T
	names := make([]string, len(values))
	for i, v := range values {
		names[i] = string(v)
	}
	return zero, &ParseError{
		Kind:  ErrInvalidEnum,
		Value: raw,
		Msg:   fmt.Sprintf("%q is not one of %s", raw, strings.Join(names, ", ")),
	}
}

// ParseInputMethod 解析输入方式
func ParseInputMethod(raw string) (model.InputMethod, error) {
	return ParseEnum(raw, model.InputMethods)
}

// ParseScope 解析作用范围
func ParseScope(raw string) (model.Scope, error) {
	return ParseEnum(raw, model.Scopes)
}

// ParseColor 解析高亮颜色
func ParseColor(raw string) (model.Color, error) {
	return ParseEnum(raw, model.Colors)
}

// ParseToolSource 解析宿主工具来源
func ParseToolSource(raw string) (model.ToolSource, error) {
	return ParseEnum(raw, model.ToolSources)
}

// ParseKind 解析工具种类，接受集合键名（如 highlighters）
func ParseKind(raw string) (model.Kind, error) {
	for _, k := range model.Kinds {
		if strings.EqualFold(string(k), strings.TrimSpace(raw)) {
			return k, nil
		}
	}
	return ParseEnum(raw, model.Kinds)
}

// withPath 为枚举错误补充字段路径
func withPath(err error, path string) error {
	if pe, ok := err.(*ParseError); ok && pe.Path == "" {
		cp := *pe
		cp.Path = path
		return &cp
	}
	return err
}
