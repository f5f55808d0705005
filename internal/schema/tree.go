package schema

import (
	"fmt"
	"math"
)

// node 通用键值树上的一个映射节点，path 用于错误定位
type node struct {
	path string
	m    map[string]any
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

func (n node) key(k string) string {
	if n.path == "" {
		return k
	}
	return n.path + "." + k
}

func (n node) lookup(k string) (any, bool) {
	v, ok := n.m[k]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// requiredString 必须是非空字符串
func (n node) requiredString(k string) (string, error) {
	v, ok := n.lookup(k)
	if !ok {
		return "", missing(n.key(k))
	}
	s, ok := v.(string)
	if !ok {
		return "", malformed(n.key(k), "expected a string, got %T", v)
	}
	if s == "" {
		return "", missing(n.key(k))
	}
	return s, nil
}

func (n node) optionalString(k, def string) (string, error) {
	v, ok := n.lookup(k)
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", malformed(n.key(k), "expected a string, got %T", v)
	}
	return s, nil
}

func (n node) optionalBool(k string, def bool) (bool, error) {
	v, ok := n.lookup(k)
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, malformed(n.key(k), "expected a boolean, got %T", v)
	}
	return b, nil
}

func (n node) optionalInt(k string, def int) (int, error) {
	v, ok := n.lookup(k)
	if !ok {
		return def, nil
	}
	i, ok := toInt(v)
	if !ok {
		return 0, malformed(n.key(k), "expected an integer, got %v", v)
	}
	return i, nil
}

// stringSeq 读取字符串序列；缺失时 required=false 返回空序列
func (n node) stringSeq(k string, required bool) ([]string, error) {
	items, ok, err := n.seq(k)
	if err != nil {
		return nil, err
	}
	if !ok {
		if required {
			return nil, missing(n.key(k))
		}
		return []string{}, nil
	}
	out := make([]string, 0, len(items))
	for i, it := range items {
		s, ok := scalarString(it)
		if !ok {
			return nil, malformed(fmt.Sprintf("%s[%d]", n.key(k), i), "expected a string, got %T", it)
		}
		out = append(out, s)
	}
	return out, nil
}

func (n node) intSeq(k string) ([]int, error) {
	items, ok, err := n.seq(k)
	if err != nil || !ok {
		return nil, err
	}
	out := make([]int, 0, len(items))
	for i, it := range items {
		v, ok := toInt(it)
		if !ok {
			return nil, malformed(fmt.Sprintf("%s[%d]", n.key(k), i), "expected an integer, got %v", it)
		}
		out = append(out, v)
	}
	return out, nil
}

func (n node) seq(k string) ([]any, bool, error) {
	v, ok := n.lookup(k)
	if !ok {
		return nil, false, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, false, malformed(n.key(k), "expected a sequence, got %T", v)
	}
	return items, true, nil
}

func (n node) child(k string) (node, bool, error) {
	v, ok := n.lookup(k)
	if !ok {
		return node{}, false, nil
	}
	m, ok := asMap(v)
	if !ok {
		return node{}, false, malformed(n.key(k), "expected a map, got %T", v)
	}
	return node{path: n.key(k), m: m}, true, nil
}

// children 读取映射序列，元素不是映射时报错
func (n node) children(k string) ([]node, error) {
	items, ok, err := n.seq(k)
	if err != nil || !ok {
		return nil, err
	}
	out := make([]node, 0, len(items))
	for i, it := range items {
		p := fmt.Sprintf("%s[%d]", n.key(k), i)
		m, ok := asMap(it)
		if !ok {
			return nil, malformed(p, "expected a map, got %T", it)
		}
		out = append(out, node{path: p, m: m})
	}
	return out, nil
}

// scalarString 序列元素可以是数字或布尔，按字面转为字符串，如 argv 中的端口号；单个字段只接受字符串
func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case int, int64, float64, bool:
		return fmt.Sprint(t), true
	}
	return "", false
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case uint64:
		return int(t), true
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		return int(t), true
	}
	return 0, false
}
