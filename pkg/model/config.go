package model

import "slices"

// Config 工具配置根聚合，构建后视为不可变，修改一律产生新值
type Config struct {
	MessageViewers    []MessageViewer
	Macros            []Macro
	HTTPListeners     []HTTPListener
	Highlighters      []Highlighter
	Commentators      []Commentator
	MenuItems         []UserActionTool
	PayloadProcessors []PayloadProcessor
	PayloadGenerators []PayloadGenerator
}

// DefaultConfig 持久化状态不可用时的回退配置
func DefaultConfig() *Config {
	return &Config{}
}

// Clone 浅拷贝各集合切片，元素为值类型
func (c *Config) Clone() *Config {
	if c == nil {
		return DefaultConfig()
	}
	return &Config{
		MessageViewers:    slices.Clone(c.MessageViewers),
		Macros:            slices.Clone(c.Macros),
		HTTPListeners:     slices.Clone(c.HTTPListeners),
		Highlighters:      slices.Clone(c.Highlighters),
		Commentators:      slices.Clone(c.Commentators),
		MenuItems:         slices.Clone(c.MenuItems),
		PayloadProcessors: slices.Clone(c.PayloadProcessors),
		PayloadGenerators: slices.Clone(c.PayloadGenerators),
	}
}

// Count 指定种类的工具数量
func (c *Config) Count(kind Kind) int {
	return len(c.Tools(kind))
}

// Total 所有工具数量
func (c *Config) Total() int {
	n := 0
	for _, k := range Kinds {
		n += c.Count(k)
	}
	return n
}

// Tools 以公共接口形式返回指定种类的工具
func (c *Config) Tools(kind Kind) []Tool {
	if c == nil {
		return nil
	}
	switch kind {
	case KindMessageViewer:
		return asTools(c.MessageViewers)
	case KindMacro:
		return asTools(c.Macros)
	case KindHTTPListener:
		return asTools(c.HTTPListeners)
	case KindHighlighter:
		return asTools(c.Highlighters)
	case KindCommentator:
		return asTools(c.Commentators)
	case KindUserAction:
		return asTools(c.MenuItems)
	case KindPayloadProcessor:
		return asTools(c.PayloadProcessors)
	case KindPayloadGenerator:
		return asTools(c.PayloadGenerators)
	}
	return nil
}

func asTools[T Tool](items []T) []Tool {
	out := make([]Tool, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out
}

// WithMessageViewers 返回替换了 MessageViewers 的新配置
func (c *Config) WithMessageViewers(v []MessageViewer) *Config {
	out := c.Clone()
	out.MessageViewers = slices.Clone(v)
	return out
}

func (c *Config) WithMacros(v []Macro) *Config {
	out := c.Clone()
	out.Macros = slices.Clone(v)
	return out
}

func (c *Config) WithHTTPListeners(v []HTTPListener) *Config {
	out := c.Clone()
	out.HTTPListeners = slices.Clone(v)
	return out
}

func (c *Config) WithHighlighters(v []Highlighter) *Config {
	out := c.Clone()
	out.Highlighters = slices.Clone(v)
	return out
}

func (c *Config) WithCommentators(v []Commentator) *Config {
	out := c.Clone()
	out.Commentators = slices.Clone(v)
	return out
}

func (c *Config) WithMenuItems(v []UserActionTool) *Config {
	out := c.Clone()
	out.MenuItems = slices.Clone(v)
	return out
}

func (c *Config) WithPayloadProcessors(v []PayloadProcessor) *Config {
	out := c.Clone()
	out.PayloadProcessors = slices.Clone(v)
	return out
}

func (c *Config) WithPayloadGenerators(v []PayloadGenerator) *Config {
	out := c.Clone()
	out.PayloadGenerators = slices.Clone(v)
	return out
}
