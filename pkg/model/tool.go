package model

import "slices"

// FilenamePlaceholder 命令参数中的临时文件路径占位符
const FilenamePlaceholder = "{file}"

// CommandInvocation 外部命令调用描述
type CommandInvocation struct {
	Prefix         []string
	Postfix        []string
	InputMethod    InputMethod
	PassHeaders    bool
	RequiredInPath []string
	ExitCodes      []int // 作为过滤器使用时视为匹配的退出码，为空时等价于 {0}
	Stdout         *MessageMatch
	Stderr         *MessageMatch
}

// Executable 可执行文件名或路径
func (c CommandInvocation) Executable() string {
	if len(c.Prefix) == 0 {
		return ""
	}
	return c.Prefix[0]
}

// AcceptsExitCode 判断退出码是否属于匹配集合
func (c CommandInvocation) AcceptsExitCode(code int) bool {
	if len(c.ExitCodes) == 0 {
		return code == 0
	}
	return slices.Contains(c.ExitCodes, code)
}

// HasOutputFilter 是否配置了 stdout/stderr 过滤
func (c CommandInvocation) HasOutputFilter() bool {
	return c.Stdout != nil || c.Stderr != nil
}

// RegexMatch 正则条件
type RegexMatch struct {
	Pattern string
	Flags   []string // CASE_INSENSITIVE / DOTALL / MULTILINE
}

// HeaderMatch 头部条件：任一名称匹配的头部值满足正则即为匹配
type HeaderMatch struct {
	Header string
	Regex  RegexMatch
}

// JSONPathMatch 消息体 JSON 路径条件，Regex 为空时只要求路径存在
type JSONPathMatch struct {
	Path  string
	Regex *RegexMatch
}

// MessageMatch 消息过滤条件树，非空条件之间为与关系
type MessageMatch struct {
	Prefix   string
	Postfix  string
	Regex    *RegexMatch
	Header   *HeaderMatch
	Cmd      *CommandInvocation
	JSONPath *JSONPathMatch
	InScope  bool
	Negation bool
	AndAlso  []MessageMatch
	OrElse   []MessageMatch
}

// MinimalTool 所有工具共有的字段
type MinimalTool struct {
	Name    string
	Enabled bool
	Scope   Scope
	Cmd     CommandInvocation
	Filter  *MessageMatch
}

// Tool 工具公共契约
type Tool interface {
	Base() MinimalTool
	Kind() Kind
}

// MessageViewer 生成消息体的替代视图，不修改原消息
type MessageViewer struct {
	Common     MinimalTool
	UsesColors bool
}

func (t MessageViewer) Base() MinimalTool { return t.Common }
func (t MessageViewer) Kind() Kind        { return KindMessageViewer }

// WithEnabled 返回仅 Enabled 不同的新值
func (t MessageViewer) WithEnabled(enabled bool) MessageViewer {
	t.Common.Enabled = enabled
	return t
}

// Macro 在消息发出前改写消息
type Macro struct {
	Common MinimalTool
}

func (t Macro) Base() MinimalTool { return t.Common }
func (t Macro) Kind() Kind        { return KindMacro }

func (t Macro) WithEnabled(enabled bool) Macro {
	t.Common.Enabled = enabled
	return t
}

// HTTPListener 被动观察者，不消费输出
type HTTPListener struct {
	Common       MinimalTool
	Tools        []ToolSource // 为空表示所有来源
	IgnoreOutput bool
}

func (t HTTPListener) Base() MinimalTool { return t.Common }
func (t HTTPListener) Kind() Kind        { return KindHTTPListener }

func (t HTTPListener) WithEnabled(enabled bool) HTTPListener {
	t.Common.Enabled = enabled
	return t
}

// AcceptsSource 判断监听器是否关注该来源
func (t HTTPListener) AcceptsSource(src ToolSource) bool {
	return len(t.Tools) == 0 || slices.Contains(t.Tools, src)
}

// Highlighter 命令匹配时为消息着色
type Highlighter struct {
	Common            MinimalTool
	Color             Color
	Overwrite         bool
	ApplyWithListener bool
}

func (t Highlighter) Base() MinimalTool { return t.Common }
func (t Highlighter) Kind() Kind        { return KindHighlighter }

func (t Highlighter) WithEnabled(enabled bool) Highlighter {
	t.Common.Enabled = enabled
	return t
}

// Commentator 以命令输出作为消息注释
type Commentator struct {
	Common            MinimalTool
	Overwrite         bool
	ApplyWithListener bool
}

func (t Commentator) Base() MinimalTool { return t.Common }
func (t Commentator) Kind() Kind        { return KindCommentator }

func (t Commentator) WithEnabled(enabled bool) Commentator {
	t.Common.Enabled = enabled
	return t
}

// UserActionTool 由用户显式触发的上下文菜单动作
type UserActionTool struct {
	Common    MinimalTool
	HasGUI    bool
	MinInputs int
	MaxInputs int // 0 表示不限
}

func (t UserActionTool) Base() MinimalTool { return t.Common }
func (t UserActionTool) Kind() Kind        { return KindUserAction }

func (t UserActionTool) WithEnabled(enabled bool) UserActionTool {
	t.Common.Enabled = enabled
	return t
}

// PayloadProcessor 对单个 payload 做变换
type PayloadProcessor struct {
	Common MinimalTool
}

func (t PayloadProcessor) Base() MinimalTool { return t.Common }
func (t PayloadProcessor) Kind() Kind        { return KindPayloadProcessor }

func (t PayloadProcessor) WithEnabled(enabled bool) PayloadProcessor {
	t.Common.Enabled = enabled
	return t
}

// PayloadGenerator 由命令输出逐行生成 payload
type PayloadGenerator struct {
	Common MinimalTool
}

func (t PayloadGenerator) Base() MinimalTool { return t.Common }
func (t PayloadGenerator) Kind() Kind        { return KindPayloadGenerator }

func (t PayloadGenerator) WithEnabled(enabled bool) PayloadGenerator {
	t.Common.Enabled = enabled
	return t
}
