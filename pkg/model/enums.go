package model

// InputMethod 消息字节送达外部进程的方式
type InputMethod string

const (
	InputStdin    InputMethod = "STDIN"
	InputFilename InputMethod = "FILENAME"
)

// Scope 工具作用的消息方向
type Scope string

const (
	ScopeRequest         Scope = "REQUEST"
	ScopeResponse        Scope = "RESPONSE"
	ScopeRequestResponse Scope = "REQUEST_RESPONSE"
)

// AppliesToRequest 是否作用于请求
func (s Scope) AppliesToRequest() bool {
	return s == ScopeRequest || s == ScopeRequestResponse || s == ""
}

// AppliesToResponse 是否作用于响应
func (s Scope) AppliesToResponse() bool {
	return s == ScopeResponse || s == ScopeRequestResponse || s == ""
}

// Color 高亮调色板
type Color string

const (
	ColorRed     Color = "RED"
	ColorOrange  Color = "ORANGE"
	ColorYellow  Color = "YELLOW"
	ColorGreen   Color = "GREEN"
	ColorCyan    Color = "CYAN"
	ColorBlue    Color = "BLUE"
	ColorPink    Color = "PINK"
	ColorMagenta Color = "MAGENTA"
	ColorGray    Color = "GRAY"
)

// ToolSource 产生消息的宿主工具
type ToolSource string

const (
	SourceProxy     ToolSource = "PROXY"
	SourceRepeater  ToolSource = "REPEATER"
	SourceIntruder  ToolSource = "INTRUDER"
	SourceScanner   ToolSource = "SCANNER"
	SourceSequencer ToolSource = "SEQUENCER"
	SourceSpider    ToolSource = "SPIDER"
	SourceTarget    ToolSource = "TARGET"
	SourceExtender  ToolSource = "EXTENDER"
	SourceSuite     ToolSource = "SUITE"
)

// Kind 工具种类判别值
type Kind string

const (
	KindMessageViewer    Kind = "messageViewers"
	KindMacro            Kind = "macros"
	KindHTTPListener     Kind = "httpListeners"
	KindHighlighter      Kind = "highlighters"
	KindCommentator      Kind = "commentators"
	KindUserAction       Kind = "menuItems"
	KindPayloadProcessor Kind = "intruderPayloadProcessors"
	KindPayloadGenerator Kind = "intruderPayloadGenerators"
)

// Kinds 所有工具种类，顺序即配置文件中的集合顺序
var Kinds = []Kind{
	KindMessageViewer,
	KindMacro,
	KindHTTPListener,
	KindHighlighter,
	KindCommentator,
	KindUserAction,
	KindPayloadProcessor,
	KindPayloadGenerator,
}

var (
	InputMethods = []InputMethod{InputStdin, InputFilename}
	Scopes       = []Scope{ScopeRequest, ScopeResponse, ScopeRequestResponse}
	Colors       = []Color{ColorRed, ColorOrange, ColorYellow, ColorGreen, ColorCyan, ColorBlue, ColorPink, ColorMagenta, ColorGray}
	ToolSources  = []ToolSource{SourceProxy, SourceRepeater, SourceIntruder, SourceScanner, SourceSequencer, SourceSpider, SourceTarget, SourceExtender, SourceSuite}
)
