package model

type SessionID string
type TargetID string

type SessionConfig struct {
	DevToolsURL      string `json:"devToolsURL"`
	Concurrency      int    `json:"concurrency"`
	PendingCapacity  int    `json:"pendingCapacity"`
	ProcessTimeoutMS int    `json:"processTimeoutMS"`
}

// Event 拦截过程中产生的事件
type Event struct {
	Type       string    `json:"type"` // intercepted / mutated / annotated / degraded / failed
	Session    SessionID `json:"session"`
	Target     TargetID  `json:"target"`
	URL        string    `json:"url"`
	Method     string    `json:"method"`
	Stage      string    `json:"stage"`
	StatusCode int       `json:"statusCode"`
	Tool       string    `json:"tool,omitempty"`
	Highlight  Color     `json:"highlight,omitempty"`
	Comment    string    `json:"comment,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  int64     `json:"timestamp"`
}

type TargetInfo struct {
	ID        TargetID `json:"id"`
	Type      string   `json:"type"`
	URL       string   `json:"url"`
	Title     string   `json:"title"`
	IsCurrent bool     `json:"isCurrent"`
	IsUser    bool     `json:"isUser"`
}
