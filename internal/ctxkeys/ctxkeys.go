package ctxkeys

import (
	"context"

	"github.com/google/uuid"
)

// TraceIDKey 链路追踪 ID 的 context key
type TraceIDKey struct{}

// WithTraceID 在 context 中附加追踪 ID，为空时自动生成
func WithTraceID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, TraceIDKey{}, id)
}

// TraceID 读取追踪 ID，不存在时返回空串
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(TraceIDKey{}).(string)
	return id
}
