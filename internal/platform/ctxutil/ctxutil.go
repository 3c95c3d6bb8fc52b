// Package ctxutil carries per-request values through context.
package ctxutil

import "context"

type (
	traceDataKey   struct{}
	requestDataKey struct{}
)

// TraceData correlates log lines and spans for one request.
type TraceData struct {
	TraceID   string
	RequestID string
}

// RequestData identifies the authenticated caller. Subject is empty for
// anonymous requests.
type RequestData struct {
	Subject string
	Tenant  string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData { return value[*TraceData](ctx, traceDataKey{}) }

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	return value[*RequestData](ctx, requestDataKey{})
}

func value[T any](ctx context.Context, key any) T {
	v, _ := ctx.Value(key).(T)
	return v
}
