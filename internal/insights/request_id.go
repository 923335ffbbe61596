package insights

import "context"

type ctxKey int

const requestIDCtxKey ctxKey = iota

// WithRequestID attaches the inbound request's correlation ID so log
// lines emitted later by the polling goroutine can be tied back to the
// HTTP call that launched it.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil || requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDCtxKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDCtxKey).(string)
	return id
}

// detachForPolling returns a fresh context carrying only the request ID.
// The poll loop outlives the HTTP response, so it must not inherit the
// request's cancellation.
func detachForPolling(ctx context.Context) context.Context {
	return WithRequestID(context.Background(), requestIDFromContext(ctx))
}
