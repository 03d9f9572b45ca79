package drafts

import "context"

type ctxKey int

const requestIDKey ctxKey = iota

// WithRequestID tags ctx so audit events can be tied back to an HTTP request.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
