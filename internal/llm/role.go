package llm

import "context"

type ctxKeyRole struct{}

// WithRole tags the context with the calling role ("generation" or
// "diagnosis") so client logs can tell the two service calls apart.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, ctxKeyRole{}, role)
}

// RoleFrom returns the role stored in the context.
func RoleFrom(ctx context.Context) string {
	if v := ctx.Value(ctxKeyRole{}); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return "unknown"
}
