package auth

import "context"

type callerContextKey struct{}

// ContextWithCaller attaches the resolved caller to the context.
func ContextWithCaller(ctx context.Context, caller CallerContext) context.Context {
	return context.WithValue(ctx, callerContextKey{}, &caller)
}

// CallerFromContext extracts the resolved caller from the context.
func CallerFromContext(ctx context.Context) (CallerContext, bool) {
	if ctx == nil {
		return CallerContext{}, false
	}
	v, ok := ctx.Value(callerContextKey{}).(*CallerContext)
	if !ok || v == nil {
		return CallerContext{}, false
	}
	return *v, true
}
