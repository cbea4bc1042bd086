package llmadapter

import "context"

type noBlockGuardKey struct{}

// WithNoBlockGuard marks ctx as originating from a non-blocking scheduling
// context. [Adapter.Complete] rejects any request made against such a
// context with [ErrBlockingCallFromNonBlockingContext], the Go translation
// of the original system's event-loop-safety guard (spec §4.10; see
// DESIGN.md's Open Question decision on this point).
func WithNoBlockGuard(ctx context.Context) context.Context {
	return context.WithValue(ctx, noBlockGuardKey{}, true)
}

// hasNoBlockGuard reports whether ctx was marked with [WithNoBlockGuard].
func hasNoBlockGuard(ctx context.Context) bool {
	v, _ := ctx.Value(noBlockGuardKey{}).(bool)
	return v
}
