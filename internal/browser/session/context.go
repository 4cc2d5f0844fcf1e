// internal/browser/session/context.go
package session

import "context"

// CombineContext derives a context from sessionCtx, which carries the
// chromedp target, that is also canceled when opCtx is done. Values always
// come from sessionCtx.
func CombineContext(sessionCtx, opCtx context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancelCause(sessionCtx)
	stop := context.AfterFunc(opCtx, func() {
		cancel(context.Cause(opCtx))
	})
	return combined, func() {
		stop()
		cancel(context.Canceled)
	}
}

// Detach keeps the values of ctx, including the chromedp target, but drops
// its deadline and cancellation. Used for teardown work that must run after
// the caller's context is gone.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
