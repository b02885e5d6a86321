package httpapi

import (
	"context"
)

// serverBaseCtx is cancelled on process shutdown so long-running loads and
// generations end with it, not only with the client connection.
var serverBaseCtx = context.Background()

// SetBaseContext sets the process-level context; nil restores Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	serverBaseCtx = ctx
}

// joinContexts derives from req a context that is also cancelled when base
// is done. Values come from req. The cancel func must be called.
func joinContexts(base, req context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(req)
	stop := context.AfterFunc(base, func() { cancel(context.Cause(base)) })
	return ctx, func() {
		stop()
		cancel(context.Canceled)
	}
}
