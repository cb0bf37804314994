package llm

import "context"

type CompleteFunc func(ctx context.Context, req Request) (Response, error)

// Middleware wraps Complete calls. Registration order applies on the way in
// and reverse order on the way out.
type Middleware interface {
	WrapComplete(ctx context.Context, req Request, next CompleteFunc) (Response, error)
}

// MiddlewareFunc adapts a plain function to Middleware. A nil Complete is a
// pass-through.
type MiddlewareFunc struct {
	Complete func(ctx context.Context, req Request, next CompleteFunc) (Response, error)
}

func (m MiddlewareFunc) WrapComplete(ctx context.Context, req Request, next CompleteFunc) (Response, error) {
	if m.Complete == nil {
		return next(ctx, req)
	}
	return m.Complete(ctx, req, next)
}

func applyMiddlewareComplete(base CompleteFunc, mws []Middleware) CompleteFunc {
	h := base
	for i := len(mws) - 1; i >= 0; i-- {
		mw := mws[i]
		next := h
		h = func(ctx context.Context, req Request) (Response, error) {
			return mw.WrapComplete(ctx, req, next)
		}
	}
	return h
}
