package app

import "context"

// CancelToken is a cancellation scope. Cancelling a token cancels every token
// derived from it with Child; cancelling a child leaves its parent running.
type CancelToken struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewCancelToken creates a root token
func NewCancelToken() *CancelToken {
	return newCancelToken(context.Background())
}

func newCancelToken(parent context.Context) *CancelToken {
	ctx, cancel := context.WithCancel(parent)
	return &CancelToken{ctx: ctx, cancel: cancel}
}

// Child derives a token that is cancelled together with t
func (t *CancelToken) Child() *CancelToken {
	return newCancelToken(t.ctx)
}

// Cancel cancels t and its children; later calls are no-ops
func (t *CancelToken) Cancel() { t.cancel() }

// Done is closed once t is cancelled
func (t *CancelToken) Done() <-chan struct{} { return t.ctx.Done() }

// IsCancelled reports whether t has been cancelled
func (t *CancelToken) IsCancelled() bool { return t.ctx.Err() != nil }

// Context returns a context that ends with t
func (t *CancelToken) Context() context.Context { return t.ctx }
