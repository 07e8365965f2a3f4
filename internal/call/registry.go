// Package call tracks in-progress calls so they can be listed and terminated.
package call

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when no active call has the requested id
var ErrNotFound = errors.New("call not found")

// Type identifies the transport a call arrived on
type Type string

const (
	TypeWebSocket Type = "websocket"
	TypeWebRTC    Type = "webrtc"
)

// Info is the JSON view of an active call
type Info struct {
	ID        string    `json:"id"`
	CallType  Type      `json:"call_type"`
	Caller    string    `json:"caller,omitempty"`
	Callee    string    `json:"callee,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ActiveCall is the handle for a live session. Its context is a child of the
// application's root context, so shutting the application down ends every call.
type ActiveCall struct {
	info   Info
	ctx    context.Context
	cancel context.CancelFunc
}

// NewActiveCall creates a call whose lifetime is bounded by parent
func NewActiveCall(parent context.Context, id string, callType Type, caller, callee string) *ActiveCall {
	ctx, cancel := context.WithCancel(parent)
	return &ActiveCall{
		info: Info{
			ID:        id,
			CallType:  callType,
			Caller:    caller,
			Callee:    callee,
			CreatedAt: time.Now(),
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID returns the session identifier
func (c *ActiveCall) ID() string { return c.info.ID }

// Info returns a snapshot of the call
func (c *ActiveCall) Info() Info { return c.info }

// Context is cancelled when the call ends
func (c *ActiveCall) Context() context.Context { return c.ctx }

// Done is closed when the call has been cancelled
func (c *ActiveCall) Done() <-chan struct{} { return c.ctx.Done() }

// Cancel ends the call; safe to call more than once
func (c *ActiveCall) Cancel() { c.cancel() }

// Registry maps session id to active call
type Registry struct {
	mu    sync.RWMutex
	calls map[string]*ActiveCall
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{calls: make(map[string]*ActiveCall)}
}

// Add registers a call, replacing and cancelling any call with the same id
func (r *Registry) Add(c *ActiveCall) {
	r.mu.Lock()
	existing, ok := r.calls[c.ID()]
	r.calls[c.ID()] = c
	r.mu.Unlock()

	if ok && existing != c {
		existing.Cancel()
	}
}

// Get looks up a call by id
func (r *Registry) Get(id string) (*ActiveCall, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calls[id]
	return c, ok
}

// Remove drops c from the registry if it is still the registered call for its id
func (r *Registry) Remove(c *ActiveCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.calls[c.ID()]; ok && existing == c {
		delete(r.calls, c.ID())
	}
}

// Kill cancels the call with the given id
func (r *Registry) Kill(id string) error {
	c, ok := r.Get(id)
	if !ok {
		return ErrNotFound
	}
	c.Cancel()
	return nil
}

// List returns a snapshot of all calls, oldest first
func (r *Registry) List() []Info {
	r.mu.RLock()
	infos := make([]Info, 0, len(r.calls))
	for _, c := range r.calls {
		infos = append(infos, c.Info())
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Len returns the number of active calls
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}
