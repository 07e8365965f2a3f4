// Package media holds the handle to the stream engine that call sessions use
// to build their audio processors.
package media

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirosfoundation/go-voice-backend/pkg/config"
)

// Kind groups processor factories
type Kind string

const (
	KindASR Kind = "asr"
	KindTTS Kind = "tts"
	KindVAD Kind = "vad"
)

// Processor consumes or produces audio for a single track
type Processor interface {
	Name() string
	Close() error
}

// Synthesizer is a TTS processor that renders text in one call
type Synthesizer interface {
	Processor
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Factory builds a processor from provider-specific options
type Factory func(options map[string]string) (Processor, error)

// StreamEngine is shared by every call; providers register their factories
// once at startup and sessions look them up by kind and name.
type StreamEngine struct {
	mu         sync.RWMutex
	factories  map[Kind]map[string]Factory
	iceServers []config.ICEServer
}

// NewStreamEngine creates an engine with no registered providers
func NewStreamEngine() *StreamEngine {
	return &StreamEngine{
		factories: make(map[Kind]map[string]Factory),
	}
}

// Register adds a factory under kind/name, replacing any previous one
func (e *StreamEngine) Register(kind Kind, name string, f Factory) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.factories[kind] == nil {
		e.factories[kind] = make(map[string]Factory)
	}
	e.factories[kind][name] = f
}

// Create builds a processor from the factory registered under kind/name
func (e *StreamEngine) Create(kind Kind, name string, options map[string]string) (Processor, error) {
	e.mu.RLock()
	f, ok := e.factories[kind][name]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no %s provider registered with name %q", kind, name)
	}
	return f(options)
}

// Names lists the providers registered for kind
func (e *StreamEngine) Names(kind Kind) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.factories[kind]))
	for name := range e.factories[kind] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetICEServers hands the configured relays to the engine
func (e *StreamEngine) SetICEServers(servers []config.ICEServer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.iceServers = append([]config.ICEServer(nil), servers...)
}

// ICEServers returns a copy of the configured relays
func (e *StreamEngine) ICEServers() []config.ICEServer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]config.ICEServer(nil), e.iceServers...)
}
