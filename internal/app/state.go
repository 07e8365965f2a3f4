// Package app assembles the process-wide application state and runs the HTTP
// front end until it is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-voice-backend/internal/call"
	"github.com/sirosfoundation/go-voice-backend/internal/callrecord"
	"github.com/sirosfoundation/go-voice-backend/internal/media"
	"github.com/sirosfoundation/go-voice-backend/internal/media/cache"
	"github.com/sirosfoundation/go-voice-backend/internal/metrics"
	"github.com/sirosfoundation/go-voice-backend/pkg/config"
)

// ErrInvalidSessionID is returned for a session id that is not a plain file stem
var ErrInvalidSessionID = errors.New("invalid session id")

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidSessionID reports whether id may name files under recorder_path
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// managerFactory builds the call-record manager during activation
type managerFactory func(ctx context.Context, cfg *config.CallRecordConfig) (*callrecord.Manager, error)

// State is shared by the lifecycle and every request handler. The config is
// read-only after Build; the call registry and the call-record sender are the
// only mutable parts and each has its own lock.
type State struct {
	config  *config.Config
	token   *CancelToken
	calls   *call.Registry
	engine  *media.StreamEngine
	cache   *cache.Cache
	metrics *metrics.Metrics
	logger  *zap.Logger

	senderMu   sync.Mutex
	sender     *callrecord.Sender
	newManager managerFactory

	tasks sync.WaitGroup
	phase atomic.Int32
}

// Builder collects the optional parts of a State
type Builder struct {
	config  *config.Config
	engine  *media.StreamEngine
	sender  *callrecord.Sender
	token   *CancelToken
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewBuilder creates an empty builder; every part has a default
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the configuration; Default() is used otherwise
func (b *Builder) WithConfig(cfg *config.Config) *Builder {
	b.config = cfg
	return b
}

// WithStreamEngine shares an existing engine
func (b *Builder) WithStreamEngine(engine *media.StreamEngine) *Builder {
	b.engine = engine
	return b
}

// WithCallRecordSender pre-installs a sender; activation is then skipped
func (b *Builder) WithCallRecordSender(sender callrecord.Sender) *Builder {
	b.sender = &sender
	return b
}

// WithCancelToken sets the root cancellation token
func (b *Builder) WithCancelToken(token *CancelToken) *Builder {
	b.token = token
	return b
}

// WithLogger sets the logger
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetrics shares an existing metrics registry
func (b *Builder) WithMetrics(m *metrics.Metrics) *Builder {
	b.metrics = m
	return b
}

// Build creates the State. It does not fail: a media cache directory that
// cannot be created is logged and startup continues without it.
func (b *Builder) Build() *State {
	cfg := b.config
	if cfg == nil {
		cfg = config.Default()
	}
	token := b.token
	if token == nil {
		token = NewCancelToken()
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := b.metrics
	if m == nil {
		m = metrics.New()
	}

	mediaCache := cache.New(cfg.MediaCachePath)
	if err := mediaCache.Init(); err != nil {
		logger.Warn("Failed to initialize media cache", zap.String("path", cfg.MediaCachePath), zap.Error(err))
	}

	engine := b.engine
	if engine == nil {
		engine = media.NewStreamEngine()
	}
	engine.SetICEServers(cfg.ICEServers)

	s := &State{
		config:  cfg,
		token:   token,
		calls:   call.NewRegistry(),
		engine:  engine,
		cache:   mediaCache,
		metrics: m,
		logger:  logger,
		sender:  b.sender,
	}
	s.newManager = s.buildManager
	return s
}

func (s *State) buildManager(ctx context.Context, cfg *config.CallRecordConfig) (*callrecord.Manager, error) {
	return callrecord.NewBuilder().
		WithCancelToken(ctx).
		WithConfig(cfg).
		WithLogger(s.logger).
		WithMetrics(s.metrics).
		Build()
}

// Config returns the read-only configuration
func (s *State) Config() *config.Config { return s.config }

// Token returns the root cancellation token
func (s *State) Token() *CancelToken { return s.token }

// Calls returns the active-call registry
func (s *State) Calls() *call.Registry { return s.calls }

// StreamEngine returns the shared media engine
func (s *State) StreamEngine() *media.StreamEngine { return s.engine }

// MediaCache returns the media cache
func (s *State) MediaCache() *cache.Cache { return s.cache }

// Metrics returns the metrics registry
func (s *State) Metrics() *metrics.Metrics { return s.metrics }

// Logger returns the application logger
func (s *State) Logger() *zap.Logger { return s.logger }

// Phase reports where the lifecycle currently is
func (s *State) Phase() Phase { return Phase(s.phase.Load()) }

func (s *State) setPhase(p Phase) { s.phase.Store(int32(p)) }

// CallRecordSender returns the installed sender, if any
func (s *State) CallRecordSender() (callrecord.Sender, bool) {
	s.senderMu.Lock()
	defer s.senderMu.Unlock()
	if s.sender == nil {
		return callrecord.Sender{}, false
	}
	return *s.sender, true
}

// ActivateCallRecord starts the call-record manager when the configuration
// asks for one and no sender is installed yet. The check, the install and the
// spawn happen under one lock, so concurrent callers start at most one
// manager. It reports whether this call started it.
func (s *State) ActivateCallRecord() bool {
	cfg := s.config.CallRecord
	if cfg == nil {
		return false
	}

	s.senderMu.Lock()
	defer s.senderMu.Unlock()

	if s.sender != nil {
		return false
	}

	child := s.token.Child()
	mgr, err := s.newManager(child.Context(), cfg)
	if err != nil {
		child.Cancel()
		s.logger.Error("Failed to create call record manager", zap.String("type", string(cfg.Type)), zap.Error(err))
		return false
	}

	sender := mgr.Sender()
	s.sender = &sender

	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		defer child.Cancel()
		mgr.Serve()
	}()

	s.logger.Info("Call record manager activated", zap.String("backend", mgr.Backend()))
	return true
}

// WaitTasks waits up to timeout for background tasks started by the state to
// return. It reports false if the timeout expired first.
func (s *State) WaitTasks(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// RecorderFile returns recorder_path/<sessionID>.wav, creating recorder_path
// on first use. Failing to create the directory is logged, not returned.
func (s *State) RecorderFile(sessionID string) (string, error) {
	if !ValidSessionID(sessionID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}
	root := s.config.RecorderPath
	if _, err := os.Stat(root); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(root, 0o755); err != nil {
			s.logger.Warn("Failed to create recorder root", zap.String("path", root), zap.Error(err))
		} else {
			s.logger.Info("Created recorder root", zap.String("path", root))
		}
	}
	return filepath.Join(root, sessionID+".wav"), nil
}

// DumpEventsFile returns recorder_path/<sessionID>.events.jsonl
func (s *State) DumpEventsFile(sessionID string) (string, error) {
	if !ValidSessionID(sessionID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}
	return filepath.Join(s.config.RecorderPath, sessionID+".events.jsonl"), nil
}
