package callrecord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sirosfoundation/go-voice-backend/internal/metrics"
	"github.com/sirosfoundation/go-voice-backend/pkg/config"
)

var (
	// ErrSenderClosed is returned by Send once the manager has stopped
	ErrSenderClosed = errors.New("callrecord manager stopped")
	// ErrQueueFull is returned by Send when the queue has no room
	ErrQueueFull = errors.New("callrecord queue full")
)

const (
	defaultQueueSize     = 1024
	defaultMaxConcurrent = 64
	saveTimeout          = 60 * time.Second
)

// Saver writes one record to a backend
type Saver interface {
	// Name identifies the backend in logs and metrics
	Name() string
	Save(ctx context.Context, rec *CallRecord) error
}

// Sender hands records to a running manager. It is a small value and may be
// copied freely; all copies feed the same queue.
type Sender struct {
	queue   chan<- *CallRecord
	done    <-chan struct{}
	metrics *metrics.Metrics
}

// Send enqueues rec without blocking
func (s Sender) Send(rec *CallRecord) error {
	if s.queue == nil {
		return ErrSenderClosed
	}
	select {
	case <-s.done:
		s.metrics.CallRecordDropped()
		return ErrSenderClosed
	default:
	}

	select {
	case s.queue <- rec:
		return nil
	case <-s.done:
		s.metrics.CallRecordDropped()
		return ErrSenderClosed
	default:
		s.metrics.CallRecordDropped()
		return ErrQueueFull
	}
}

// Builder assembles a Manager
type Builder struct {
	ctx           context.Context
	cfg           *config.CallRecordConfig
	saver         Saver
	logger        *zap.Logger
	metrics       *metrics.Metrics
	queueSize     int
	maxConcurrent int
}

// NewBuilder creates a builder with default settings
func NewBuilder() *Builder {
	return &Builder{
		queueSize:     defaultQueueSize,
		maxConcurrent: defaultMaxConcurrent,
	}
}

// WithCancelToken bounds the manager's lifetime by ctx
func (b *Builder) WithCancelToken(ctx context.Context) *Builder {
	b.ctx = ctx
	return b
}

// WithConfig selects the backend
func (b *Builder) WithConfig(cfg *config.CallRecordConfig) *Builder {
	b.cfg = cfg
	return b
}

// WithSaver overrides the backend selected by the configuration
func (b *Builder) WithSaver(s Saver) *Builder {
	b.saver = s
	return b
}

// WithLogger sets the logger
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetrics sets the metrics sink
func (b *Builder) WithMetrics(m *metrics.Metrics) *Builder {
	b.metrics = m
	return b
}

// WithQueueSize sets how many records may wait before Send reports ErrQueueFull
func (b *Builder) WithQueueSize(n int) *Builder {
	if n > 0 {
		b.queueSize = n
	}
	return b
}

// WithMaxConcurrent limits the number of records saved in parallel
func (b *Builder) WithMaxConcurrent(n int) *Builder {
	if n > 0 {
		b.maxConcurrent = n
	}
	return b
}

// Build creates the manager; it does not start it
func (b *Builder) Build() (*Manager, error) {
	parent := b.ctx
	if parent == nil {
		parent = context.Background()
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("callrecord")

	saver := b.saver
	if saver == nil {
		cfg := b.cfg
		if cfg == nil {
			cfg = config.DefaultCallRecord()
		}
		var err error
		saver, err = NewSaver(cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(parent)
	return &Manager{
		ctx:           ctx,
		cancel:        cancel,
		saver:         saver,
		queue:         make(chan *CallRecord, b.queueSize),
		logger:        logger,
		metrics:       b.metrics,
		maxConcurrent: b.maxConcurrent,
	}, nil
}

// NewSaver builds the backend named by cfg.Type
func NewSaver(cfg *config.CallRecordConfig, logger *zap.Logger) (Saver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case config.CallRecordLocal:
		return NewLocalSaver(cfg.Root), nil
	case config.CallRecordS3:
		return NewS3Saver(cfg, logger)
	case config.CallRecordHTTP:
		return NewHTTPSaver(cfg)
	default:
		return nil, fmt.Errorf("unsupported callrecord type: %s", cfg.Type)
	}
}

// Manager consumes records from its queue and saves them
type Manager struct {
	ctx           context.Context
	cancel        context.CancelFunc
	saver         Saver
	queue         chan *CallRecord
	logger        *zap.Logger
	metrics       *metrics.Metrics
	maxConcurrent int
}

// Sender returns a handle for submitting records
func (m *Manager) Sender() Sender {
	return Sender{queue: m.queue, done: m.ctx.Done(), metrics: m.metrics}
}

// Backend returns the name of the active saver
func (m *Manager) Backend() string { return m.saver.Name() }

// Stop cancels the manager without affecting its parent context
func (m *Manager) Stop() { m.cancel() }

// Serve saves records until the manager's context is cancelled. Records
// already queued at that point are still saved before Serve returns.
func (m *Manager) Serve() {
	var g errgroup.Group
	g.SetLimit(m.maxConcurrent)

	m.logger.Info("Call record manager started", zap.String("backend", m.saver.Name()))

	for {
		select {
		case <-m.ctx.Done():
			m.drain(&g)
			_ = g.Wait()
			m.logger.Info("Call record manager stopped")
			return
		case rec := <-m.queue:
			g.Go(func() error {
				m.save(rec)
				return nil
			})
		}
	}
}

func (m *Manager) drain(g *errgroup.Group) {
	for {
		select {
		case rec := <-m.queue:
			g.Go(func() error {
				m.save(rec)
				return nil
			})
		default:
			return
		}
	}
}

func (m *Manager) save(rec *CallRecord) {
	// Uploads in flight finish even when shutdown has started
	ctx, cancel := context.WithTimeout(context.WithoutCancel(m.ctx), saveTimeout)
	defer cancel()

	start := time.Now()
	err := m.saver.Save(ctx, rec)
	m.metrics.CallRecordSaved(m.saver.Name(), err)
	if err != nil {
		m.logger.Error("Failed to save call record",
			zap.String("call_id", rec.CallID),
			zap.String("backend", m.saver.Name()),
			zap.Error(err))
		return
	}
	m.logger.Debug("Saved call record",
		zap.String("call_id", rec.CallID),
		zap.String("backend", m.saver.Name()),
		zap.Duration("elapsed", time.Since(start)))
}
