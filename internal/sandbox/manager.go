package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/openraccoon/raccoon/internal/audit"
	"github.com/openraccoon/raccoon/internal/config"
	"github.com/openraccoon/raccoon/internal/observability"
	"github.com/openraccoon/raccoon/pkg/models"
)

const (
	defaultTemplate = "python"
	defaultCPUCount = 2
	defaultMemoryMB = 512

	eventBuffer = 64
)

var (
	// ErrAPIKeyNotConfigured is returned by Create when no backend
	// credential is configured.
	ErrAPIKeyNotConfigured = errors.New("E2B API key not configured")

	// ErrSandboxNotFound is returned for operations on an unknown or
	// already-destroyed sandbox.
	ErrSandboxNotFound = errors.New("sandbox not found")
)

type sandboxState struct {
	info     models.SandboxInfo
	lastUsed time.Time
}

// ManagerOptions carries the manager's ambient collaborators. A nil
// Metrics disables metrics.
type ManagerOptions struct {
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
	Audit   *audit.Logger

	// IdleTimeout overrides the configured sandbox idle lifetime.
	IdleTimeout time.Duration
}

// Manager tracks active sandboxes and mediates every backend call:
// limit resolution on create, last-used bookkeeping, output forwarding
// on execute, and exactly-once release on destroy.
type Manager struct {
	mu        sync.Mutex
	sandboxes map[string]*sandboxState

	backend Backend
	cfg     config.SandboxConfig

	idleTimeout time.Duration
	logger      *observability.Logger
	metrics     *observability.Metrics
	tracer      *observability.Tracer
	audit       *audit.Logger
}

// NewManager creates a manager over the given backend.
func NewManager(backend Backend, cfg config.SandboxConfig, opts ManagerOptions) *Manager {
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
	}
	if opts.Tracer == nil {
		opts.Tracer, _ = observability.NewTracer(observability.TraceConfig{})
	}
	if opts.Audit == nil {
		opts.Audit, _ = audit.NewLogger(audit.Config{})
	}
	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if idle <= 0 {
		idle = 5 * time.Minute
	}
	return &Manager{
		sandboxes:   make(map[string]*sandboxState),
		backend:     backend,
		cfg:         cfg,
		idleTimeout: idle,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		tracer:      opts.Tracer,
		audit:       opts.Audit,
	}
}

// Create provisions a sandbox for a conversation. A nil limits gets the
// defaults; caller-supplied limits are clamped to the configured caps.
func (m *Manager) Create(ctx context.Context, conversationID, template string, limits *models.SandboxLimits) (models.SandboxInfo, error) {
	if m.cfg.E2BAPIKey == "" {
		return models.SandboxInfo{}, ErrAPIKeyNotConfigured
	}
	if template == "" {
		template = defaultTemplate
	}
	resolved := m.resolveLimits(limits)

	sandboxID, err := m.backend.Create(ctx, template, resolved)
	if err != nil {
		if m.metrics != nil {
			m.metrics.RecordError("sandbox", "create")
		}
		return models.SandboxInfo{}, fmt.Errorf("create sandbox: %w", err)
	}

	info := models.SandboxInfo{
		SandboxID:      sandboxID,
		Status:         "ready",
		Template:       template,
		ConversationID: conversationID,
		Limits:         resolved,
	}
	m.mu.Lock()
	m.sandboxes[sandboxID] = &sandboxState{info: info, lastUsed: time.Now()}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SandboxCreated()
	}
	m.audit.LogSandboxCreated(ctx, sandboxID, conversationID, template)
	m.logger.Info(ctx, "sandbox created",
		"sandbox_id", sandboxID, "conversation_id", conversationID, "template", template)
	return info, nil
}

func (m *Manager) resolveLimits(limits *models.SandboxLimits) models.SandboxLimits {
	if limits == nil {
		return models.SandboxLimits{
			CPUCount:       defaultCPUCount,
			MemoryMB:       defaultMemoryMB,
			TimeoutSeconds: m.cfg.TimeoutSeconds,
			NetworkEnabled: true,
		}
	}
	resolved := *limits
	if resolved.CPUCount <= 0 {
		resolved.CPUCount = defaultCPUCount
	}
	if m.cfg.MaxCPU > 0 && resolved.CPUCount > m.cfg.MaxCPU {
		resolved.CPUCount = m.cfg.MaxCPU
	}
	if resolved.MemoryMB <= 0 {
		resolved.MemoryMB = defaultMemoryMB
	}
	if m.cfg.MaxMemoryMB > 0 && resolved.MemoryMB > m.cfg.MaxMemoryMB {
		resolved.MemoryMB = m.cfg.MaxMemoryMB
	}
	if resolved.TimeoutSeconds <= 0 {
		resolved.TimeoutSeconds = m.cfg.TimeoutSeconds
	}
	return resolved
}

// Execute runs code in a sandbox, forwarding backend output in arrival
// order. The returned channel closes after the terminal result or
// error event.
func (m *Manager) Execute(ctx context.Context, sandboxID, code, language string) (<-chan models.SandboxEvent, error) {
	if !m.touch(sandboxID) {
		return nil, fmt.Errorf("%w: %s", ErrSandboxNotFound, sandboxID)
	}
	if language == "" {
		language = defaultTemplate
	}

	source, err := m.backend.Execute(ctx, sandboxID, code, language)
	if err != nil {
		if m.metrics != nil {
			m.metrics.RecordError("sandbox", "execute")
		}
		return nil, fmt.Errorf("execute in sandbox %s: %w", sandboxID, err)
	}

	out := make(chan models.SandboxEvent, eventBuffer)
	go m.forward(ctx, sandboxID, language, source, out)
	return out, nil
}

func (m *Manager) forward(ctx context.Context, sandboxID, language string, source <-chan models.SandboxEvent, out chan<- models.SandboxEvent) {
	defer close(out)

	start := time.Now()
	ctx, span := m.tracer.TraceSandboxExecution(ctx, sandboxID, language)
	defer span.End()

	sawTerminal := false
	exitCode := 0
	for ev := range source {
		switch ev.Type {
		case models.SandboxResult:
			sawTerminal = true
			exitCode = ev.ExitCode
		case models.SandboxError:
			sawTerminal = true
			exitCode = -1
			m.tracer.RecordError(span, errors.New(ev.Message))
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
		if sawTerminal {
			break
		}
	}

	if !sawTerminal {
		if ctx.Err() != nil {
			return
		}
		// The backend stream ended without a terminal event.
		select {
		case out <- models.SandboxEvent{
			Type:    models.SandboxError,
			Code:    "internal_error",
			Message: "execution stream ended without a result",
		}:
		case <-ctx.Done():
			return
		}
		exitCode = -1
	}

	duration := time.Since(start)
	m.touch(sandboxID)
	if m.metrics != nil {
		m.metrics.RecordSandboxExecution(language, duration.Seconds())
	}
	m.audit.LogSandboxExecuted(ctx, sandboxID, language, exitCode, duration)
}

// Upload writes a file into a sandbox and reports the stored size.
func (m *Manager) Upload(ctx context.Context, sandboxID, path string, content []byte) (models.FileUpload, error) {
	if !m.touch(sandboxID) {
		return models.FileUpload{}, fmt.Errorf("%w: %s", ErrSandboxNotFound, sandboxID)
	}
	if err := m.backend.Upload(ctx, sandboxID, path, content); err != nil {
		if m.metrics != nil {
			m.metrics.RecordError("sandbox", "upload")
		}
		return models.FileUpload{}, fmt.Errorf("upload to sandbox %s: %w", sandboxID, err)
	}
	m.logger.Debug(ctx, "file uploaded",
		"sandbox_id", sandboxID, "path", path, "size_bytes", len(content))
	return models.FileUpload{Path: path, SizeBytes: len(content)}, nil
}

// Destroy releases a sandbox. Destroying an unknown or already-destroyed
// sandbox is a no-op.
func (m *Manager) Destroy(ctx context.Context, sandboxID string) error {
	return m.destroy(ctx, sandboxID, "destroyed")
}

// DestroyAll releases every active sandbox, logging failures.
func (m *Manager) DestroyAll(ctx context.Context) {
	for _, id := range m.ActiveIDs() {
		if err := m.destroy(ctx, id, "destroyed"); err != nil {
			m.logger.Warn(ctx, "sandbox release failed", "sandbox_id", id, "error", err)
		}
	}
}

// destroy pops the entry before calling the backend, so the underlying
// resource is released at most once even under concurrent destroys.
func (m *Manager) destroy(ctx context.Context, sandboxID, reason string) error {
	m.mu.Lock()
	_, ok := m.sandboxes[sandboxID]
	delete(m.sandboxes, sandboxID)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if err := m.backend.Destroy(ctx, sandboxID); err != nil {
		if m.metrics != nil {
			m.metrics.RecordError("sandbox", "destroy")
		}
		return fmt.Errorf("destroy sandbox %s: %w", sandboxID, err)
	}

	if m.metrics != nil {
		m.metrics.SandboxDestroyed(reason)
	}
	m.audit.LogSandboxDestroyed(ctx, sandboxID, reason)
	m.logger.Info(ctx, "sandbox destroyed", "sandbox_id", sandboxID, "reason", reason)
	return nil
}

// ReapIdle destroys sandboxes idle longer than the idle timeout and
// returns how many were reaped.
func (m *Manager) ReapIdle(ctx context.Context) int {
	cutoff := time.Now().Add(-m.idleTimeout)

	m.mu.Lock()
	var stale []string
	for id, state := range m.sandboxes {
		if state.lastUsed.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	reaped := 0
	for _, id := range stale {
		if err := m.destroy(ctx, id, "expired"); err != nil {
			m.logger.Warn(ctx, "idle sandbox release failed", "sandbox_id", id, "error", err)
			continue
		}
		reaped++
	}
	if reaped > 0 {
		m.logger.Info(ctx, "idle sandboxes reaped", "count", reaped)
	}
	return reaped
}

// Get returns the info of an active sandbox.
func (m *Manager) Get(sandboxID string) (models.SandboxInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.sandboxes[sandboxID]
	if !ok {
		return models.SandboxInfo{}, false
	}
	return state.info, true
}

// ActiveCount returns the number of active sandboxes.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sandboxes)
}

// ActiveIDs returns the active sandbox ids, sorted.
func (m *Manager) ActiveIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sandboxes))
	for id := range m.sandboxes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// touch bumps a sandbox's last-used time, reporting whether it exists.
func (m *Manager) touch(sandboxID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.sandboxes[sandboxID]
	if !ok {
		return false
	}
	state.lastUsed = time.Now()
	return true
}
