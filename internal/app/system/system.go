// Package system manages the lifecycle of long-running background services.
package system

import (
	"context"
	"sync"

	"github.com/R3E-Network/securities_layer/pkg/logger"
)

// Service is a background component with a managed lifecycle. Start must not
// block; Stop must be idempotent.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Manager starts services in registration order and stops them in reverse.
type Manager struct {
	mu       sync.Mutex
	services []Service
	started  bool
	log      *logger.Logger
}

// NewManager constructs an empty manager.
func NewManager(log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewDefault("system")
	}
	return &Manager{log: log}
}

// Register adds a service. Registration after Start is rejected silently by
// not starting the service until the next Start call; callers should
// register everything first.
func (m *Manager) Register(svc Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = append(m.services, svc)
}

// Start brings up every registered service in order. The first failure stops
// the already-started services in reverse and returns the error.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	for i, svc := range m.services {
		if err := svc.Start(ctx); err != nil {
			m.log.WithError(err).WithField("service", svc.Name()).Error("service failed to start")
			for j := i - 1; j >= 0; j-- {
				if stopErr := m.services[j].Stop(ctx); stopErr != nil {
					m.log.WithError(stopErr).WithField("service", m.services[j].Name()).Warn("rollback stop failed")
				}
			}
			return err
		}
		m.log.WithField("service", svc.Name()).Info("service started")
	}
	m.started = true
	return nil
}

// Stop shuts down every service in reverse order. Errors are logged and the
// shutdown continues; the first error is returned.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return nil
	}
	var firstErr error
	for i := len(m.services) - 1; i >= 0; i-- {
		svc := m.services[i]
		if err := svc.Stop(ctx); err != nil {
			m.log.WithError(err).WithField("service", svc.Name()).Error("service failed to stop")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		m.log.WithField("service", svc.Name()).Info("service stopped")
	}
	m.started = false
	return firstErr
}
