package seriallink

import (
	"context"
	"fmt"
	"sync"

	"avaneesh/seriallink-go/pkg/channel"
	"avaneesh/seriallink-go/pkg/internal/logger"
)

// Manager keeps track of open links so they can be released together,
// for example on process shutdown
type Manager struct {
	links  map[string]*Link
	mu     sync.RWMutex
	logger logger.Logger
}

// NewManager creates a new manager
func NewManager() *Manager {
	return NewManagerWithLogger(logger.GetDefault())
}

// NewManagerWithLogger creates a new manager with custom logger
func NewManagerWithLogger(log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	return &Manager{
		links:  make(map[string]*Link),
		logger: log,
	}
}

// Open opens a link with Open and registers it under name
func (m *Manager) Open(ctx context.Context, name string, opts Options) (*Link, error) {
	if err := m.reserve(name); err != nil {
		return nil, err
	}
	l, err := Open(ctx, opts)
	return m.finish(name, l, err)
}

// OpenChannel opens a link with OpenChannel and registers it under name
func (m *Manager) OpenChannel(ctx context.Context, name string, ch channel.PhysicalChannel, opts Options) (*Link, error) {
	if err := m.reserve(name); err != nil {
		ch.Close()
		return nil, err
	}
	l, err := OpenChannel(ctx, ch, opts.Link)
	return m.finish(name, l, err)
}

// reserve claims name with a nil entry while the handshake runs
func (m *Manager) reserve(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.links[name]; exists {
		return fmt.Errorf("link %s already exists", name)
	}
	m.links[name] = nil
	return nil
}

func (m *Manager) finish(name string, l *Link, err error) (*Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		delete(m.links, name)
		return nil, err
	}
	m.links[name] = l
	m.logger.Info("Manager: Added link %s (%s)", name, l.Role())
	return l, nil
}

// Get returns an open link by name
func (m *Manager) Get(name string) (*Link, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, exists := m.links[name]
	if !exists || l == nil {
		return nil, false
	}
	return l, true
}

// Remove closes a link and forgets it
func (m *Manager) Remove(ctx context.Context, name string, showStatistics bool) error {
	m.mu.Lock()
	l, exists := m.links[name]
	if exists && l != nil {
		delete(m.links, name)
	}
	m.mu.Unlock()

	if !exists || l == nil {
		return fmt.Errorf("link %s not found", name)
	}

	m.logger.Info("Manager: Removing link %s", name)
	return l.Close(ctx, showStatistics)
}

// Shutdown closes every registered link. Links still opening are left to
// their own callers.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	links := make(map[string]*Link, len(m.links))
	for name, l := range m.links {
		if l != nil {
			links[name] = l
			delete(m.links, name)
		}
	}
	m.mu.Unlock()

	m.logger.Info("Manager: Shutting down")

	var firstErr error
	for name, l := range links {
		if err := l.Close(ctx, false); err != nil {
			m.logger.Error("Error closing link %s: %v", name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	m.logger.Info("Manager: Shutdown complete")
	return firstErr
}

// LinkCount returns the number of open links
func (m *Manager) LinkCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, l := range m.links {
		if l != nil {
			n++
		}
	}
	return n
}
