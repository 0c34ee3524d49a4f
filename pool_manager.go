package sqlbridge

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// PoolManager tracks named pools so a host can route work to several
// databases (world state, accounts, analytics) through one place and
// tear them all down in one call at shutdown. All methods are safe for
// concurrent use.
type PoolManager struct {
	mu    sync.RWMutex
	pools map[string]*Pool
}

// NewPoolManager returns an empty manager.
func NewPoolManager() *PoolManager {
	return &PoolManager{pools: make(map[string]*Pool)}
}

// Open builds a pool from cfg and registers it under name. The name
// must be free; a losing race against another Open closes the fresh
// pool and reports the conflict.
func (m *PoolManager) Open(ctx context.Context, name string, cfg Config) (*Pool, error) {
	m.mu.RLock()
	_, exists := m.pools[name]
	m.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("pool %q already registered", name)
	}
	p, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := m.Register(name, p); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

// Register adds an existing pool under name. The manager owns the pool
// from here on: CloseAll closes it.
func (m *PoolManager) Register(name string, p *Pool) error {
	if name == "" {
		return fmt.Errorf("pool name must not be empty")
	}
	if p == nil {
		return fmt.Errorf("pool must not be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.pools[name]; exists {
		return fmt.Errorf("pool %q already registered", name)
	}
	m.pools[name] = p
	return nil
}

// Get returns the pool registered under name.
func (m *PoolManager) Get(name string) (*Pool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[name]
	return p, ok
}

// Names returns the registered pool names in sorted order.
func (m *PoolManager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close shuts down the pool registered under name and removes it.
func (m *PoolManager) Close(name string) error {
	m.mu.Lock()
	p, ok := m.pools[name]
	delete(m.pools, name)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("pool %q not registered", name)
	}
	return p.Close()
}

// CloseAll shuts down every registered pool. Every pool is attempted
// regardless of earlier failures; the errors come back aggregated.
func (m *PoolManager) CloseAll() error {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*Pool)
	m.mu.Unlock()

	var errs *multierror.Error
	for name, p := range pools {
		if err := p.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close pool %q: %w", name, err))
		}
	}
	return errs.ErrorOrNil()
}

// Stats snapshots every registered pool, keyed by name.
func (m *PoolManager) Stats() map[string]PoolStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]PoolStats, len(m.pools))
	for name, p := range m.pools {
		out[name] = p.Stats()
	}
	return out
}

// HealthCheck probes every registered pool, keyed by name. Checks run
// outside the registry lock so a slow server does not block Register.
func (m *PoolManager) HealthCheck(ctx context.Context) map[string]*HealthStatus {
	m.mu.RLock()
	pools := make(map[string]*Pool, len(m.pools))
	for name, p := range m.pools {
		pools[name] = p
	}
	m.mu.RUnlock()

	out := make(map[string]*HealthStatus, len(pools))
	for name, p := range pools {
		status, _ := p.HealthCheck(ctx)
		out[name] = status
	}
	return out
}
