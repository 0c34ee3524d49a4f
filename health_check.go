package sqlbridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// HealthStatus represents the overall health of the pool
type HealthStatus struct {
	Healthy           bool                   `json:"healthy"`
	LastChecked       time.Time              `json:"last_checked"`
	ResponseTime      time.Duration          `json:"response_time"`
	ConnectionsActive int                    `json:"connections_active"`
	ConnectionsIdle   int                    `json:"connections_idle"`
	ConnectionsMax    int                    `json:"connections_max"`
	Errors            []HealthError          `json:"errors,omitempty"`
	Details           map[string]interface{} `json:"details,omitempty"`
}

// HealthError represents a health check error
type HealthError struct {
	Type        string    `json:"type"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	Recoverable bool      `json:"recoverable"`
}

// HealthCheckConfig configures health check behavior
type HealthCheckConfig struct {
	Timeout            time.Duration `json:"timeout"`
	RetryAttempts      int           `json:"retry_attempts"`
	RetryBackoff       time.Duration `json:"retry_backoff"`
	QueryTimeout       time.Duration `json:"query_timeout"`
	TestQuery          string        `json:"test_query"`
	MonitoringEnabled  bool          `json:"monitoring_enabled"`
	MonitoringInterval time.Duration `json:"monitoring_interval"`
}

// DefaultHealthCheckConfig returns default health check configuration
func DefaultHealthCheckConfig() HealthCheckConfig {
	return HealthCheckConfig{
		Timeout:            5 * time.Second,
		RetryAttempts:      3,
		RetryBackoff:       time.Second,
		QueryTimeout:       3 * time.Second,
		TestQuery:          "SELECT 1",
		MonitoringEnabled:  false,
		MonitoringInterval: 30 * time.Second,
	}
}

// HealthCheck performs a connectivity and query check with default
// configuration and returns detailed status.
func (p *Pool) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return p.HealthCheckWithConfig(ctx, DefaultHealthCheckConfig())
}

// HealthCheckWithConfig performs a health check with custom configuration
func (p *Pool) HealthCheckWithConfig(ctx context.Context, config HealthCheckConfig) (*HealthStatus, error) {
	start := time.Now()
	status := &HealthStatus{
		LastChecked: start,
		Details:     make(map[string]interface{}),
		Errors:      make([]HealthError, 0),
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	if err := p.performPingCheck(timeoutCtx, status); err != nil {
		status.Errors = append(status.Errors, HealthError{
			Type:        "connectivity",
			Message:     fmt.Sprintf("ping failed: %v", err),
			Timestamp:   time.Now(),
			Recoverable: true,
		})
	}

	if err := p.performQueryCheck(timeoutCtx, config, status); err != nil {
		status.Errors = append(status.Errors, HealthError{
			Type:        "query_execution",
			Message:     fmt.Sprintf("test query failed: %v", err),
			Timestamp:   time.Now(),
			Recoverable: true,
		})
	}

	p.collectPoolStats(status)

	status.Healthy = len(status.Errors) == 0
	status.ResponseTime = time.Since(start)
	return status, nil
}

// performPingCheck verifies basic server reachability.
func (p *Pool) performPingCheck(ctx context.Context, status *HealthStatus) error {
	start := time.Now()
	err := p.db.PingContext(ctx)
	status.Details["ping_time"] = time.Since(start).String()
	return err
}

// performQueryCheck runs the configured test query on a real pool slot,
// so a wedged slot shows up here even when the server itself is fine.
func (p *Pool) performQueryCheck(ctx context.Context, config HealthCheckConfig, status *HealthStatus) error {
	queryCtx, cancel := context.WithTimeout(ctx, config.QueryTimeout)
	defer cancel()

	pc, err := p.acquire(queryCtx)
	if err != nil {
		return err
	}
	start := time.Now()
	var probe interface{}
	err = pc.inner.QueryRowContext(queryCtx, config.TestQuery).Scan(&probe)
	p.release(queryCtx, pc, err)
	status.Details["query_time"] = time.Since(start).String()
	return err
}

// collectPoolStats snapshots slot usage into the status.
func (p *Pool) collectPoolStats(status *HealthStatus) {
	st := p.Stats()
	status.ConnectionsActive = st.InUse
	status.ConnectionsIdle = st.Idle
	status.ConnectionsMax = st.Size
	status.Details["invalidations"] = st.Invalidations
	status.Details["stmt_cache_size"] = st.StmtCacheSize
}

// PingWithRetry pings the server, retrying transient failures with
// exponential backoff.
func (p *Pool) PingWithRetry(ctx context.Context, maxAttempts int, initial time.Duration) error {
	if p == nil {
		return fmt.Errorf("pool is nil")
	}
	pol := RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseBackoff: initial,
		MaxBackoff:  10 * initial,
		Jitter:      true,
	}
	bo := backoff.WithContext(pol.backOff(), ctx)
	return backoff.Retry(func() error { return p.db.PingContext(ctx) }, bo)
}

// HealthMonitor manages continuous health monitoring
type HealthMonitor struct {
	pool   *Pool
	config HealthCheckConfig

	statusMu sync.RWMutex
	status   *HealthStatus

	runningMu sync.Mutex
	running   bool
	stopChan  chan struct{}
}

// NewHealthMonitor creates a new health monitor for a pool
func NewHealthMonitor(pool *Pool, config HealthCheckConfig) *HealthMonitor {
	return &HealthMonitor{
		pool:   pool,
		config: config,
		status: &HealthStatus{
			Details: make(map[string]interface{}),
		},
	}
}

// Start begins periodic health checks until Stop is called or the
// context is cancelled.
func (m *HealthMonitor) Start(ctx context.Context) error {
	m.runningMu.Lock()
	defer m.runningMu.Unlock()
	if m.running {
		return fmt.Errorf("health monitor already running")
	}
	m.running = true
	m.stopChan = make(chan struct{})
	go m.monitorLoop(ctx, m.stopChan)
	return nil
}

// Stop halts periodic health checks.
func (m *HealthMonitor) Stop() {
	m.runningMu.Lock()
	defer m.runningMu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	close(m.stopChan)
}

// IsRunning reports whether the monitor loop is active.
func (m *HealthMonitor) IsRunning() bool {
	m.runningMu.Lock()
	defer m.runningMu.Unlock()
	return m.running
}

// GetStatus returns a copy of the most recent health status. Details
// and Errors are copied so callers cannot race with the monitor loop.
func (m *HealthMonitor) GetStatus() *HealthStatus {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()
	snapshot := *m.status
	if m.status.Details != nil {
		details := make(map[string]interface{}, len(m.status.Details))
		for k, v := range m.status.Details {
			details[k] = v
		}
		snapshot.Details = details
	}
	if len(m.status.Errors) > 0 {
		snapshot.Errors = append([]HealthError(nil), m.status.Errors...)
	}
	return &snapshot
}

func (m *HealthMonitor) monitorLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(m.config.MonitoringInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := m.pool.HealthCheckWithConfig(ctx, m.config)
			if err != nil {
				continue
			}
			m.statusMu.Lock()
			m.status = status
			m.statusMu.Unlock()
		}
	}
}

// StartHealthMonitoring launches a background health monitor on the pool.
func (p *Pool) StartHealthMonitoring(ctx context.Context, config HealthCheckConfig) error {
	p.healthMu.Lock()
	defer p.healthMu.Unlock()
	if p.healthMonitor != nil {
		return fmt.Errorf("health monitoring already started")
	}
	m := NewHealthMonitor(p, config)
	if err := m.Start(ctx); err != nil {
		return err
	}
	p.healthMonitor = m
	return nil
}

// StopHealthMonitoring stops the background health monitor, if running.
func (p *Pool) StopHealthMonitoring() {
	p.healthMu.Lock()
	defer p.healthMu.Unlock()
	if p.healthMonitor == nil {
		return
	}
	p.healthMonitor.Stop()
	p.healthMonitor = nil
}

// HealthMonitorStatus returns the latest monitored status, or nil when
// monitoring is not running.
func (p *Pool) HealthMonitorStatus() *HealthStatus {
	p.healthMu.Lock()
	m := p.healthMonitor
	p.healthMu.Unlock()
	if m == nil {
		return nil
	}
	return m.GetStatus()
}
