package sqlbridge

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectHealthQueries(mock sqlmock.Sqlmock, n int) {
	for i := 0; i < n; i++ {
		mock.ExpectQuery("SELECT 1").
			WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(int64(1)))
	}
}

func TestHealthCheck_BasicConnectivity(t *testing.T) {
	ctx := context.Background()
	p, mock, err := NewMockPool(ctx)
	require.NoError(t, err)
	defer p.Close()

	expectHealthQueries(mock, 1)

	status, err := p.HealthCheck(ctx)
	require.NoError(t, err)
	require.NotNil(t, status)

	assert.True(t, status.Healthy)
	assert.False(t, status.LastChecked.IsZero())
	assert.Greater(t, status.ResponseTime, time.Duration(0))
	assert.Empty(t, status.Errors)

	assert.Contains(t, status.Details, "ping_time")
	assert.Contains(t, status.Details, "query_time")
	assert.Contains(t, status.Details, "invalidations")

	assert.Equal(t, 1, status.ConnectionsMax)
	assert.Equal(t, 1, status.ConnectionsIdle)
	assert.Equal(t, 0, status.ConnectionsActive)
}

func TestHealthCheck_CustomTestQuery(t *testing.T) {
	ctx := context.Background()
	p, mock, err := NewMockPool(ctx)
	require.NoError(t, err)
	defer p.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 42")).
		WillReturnRows(sqlmock.NewRows([]string{"answer"}).AddRow(int64(42)))

	config := DefaultHealthCheckConfig()
	config.TestQuery = "SELECT 42"

	status, err := p.HealthCheckWithConfig(ctx, config)
	require.NoError(t, err)
	require.NotNil(t, status)

	assert.True(t, status.Healthy)
	assert.Contains(t, status.Details, "query_time")
}

func TestHealthCheck_FailingQuery(t *testing.T) {
	ctx := context.Background()
	p, mock, err := NewMockPool(ctx)
	require.NoError(t, err)
	defer p.Close()

	mock.ExpectQuery("SELECT 1").
		WillReturnError(&mysql.MySQLError{Number: 1064, Message: "syntax error"})

	status, err := p.HealthCheck(ctx)
	require.NoError(t, err) // failures land in the status, not the error
	require.NotNil(t, status)

	assert.False(t, status.Healthy)
	require.NotEmpty(t, status.Errors)

	found := false
	for _, healthErr := range status.Errors {
		if healthErr.Type == "query_execution" {
			found = true
			assert.Contains(t, healthErr.Message, "test query failed")
			assert.True(t, healthErr.Recoverable)
			assert.False(t, healthErr.Timestamp.IsZero())
		}
	}
	assert.True(t, found, "expected a query_execution error")
}

func TestHealthCheck_NilPool(t *testing.T) {
	var p *Pool
	status, err := p.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Nil(t, status)
}

func TestHealthCheck_CancelledContext(t *testing.T) {
	p, _, err := NewMockPool(context.Background())
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	status, err := p.HealthCheck(ctx)
	require.NoError(t, err)
	require.NotNil(t, status)

	assert.False(t, status.Healthy)
	assert.NotEmpty(t, status.Errors)
}

func TestHealthCheck_ReportsHeldSlot(t *testing.T) {
	ctx := context.Background()
	p, mock, err := NewMockPool(ctx, WithMockPoolSize(2))
	require.NoError(t, err)
	defer p.Close()

	expectHealthQueries(mock, 1)

	conn, err := p.Acquire(ctx)
	require.NoError(t, err)

	status, err := p.HealthCheck(ctx)
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.Equal(t, 1, status.ConnectionsActive)
	assert.Equal(t, 2, status.ConnectionsMax)

	require.NoError(t, conn.Close())
}

func TestHealthCheckConfig_Defaults(t *testing.T) {
	config := DefaultHealthCheckConfig()

	assert.Equal(t, 5*time.Second, config.Timeout)
	assert.Equal(t, 3, config.RetryAttempts)
	assert.Equal(t, time.Second, config.RetryBackoff)
	assert.Equal(t, 3*time.Second, config.QueryTimeout)
	assert.Equal(t, "SELECT 1", config.TestQuery)
	assert.False(t, config.MonitoringEnabled)
	assert.Equal(t, 30*time.Second, config.MonitoringInterval)
}

func TestHealthMonitor_StartStop(t *testing.T) {
	ctx := context.Background()
	p, mock, err := NewMockPool(ctx)
	require.NoError(t, err)
	defer p.Close()

	expectHealthQueries(mock, 100)

	config := DefaultHealthCheckConfig()
	config.MonitoringInterval = 20 * time.Millisecond
	config.Timeout = time.Second
	config.QueryTimeout = time.Second

	monitor := NewHealthMonitor(p, config)
	require.NoError(t, monitor.Start(ctx))
	assert.True(t, monitor.IsRunning())

	// A second start while running must fail.
	err = monitor.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !monitor.GetStatus().LastChecked.IsZero() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	status := monitor.GetStatus()
	require.NotNil(t, status)
	assert.False(t, status.LastChecked.IsZero(), "monitor never completed a check")
	assert.True(t, status.Healthy)

	monitor.Stop()
	assert.False(t, monitor.IsRunning())
	monitor.Stop() // idempotent
}

func TestHealthMonitor_StatusSnapshotIsolated(t *testing.T) {
	ctx := context.Background()
	p, mock, err := NewMockPool(ctx)
	require.NoError(t, err)
	defer p.Close()

	expectHealthQueries(mock, 100)

	config := DefaultHealthCheckConfig()
	config.MonitoringInterval = 20 * time.Millisecond

	monitor := NewHealthMonitor(p, config)
	require.NoError(t, monitor.Start(ctx))
	defer monitor.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !monitor.GetStatus().LastChecked.IsZero() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	status1 := monitor.GetStatus()
	status2 := monitor.GetStatus()
	require.NotSame(t, status1, status2)

	// Mutating one snapshot must not leak into the other.
	status1.Details["probe"] = "x"
	_, leaked := status2.Details["probe"]
	assert.False(t, leaked)
}

func TestPool_HealthMonitoringLifecycle(t *testing.T) {
	ctx := context.Background()
	p, mock, err := NewMockPool(ctx)
	require.NoError(t, err)
	defer p.Close()

	expectHealthQueries(mock, 100)

	config := DefaultHealthCheckConfig()
	config.MonitoringInterval = 20 * time.Millisecond

	require.NoError(t, p.StartHealthMonitoring(ctx, config))

	err = p.StartHealthMonitoring(ctx, config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st := p.HealthMonitorStatus(); st != nil && !st.LastChecked.IsZero() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	status := p.HealthMonitorStatus()
	require.NotNil(t, status)
	assert.False(t, status.LastChecked.IsZero())
	assert.True(t, status.Healthy)

	p.StopHealthMonitoring()
	assert.Nil(t, p.HealthMonitorStatus())
}

func TestPingWithRetry_Succeeds(t *testing.T) {
	ctx := context.Background()
	p, _, err := NewMockPool(ctx)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.PingWithRetry(ctx, 3, time.Millisecond))
}

func TestPingWithRetry_RecoversAfterTransientFailure(t *testing.T) {
	ctx := context.Background()

	seed, mock, err := sqlmock.NewWithDSN("sqlbridge_health_ping_retry",
		sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer seed.Close()

	mock.ExpectPing() // bootstrap

	cfg := Config{
		Driver: "sqlmock",
		DSN:    "sqlbridge_health_ping_retry",
		Pool:   PoolConfig{Size: 1},
		Retry:  RetryPolicy{MaxAttempts: 2, BaseBackoff: time.Millisecond},
	}
	p, err := NewPool(ctx, cfg)
	require.NoError(t, err)
	defer p.Close()

	mock.ExpectPing().WillReturnError(errors.New("server hiccup"))
	mock.ExpectPing()

	require.NoError(t, p.PingWithRetry(ctx, 3, time.Millisecond))
	require.NoError(t, mock.ExpectationsWereMet())
}
