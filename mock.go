package sqlbridge

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/DATA-DOG/go-sqlmock"
)

// mockSeq keeps sqlmock DSNs unique across pools in one test binary.
var mockSeq atomic.Uint64

// NewMockPool builds a pool backed by a sqlmock driver instead of a
// live server. The returned Sqlmock programs expectations; the pool
// behaves as in production, including statement caching, retries and
// session dispatch.
//
// sqlmock hands every driver Open for the same DSN the same backing
// mock, so all pool slots share one expectation stream. Tests that
// exercise more than one slot should switch the mock to unordered
// matching.
func NewMockPool(ctx context.Context, opts ...func(*Config)) (*Pool, sqlmock.Sqlmock, error) {
	cfg := Config{Pool: PoolConfig{Size: 1}}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewMockPoolWithConfig(ctx, cfg)
}

// NewMockPoolWithConfig is NewMockPool with caller-controlled tuning.
// Driver and DSN are always overridden to point at the mock.
func NewMockPoolWithConfig(ctx context.Context, cfg Config) (*Pool, sqlmock.Sqlmock, error) {
	dsn := fmt.Sprintf("sqlbridge_mock_%d", mockSeq.Add(1))
	seed, mock, err := sqlmock.NewWithDSN(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("create sqlmock: %w", err)
	}
	cfg.Driver = "sqlmock"
	cfg.DSN = dsn
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		seed.Close()
		return nil, nil, err
	}
	// The pool holds its own handles against the registered DSN; the
	// seed handle from sqlmock is no longer needed.
	seed.Close()
	return pool, mock, nil
}

// WithMockPoolSize sets the slot count for NewMockPool.
func WithMockPoolSize(n int) func(*Config) {
	return func(c *Config) { c.Pool.Size = n }
}

// WithMockStmtCacheSize sets the statement cache capacity for
// NewMockPool. Negative disables caching.
func WithMockStmtCacheSize(n int) func(*Config) {
	return func(c *Config) { c.Pool.StmtCacheSize = n }
}
