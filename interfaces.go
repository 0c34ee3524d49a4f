package sqlbridge

import (
	"context"
	"database/sql"
)

// Querier is the execution surface shared by connections and
// transactions.
type Querier interface {
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// DatabasePool defines the connection-level surface of a pool. The
// request verbs live on Verbs; this interface covers direct access for
// callers that manage their own statements.
type DatabasePool interface {
	WithConn(ctx context.Context, fn func(*Conn) error) error
	Acquire(ctx context.Context) (*Conn, error)
	WithinTx(ctx context.Context, fn func(*Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// DatabaseConn defines the surface of an acquired connection,
// including the cached statement and named parameter paths.
type DatabaseConn interface {
	Querier
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row
	QueryStream(ctx context.Context, query string, cb func([]any) error, args ...any) error

	EnableStmtCache(capacity int)
	ExecCached(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryCached(ctx context.Context, query string, args ...any) (*sql.Rows, error)

	NamedExec(ctx context.Context, query string, arg any) (sql.Result, error)
	NamedQuery(ctx context.Context, query string, arg any) (*sql.Rows, error)

	BulkInsert(ctx context.Context, table string, columns []string, rows [][]any) (sql.Result, error)
	InsertOnDuplicate(ctx context.Context, table string, columns []string, rows [][]any, updateCols []string) (sql.Result, error)

	Close() error
}

// DatabaseTx defines the surface available inside a transaction.
type DatabaseTx interface {
	Querier
}

// Verbs is the request surface exposed to script-side callers, shared
// by sessions and the pool's default session.
type Verbs interface {
	Scalar(ctx context.Context, query string, params any) (any, error)
	Single(ctx context.Context, query string, params any) (Row, error)
	Multiple(ctx context.Context, query string, params any) ([]Row, error)
	Update(ctx context.Context, query string, params any) (WriteResult, error)
	Insert(ctx context.Context, query string, params any) (WriteResult, error)
	Batch(ctx context.Context, stmts []Statement) (WriteResult, error)
}

// Compile-time interface checks
var (
	_ DatabasePool = (*Pool)(nil)
	_ DatabaseConn = (*Conn)(nil)
	_ DatabaseTx   = (*Tx)(nil)
	_ Verbs        = (*Session)(nil)
	_ Verbs        = (*Pool)(nil)
)
