package sqlbridge

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"

	mysql "github.com/go-sql-driver/mysql"
)

// ErrorKind identifies which contract a failed request broke. Every
// failure delivered through a result envelope carries exactly one kind.
type ErrorKind int

const (
	// KindConnection covers pool exhaustion at shutdown, failed
	// bootstrap, and connections lost mid-request.
	KindConnection ErrorKind = iota
	// KindParameterMismatch covers wrong arity, wrong source shape for
	// the placeholder style, and mixed styles in one text.
	KindParameterMismatch
	// KindUnboundParameter covers a named placeholder with no value in
	// the source mapping.
	KindUnboundParameter
	// KindStatementPrepare covers server-side prepare failures.
	KindStatementPrepare
	// KindExecution covers failures while running a prepared statement
	// or reading its rows.
	KindExecution
	// KindTransactionAbort covers batches rolled back after a
	// statement failed.
	KindTransactionAbort
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindParameterMismatch:
		return "parameter_mismatch"
	case KindUnboundParameter:
		return "unbound_parameter"
	case KindStatementPrepare:
		return "statement_prepare"
	case KindExecution:
		return "execution"
	case KindTransactionAbort:
		return "transaction_abort"
	}
	return "unknown"
}

// Error is the failure type surfaced to callers. It wraps the driver
// cause so errors.Is/As keep working against go-sql-driver types.
type Error struct {
	Kind  ErrorKind
	Query string
	Err   error
}

func (e *Error) Error() string {
	if e == nil { return "<nil>" }
	if e.Query != "" {
		return fmt.Sprintf("sqlbridge: %s: %v (query: %s)", e.Kind, e.Err, e.Query)
	}
	return fmt.Sprintf("sqlbridge: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil { return nil }
	return e.Err
}

// wrapError tags err with a kind unless it already carries one.
func wrapError(kind ErrorKind, query string, err error) error {
	if err == nil { return nil }
	var be *Error
	if errors.As(err, &be) { return err }
	return &Error{Kind: kind, Query: query, Err: err}
}

func errorf(kind ErrorKind, query, format string, args ...any) error {
	return &Error{Kind: kind, Query: query, Err: fmt.Errorf(format, args...)}
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == kind
}

var (
	// ErrPoolClosed is returned for requests submitted after Close.
	ErrPoolClosed = errors.New("pool is closed")
	// ErrNoRows mirrors sql.ErrNoRows for callers that prefer the
	// package sentinel; scalar/single verbs return nil instead.
	ErrNoRows = sql.ErrNoRows
)

// ErrorClass is a coarse classification used by the retry machinery.
type ErrorClass int

const (
	ErrClassUnknown ErrorClass = iota
	ErrClassRetryable
	ErrClassConflict
	ErrClassReadonly
	ErrClassConstraint
)

// Classify maps server and transport errors onto retry classes.
// Server errors are matched by MySQL error number; transport faults
// are retryable because a replacement connection may succeed.
func Classify(err error) ErrorClass {
	if err == nil { return ErrClassUnknown }
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case 1213: // ER_LOCK_DEADLOCK
			return ErrClassConflict
		case 1205, 1040, 1053: // lock wait timeout, too many connections, shutdown in progress
			return ErrClassRetryable
		case 1290, 1836: // option prevents statement, read-only mode
			return ErrClassReadonly
		case 1022, 1048, 1062, 1451, 1452, 3819: // duplicate key, null, FK, check
			return ErrClassConstraint
		}
		return ErrClassUnknown
	}
	if isConnFatal(err) { return ErrClassRetryable }
	return ErrClassUnknown
}

// retryableClass reports whether the retry loop may run the operation
// again. Constraint and unknown failures never retry.
func retryableClass(cl ErrorClass) bool {
	return cl == ErrClassRetryable || cl == ErrClassConflict || cl == ErrClassReadonly
}

// isConnFatal reports whether err means the connection itself is no
// longer usable and its slot must be rebuilt.
func isConnFatal(err error) bool {
	if err == nil { return false }
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) { return true }
	if errors.Is(err, sql.ErrConnDone) { return true }
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) { return true }
	var ne net.Error
	return errors.As(err, &ne)
}
