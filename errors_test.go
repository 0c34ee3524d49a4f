package sqlbridge

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	mysql "github.com/go-sql-driver/mysql"
)

func TestClassify_MySQLErrorCodes(t *testing.T) {
	cases := []struct {
		code uint16
		want ErrorClass
		name string
	}{
		{1213, ErrClassConflict, "deadlock"},            // ER_LOCK_DEADLOCK
		{1205, ErrClassRetryable, "lock_wait_timeout"},  // ER_LOCK_WAIT_TIMEOUT
		{1040, ErrClassRetryable, "too_many_conns"},     // ER_CON_COUNT_ERROR
		{1053, ErrClassRetryable, "server_shutdown"},    // ER_SERVER_SHUTDOWN
		{1290, ErrClassReadonly, "read_only_mode"},      // ER_OPTION_PREVENTS_STATEMENT
		{1836, ErrClassReadonly, "super_read_only"},     // ER_READ_ONLY_MODE
		{1062, ErrClassConstraint, "duplicate_entry"},   // ER_DUP_ENTRY
		{1022, ErrClassConstraint, "duplicate_key"},     // ER_DUP_KEY
		{1048, ErrClassConstraint, "not_null"},          // ER_BAD_NULL_ERROR
		{1452, ErrClassConstraint, "fk_no_referenced"},  // ER_NO_REFERENCED_ROW_2
		{1451, ErrClassConstraint, "fk_row_referenced"}, // ER_ROW_IS_REFERENCED_2
		{3819, ErrClassConstraint, "check_violation"},   // ER_CHECK_CONSTRAINT_VIOLATED
		{1064, ErrClassUnknown, "syntax_error"},
		{9999, ErrClassUnknown, "unknown"},
	}
	for _, tc := range cases {
		if got := Classify(&mysql.MySQLError{Number: tc.code}); got != tc.want {
			t.Fatalf("%s: classify(%d)=%v want %v", tc.name, tc.code, got, tc.want)
		}
	}
}

func TestClassify_WrappedError(t *testing.T) {
	cause := &mysql.MySQLError{Number: 1213, Message: "deadlock found"}
	err := wrapError(KindExecution, "UPDATE t SET a=1", cause)
	if got := Classify(err); got != ErrClassConflict {
		t.Fatalf("classify through wrap=%v", got)
	}
}

func TestClassify_TransportFaults(t *testing.T) {
	if Classify(driver.ErrBadConn) != ErrClassRetryable {
		t.Fatalf("ErrBadConn should be retryable")
	}
	if Classify(io.EOF) != ErrClassRetryable {
		t.Fatalf("EOF should be retryable")
	}
	if Classify(errors.New("boom")) != ErrClassUnknown {
		t.Fatalf("plain error should be unknown")
	}
	if Classify(nil) != ErrClassUnknown {
		t.Fatalf("nil should be unknown")
	}
}

func TestRetryableClass(t *testing.T) {
	if !retryableClass(ErrClassRetryable) || !retryableClass(ErrClassConflict) || !retryableClass(ErrClassReadonly) {
		t.Fatalf("retryable classes must retry")
	}
	if retryableClass(ErrClassConstraint) || retryableClass(ErrClassUnknown) {
		t.Fatalf("constraint/unknown must not retry")
	}
}

func TestWrapError_KeepsExistingKind(t *testing.T) {
	inner := errorf(KindUnboundParameter, "SELECT :a", "no value bound for :a")
	out := wrapError(KindExecution, "SELECT :a", inner)
	if !IsKind(out, KindUnboundParameter) {
		t.Fatalf("outer wrap replaced kind: %v", out)
	}
	if out != inner {
		t.Fatalf("already-kinded error should pass through unchanged")
	}
}

func TestWrapError_NilPassthrough(t *testing.T) {
	if wrapError(KindExecution, "q", nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}

func TestError_MessageAndUnwrap(t *testing.T) {
	cause := fmt.Errorf("server gone")
	err := wrapError(KindConnection, "SELECT 1", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("unwrap chain broken")
	}
	if err.Error() == "" {
		t.Fatalf("empty message")
	}
	if !IsKind(err, KindConnection) {
		t.Fatalf("kind lost: %v", err)
	}
}

func TestErrorKind_String(t *testing.T) {
	kinds := map[ErrorKind]string{
		KindConnection:        "connection",
		KindParameterMismatch: "parameter_mismatch",
		KindUnboundParameter:  "unbound_parameter",
		KindStatementPrepare:  "statement_prepare",
		KindExecution:         "execution",
		KindTransactionAbort:  "transaction_abort",
	}
	for k, want := range kinds {
		if k.String() != want { t.Fatalf("%d.String()=%q", k, k.String()) }
	}
}

func TestIsConnFatal(t *testing.T) {
	fatal := []error{
		driver.ErrBadConn,
		mysql.ErrInvalidConn,
		io.EOF,
		io.ErrUnexpectedEOF,
		&net.OpError{Op: "read", Err: errors.New("connection reset")},
		fmt.Errorf("wrapped: %w", driver.ErrBadConn),
	}
	for _, err := range fatal {
		if !isConnFatal(err) { t.Fatalf("isConnFatal(%v)=false", err) }
	}
	benign := []error{
		nil,
		errors.New("syntax error"),
		&mysql.MySQLError{Number: 1062, Message: "duplicate"},
	}
	for _, err := range benign {
		if isConnFatal(err) { t.Fatalf("isConnFatal(%v)=true", err) }
	}
}
