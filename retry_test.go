package sqlbridge

import (
	"context"
	"errors"
	"testing"
	"time"

	mysql "github.com/go-sql-driver/mysql"
)

var errRetry = errors.New("retryable")
var errNonRetry = errors.New("non-retryable")

func classifyForTest(err error) ErrorClass {
	if errors.Is(err, errRetry) { return ErrClassRetryable }
	return ErrClassUnknown
}

func TestRetry_SucceedsAfterRetries(t *testing.T) {
	ctx := context.Background()
	pol := RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Jitter: false, MaxElapsed: 50 * time.Millisecond}
	calls := 0
	op := func() error {
		calls++
		if calls < 3 { return errRetry }
		return nil
	}
	if err := retryWithPolicy(ctx, pol, op, classifyForTest); err != nil {
		t.Fatalf("retryWithPolicy err: %v", err)
	}
	if calls != 3 { t.Fatalf("calls=%d want 3", calls) }
}

func TestRetry_StopsOnNonRetryable(t *testing.T) {
	ctx := context.Background()
	pol := RetryPolicy{MaxAttempts: 5, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Jitter: false, MaxElapsed: 50 * time.Millisecond}
	calls := 0
	op := func() error { calls++; return errNonRetry }
	if err := retryWithPolicy(ctx, pol, op, classifyForTest); !errors.Is(err, errNonRetry) {
		t.Fatalf("expected non-retryable returned, got %v", err)
	}
	if calls != 1 { t.Fatalf("calls=%d want 1", calls) }
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	ctx := context.Background()
	pol := RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Jitter: false}
	calls := 0
	op := func() error { calls++; return errRetry }
	err := retryWithPolicy(ctx, pol, op, classifyForTest)
	if !errors.Is(err, errRetry) { t.Fatalf("err=%v", err) }
	if calls != 3 { t.Fatalf("calls=%d want 3", calls) }
}

func TestRetry_RespectsMaxElapsed(t *testing.T) {
	ctx := context.Background()
	pol := RetryPolicy{MaxAttempts: 100, BaseBackoff: 2 * time.Millisecond, MaxBackoff: 5 * time.Millisecond, Jitter: false, MaxElapsed: 5 * time.Millisecond}
	calls := 0
	op := func() error { calls++; return errRetry }
	err := retryWithPolicy(ctx, pol, op, classifyForTest)
	if err == nil { t.Fatalf("expected error due to elapsed") }
	if calls < 1 || calls >= pol.MaxAttempts { t.Fatalf("calls=%d out of expected range", calls) }
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pol := RetryPolicy{MaxAttempts: 5, BaseBackoff: time.Millisecond, Jitter: false}
	calls := 0
	op := func() error { calls++; return errRetry }
	err := retryWithPolicy(ctx, pol, op, classifyForTest)
	if !errors.Is(err, context.Canceled) { t.Fatalf("err=%v", err) }
	if calls != 0 { t.Fatalf("calls=%d want 0, op must not run after cancel", calls) }
}

func TestRetry_ZeroAttemptsRunsOnce(t *testing.T) {
	ctx := context.Background()
	calls := 0
	op := func() error { calls++; return nil }
	if err := retryWithPolicy(ctx, RetryPolicy{}, op, classifyForTest); err != nil {
		t.Fatalf("err: %v", err)
	}
	if calls != 1 { t.Fatalf("calls=%d want 1", calls) }
}

func TestRetry_PublicHelperUsesPackageClassification(t *testing.T) {
	ctx := context.Background()
	pol := RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Jitter: false}

	calls := 0
	deadlockThenOK := func() error {
		calls++
		if calls == 1 { return &mysql.MySQLError{Number: 1213, Message: "Deadlock found"} }
		return nil
	}
	if err := Retry(ctx, pol, deadlockThenOK); err != nil {
		t.Fatalf("Retry err: %v", err)
	}
	if calls != 2 { t.Fatalf("calls=%d want 2", calls) }

	calls = 0
	dup := func() error { calls++; return &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"} }
	err := Retry(ctx, pol, dup)
	var me *mysql.MySQLError
	if !errors.As(err, &me) || me.Number != 1062 { t.Fatalf("err=%v", err) }
	if calls != 1 { t.Fatalf("calls=%d want 1, constraint errors must not retry", calls) }
}
