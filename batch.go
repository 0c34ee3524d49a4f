package sqlbridge

import (
	"context"
	"database/sql"
	"time"
)

// bindBatch resolves every statement up front, so a batch with a bad
// statement never reaches the server at all.
func bindBatch(stmts []Statement) ([]boundStatement, error) {
	if len(stmts) == 0 {
		return nil, errorf(KindParameterMismatch, "", "batch contains no statements")
	}
	out := make([]boundStatement, len(stmts))
	for i, st := range stmts {
		shape, args, err := bindOne(st.Query, st.Params)
		if err != nil { return nil, err }
		out[i] = boundStatement{shape: shape, args: args}
	}
	return out, nil
}

// executeBatch runs the bound statements inside one transaction on one
// borrowed slot. The whole batch commits or none of it does;
// deadlock-class failures retry on the pool policy with a fresh
// transaction.
func (p *Pool) executeBatch(req *queryRequest, start time.Time) Result {
	res := Result{RequestID: req.id, Verb: VerbBatch}
	op := func() error {
		pc, err := p.acquire(req.ctx)
		if err != nil { return err }
		agg, err := p.runBatchTx(req.ctx, pc, req.stmts)
		p.release(req.ctx, pc, err)
		if err == nil { res.Write = agg }
		return err
	}
	err := retryWithPolicy(req.ctx, p.retry, op, Classify)
	if err != nil && !IsKind(err, KindConnection) {
		err = wrapError(KindTransactionAbort, "", err)
	}
	res.Err = err
	res.Elapsed = time.Since(start)
	return res
}

// runBatchTx executes the statements in order. The first failure
// rolls the transaction back and becomes the batch's error. Aggregate
// counts sum affected rows; the insert id is the last one the server
// produced.
func (p *Pool) runBatchTx(ctx context.Context, pc *poolConn, stmts []boundStatement) (WriteResult, error) {
	started := time.Now()
	txCtx, txSpan := p.startSpan(ctx, "transaction", "")
	tx, err := pc.inner.BeginTx(txCtx, nil)
	if err != nil {
		p.finishSpan(txSpan, err)
		return WriteResult{}, err
	}
	var agg WriteResult
	for _, st := range stmts {
		execStart := time.Now()
		_, span := p.startSpan(txCtx, "batch_exec", st.shape.orig)
		r, err := tx.ExecContext(txCtx, st.shape.text, st.args...)
		p.finishSpan(span, err)
		p.observeQuery(txCtx, "batch_exec", st.shape.orig, st.args, time.Since(execStart), err)
		if err != nil {
			_ = tx.Rollback()
			p.logTransaction(txCtx, "rollback", time.Since(started), err)
			p.recordTransaction(txCtx, time.Since(started), err)
			p.finishSpan(txSpan, err)
			return WriteResult{}, err
		}
		if n, aerr := r.RowsAffected(); aerr == nil { agg.AffectedRows += n }
		if id, ierr := r.LastInsertId(); ierr == nil && id != 0 { agg.LastInsertID = id }
	}
	if err := tx.Commit(); err != nil {
		p.logTransaction(txCtx, "commit", time.Since(started), err)
		p.recordTransaction(txCtx, time.Since(started), err)
		p.finishSpan(txSpan, err)
		return WriteResult{}, err
	}
	p.logTransaction(txCtx, "commit", time.Since(started), nil)
	p.recordTransaction(txCtx, time.Since(started), nil)
	p.finishSpan(txSpan, nil)
	return agg, nil
}

// Tx wraps *sql.Tx for host-side transactional work outside the
// session verbs.
type Tx struct {
	inner *sql.Tx
}

// Exec executes within the transaction.
func (tx *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if tx == nil || tx.inner == nil { return nil, sql.ErrTxDone }
	return tx.inner.ExecContext(ctx, query, args...)
}

// Query runs a query within the transaction.
func (tx *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx == nil || tx.inner == nil { return nil, sql.ErrTxDone }
	return tx.inner.QueryContext(ctx, query, args...)
}

// WithinTx executes fn within a transaction on one borrowed slot,
// retrying deadlock-class failures per the pool policy.
func (p *Pool) WithinTx(ctx context.Context, fn func(*Tx) error) error {
	if p == nil { return ErrPoolClosed }
	op := func() error {
		pc, err := p.acquire(ctx)
		if err != nil { return err }
		started := time.Now()
		txCtx, span := p.startSpan(ctx, "transaction", "")
		tx, err := pc.inner.BeginTx(txCtx, nil)
		if err != nil {
			p.finishSpan(span, err)
			p.release(ctx, pc, err)
			return err
		}
		err = fn(&Tx{inner: tx})
		if err == nil {
			err = tx.Commit()
		} else {
			_ = tx.Rollback()
		}
		p.finishSpan(span, err)
		p.logTransaction(txCtx, "tx", time.Since(started), err)
		p.recordTransaction(txCtx, time.Since(started), err)
		p.release(ctx, pc, err)
		return err
	}
	return retryWithPolicy(ctx, p.retry, op, Classify)
}
