package sqlbridge

import (
	"context"

	"github.com/google/uuid"
)

// Session is a logical caller: one FIFO stream of requests. All
// requests submitted through handles with the same name begin,
// complete and deliver in submission order. Separate sessions run
// concurrently up to the pool size.
//
// A script host typically creates one session per script thread and
// keeps it for the thread's lifetime.
type Session struct {
	name string
	p    *Pool
	sq   *sessionQueue
}

// Session returns the handle for name, creating its queue on first
// use. Handles with the same name share one stream.
func (p *Pool) Session(name string) *Session {
	return &Session{name: name, p: p, sq: p.dispatcher.session(name)}
}

// NewSession returns a session with a unique generated name.
func (p *Pool) NewSession() *Session {
	return p.Session(uuid.NewString())
}

// Name returns the session's stream name.
func (s *Session) Name() string { return s.name }

// submit binds the request up front and enqueues it. Binding failures
// still travel through the queue so per-session envelope order holds;
// they just never touch a connection.
func (s *Session) submit(ctx context.Context, verb Verb, query string, params any, stmts []Statement, cb func(Result)) *queryRequest {
	req := newRequest(ctx, verb, cb)
	if verb == VerbBatch {
		req.stmts, req.bindErr = bindBatch(stmts)
	} else {
		req.shape, req.args, req.bindErr = bindOne(query, params)
	}
	if !s.p.dispatcher.submit(s.sq, req) {
		req.deliver(Result{RequestID: req.id, Verb: verb, Err: wrapError(KindConnection, query, ErrPoolClosed)})
	}
	return req
}

func bindOne(query string, params any) (*queryShape, []any, error) {
	shape, err := resolveShape(query)
	if err != nil { return nil, nil, err }
	args, err := shape.bind(params)
	if err != nil { return shape, nil, err }
	return shape, args, nil
}

// Scalar runs query and returns the first column of the first row,
// nil when no row matched. Blocks the calling goroutine until the
// envelope arrives; everything else keeps running.
func (s *Session) Scalar(ctx context.Context, query string, params any) (any, error) {
	res := s.submit(ctx, VerbScalar, query, params, nil, nil).fut.wait()
	return res.Scalar, res.Err
}

// Single returns the first matching row, nil when nothing matched.
func (s *Session) Single(ctx context.Context, query string, params any) (Row, error) {
	res := s.submit(ctx, VerbSingle, query, params, nil, nil).fut.wait()
	return res.Row, res.Err
}

// Multiple returns every matching row in result-set order.
func (s *Session) Multiple(ctx context.Context, query string, params any) ([]Row, error) {
	res := s.submit(ctx, VerbMultiple, query, params, nil, nil).fut.wait()
	return res.Rows, res.Err
}

// Update executes a write statement and reports affected rows.
func (s *Session) Update(ctx context.Context, query string, params any) (WriteResult, error) {
	res := s.submit(ctx, VerbUpdate, query, params, nil, nil).fut.wait()
	return res.Write, res.Err
}

// Insert executes an insert and reports affected rows plus the
// generated key.
func (s *Session) Insert(ctx context.Context, query string, params any) (WriteResult, error) {
	res := s.submit(ctx, VerbInsert, query, params, nil, nil).fut.wait()
	return res.Write, res.Err
}

// Batch runs the statements atomically inside one transaction on one
// connection. Any failure rolls everything back.
func (s *Session) Batch(ctx context.Context, stmts []Statement) (WriteResult, error) {
	res := s.submit(ctx, VerbBatch, "", nil, stmts, nil).fut.wait()
	return res.Write, res.Err
}

// ScalarAsync is Scalar with callback delivery. The callback runs on
// the session's drain goroutine, in submission order.
func (s *Session) ScalarAsync(ctx context.Context, query string, params any, cb func(any, error)) {
	s.submit(ctx, VerbScalar, query, params, nil, func(res Result) { cb(res.Scalar, res.Err) })
}

// SingleAsync is Single with callback delivery.
func (s *Session) SingleAsync(ctx context.Context, query string, params any, cb func(Row, error)) {
	s.submit(ctx, VerbSingle, query, params, nil, func(res Result) { cb(res.Row, res.Err) })
}

// MultipleAsync is Multiple with callback delivery.
func (s *Session) MultipleAsync(ctx context.Context, query string, params any, cb func([]Row, error)) {
	s.submit(ctx, VerbMultiple, query, params, nil, func(res Result) { cb(res.Rows, res.Err) })
}

// UpdateAsync is Update with callback delivery.
func (s *Session) UpdateAsync(ctx context.Context, query string, params any, cb func(WriteResult, error)) {
	s.submit(ctx, VerbUpdate, query, params, nil, func(res Result) { cb(res.Write, res.Err) })
}

// InsertAsync is Insert with callback delivery.
func (s *Session) InsertAsync(ctx context.Context, query string, params any, cb func(WriteResult, error)) {
	s.submit(ctx, VerbInsert, query, params, nil, func(res Result) { cb(res.Write, res.Err) })
}

// BatchAsync is Batch with callback delivery.
func (s *Session) BatchAsync(ctx context.Context, stmts []Statement, cb func(WriteResult, error)) {
	s.submit(ctx, VerbBatch, "", nil, stmts, func(res Result) { cb(res.Write, res.Err) })
}

// defaultSessionName backs the Pool-level verb shortcuts.
const defaultSessionName = "default"

// Scalar is Session.Scalar on the pool's default session.
func (p *Pool) Scalar(ctx context.Context, query string, params any) (any, error) {
	return p.Session(defaultSessionName).Scalar(ctx, query, params)
}

// Single is Session.Single on the pool's default session.
func (p *Pool) Single(ctx context.Context, query string, params any) (Row, error) {
	return p.Session(defaultSessionName).Single(ctx, query, params)
}

// Multiple is Session.Multiple on the pool's default session.
func (p *Pool) Multiple(ctx context.Context, query string, params any) ([]Row, error) {
	return p.Session(defaultSessionName).Multiple(ctx, query, params)
}

// Update is Session.Update on the pool's default session.
func (p *Pool) Update(ctx context.Context, query string, params any) (WriteResult, error) {
	return p.Session(defaultSessionName).Update(ctx, query, params)
}

// Insert is Session.Insert on the pool's default session.
func (p *Pool) Insert(ctx context.Context, query string, params any) (WriteResult, error) {
	return p.Session(defaultSessionName).Insert(ctx, query, params)
}

// Batch is Session.Batch on the pool's default session.
func (p *Pool) Batch(ctx context.Context, stmts []Statement) (WriteResult, error) {
	return p.Session(defaultSessionName).Batch(ctx, stmts)
}
