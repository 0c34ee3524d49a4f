package sqlbridge

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Verb says what result shape a request produces.
type Verb int

const (
	VerbScalar Verb = iota
	VerbSingle
	VerbMultiple
	VerbUpdate
	VerbInsert
	VerbBatch
)

func (v Verb) String() string {
	switch v {
	case VerbScalar:
		return "scalar"
	case VerbSingle:
		return "single"
	case VerbMultiple:
		return "multiple"
	case VerbUpdate:
		return "update"
	case VerbInsert:
		return "insert"
	case VerbBatch:
		return "batch"
	}
	return "unknown"
}

// Statement is one query text plus its parameter source. Batches are
// ordered lists of statements.
type Statement struct {
	Query  string
	Params any
}

// queryRequest is one unit of work flowing through a session queue.
// Binding happens at submit time, so a request either carries driver
// ready arguments or the caller error that stopped it.
type queryRequest struct {
	id   string
	verb Verb
	ctx  context.Context

	shape *queryShape
	args  []any

	stmts []boundStatement // batch only

	bindErr error

	fut       *future
	cb        func(Result)
	delivered sync.Once
}

type boundStatement struct {
	shape *queryShape
	args  []any
}

func newRequest(ctx context.Context, verb Verb, cb func(Result)) *queryRequest {
	req := &queryRequest{id: uuid.NewString(), verb: verb, ctx: ctx, cb: cb}
	if cb == nil {
		req.fut = newFuture()
	}
	return req
}

// deliver hands the envelope to the caller exactly once: through the
// callback for async requests, through the future for sync ones.
func (r *queryRequest) deliver(res Result) {
	r.delivered.Do(func() {
		if r.cb != nil {
			r.cb(res)
			return
		}
		r.fut.settle(res)
	})
}

// future parks a sync caller until its envelope arrives. The park is
// cooperative: only the submitting goroutine suspends, the scheduler
// keeps everything else running.
type future struct {
	once sync.Once
	done chan struct{}
	res  Result
}

func newFuture() *future { return &future{done: make(chan struct{})} }

func (f *future) settle(res Result) {
	f.once.Do(func() {
		f.res = res
		close(f.done)
	})
}

func (f *future) wait() Result {
	<-f.done
	return f.res
}
