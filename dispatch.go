package sqlbridge

import (
	"sync"
	"time"
)

// dispatcher routes requests onto per-session FIFO queues. Each
// session drains on at most one goroutine at a time, so requests of a
// session begin, complete and deliver in submission order, while
// separate sessions only contend for pool slots. Nothing is ever
// dropped: a queued request runs even if it has to wait for every
// slot.
type dispatcher struct {
	p        *Pool
	mu       sync.Mutex
	sessions map[string]*sessionQueue
	closed   bool
	wg       sync.WaitGroup // accepted, undelivered requests
}

type sessionQueue struct {
	name    string
	mu      sync.Mutex
	q       []*queryRequest
	running bool
}

func newDispatcher(p *Pool) *dispatcher {
	return &dispatcher{p: p, sessions: make(map[string]*sessionQueue)}
}

// session returns the queue for name, creating it on first use. The
// same name always maps to the same queue.
func (d *dispatcher) session(name string) *sessionQueue {
	d.mu.Lock()
	defer d.mu.Unlock()
	sq, ok := d.sessions[name]
	if !ok {
		sq = &sessionQueue{name: name}
		d.sessions[name] = sq
	}
	return sq
}

// submit appends req to the session queue and makes sure a drain
// goroutine is running. Returns false once the dispatcher stopped
// accepting work.
func (d *dispatcher) submit(sq *sessionQueue, req *queryRequest) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.wg.Add(1)
	d.mu.Unlock()

	sq.mu.Lock()
	sq.q = append(sq.q, req)
	starting := !sq.running
	if starting {
		sq.running = true
	}
	sq.mu.Unlock()
	if starting {
		go d.drain(sq)
	}
	return true
}

// drain pops and executes requests until the queue empties, then
// exits; the next submit restarts it. Delivery happens before the
// next pop, which is what makes per-session envelope order total.
func (d *dispatcher) drain(sq *sessionQueue) {
	for {
		sq.mu.Lock()
		if len(sq.q) == 0 {
			sq.running = false
			sq.mu.Unlock()
			return
		}
		req := sq.q[0]
		sq.q = sq.q[1:]
		sq.mu.Unlock()

		res := d.p.execute(req)
		req.deliver(res)
		d.wg.Done()
	}
}

// stop refuses new submissions and waits until every accepted request
// has delivered its envelope.
func (d *dispatcher) stop() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

// execute runs one request to its envelope. Caller errors found at
// bind time short-circuit without touching the pool; everything else
// borrows a slot for the duration of the driver work.
func (p *Pool) execute(req *queryRequest) Result {
	start := time.Now()
	res := Result{RequestID: req.id, Verb: req.verb}
	if req.bindErr != nil {
		res.Err = req.bindErr
		res.Elapsed = time.Since(start)
		return res
	}
	if req.verb == VerbBatch {
		return p.executeBatch(req, start)
	}

	pc, err := p.acquire(req.ctx)
	if err != nil {
		res.Err = err
		res.Elapsed = time.Since(start)
		return res
	}
	switch req.verb {
	case VerbScalar:
		rs, qerr := pc.queryPrepared(req.ctx, req.shape.text, req.args)
		err = qerr
		if err == nil {
			res.Scalar, err = firstScalar(rs)
			err = wrapError(KindExecution, req.shape.orig, err)
		}
	case VerbSingle:
		rs, qerr := pc.queryPrepared(req.ctx, req.shape.text, req.args)
		err = qerr
		if err == nil {
			res.Row, err = firstRow(rs)
			err = wrapError(KindExecution, req.shape.orig, err)
		}
	case VerbMultiple:
		rs, qerr := pc.queryPrepared(req.ctx, req.shape.text, req.args)
		err = qerr
		if err == nil {
			res.Rows, err = collectRows(rs)
			err = wrapError(KindExecution, req.shape.orig, err)
		}
	case VerbUpdate, VerbInsert:
		r, qerr := pc.execPrepared(req.ctx, req.shape.text, req.args)
		err = qerr
		if err == nil {
			res.Write = writeResultFrom(r)
		}
	}
	p.release(req.ctx, pc, err)
	res.Err = err
	res.Elapsed = time.Since(start)
	return res
}
