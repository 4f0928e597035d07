package session

import (
	"context"
	"sync"

	"github.com/pborman/uuid"

	"github.com/midcbf/orchestrator/pkg/common/async"
)

// OperationStatus is the lifecycle status of a submitted operation.
type OperationStatus string

// Operation statuses.
const (
	OperationQueued  OperationStatus = "QUEUED"
	OperationStarted OperationStatus = "STARTED"
	OperationOK      OperationStatus = "OK"
	OperationFailed  OperationStatus = "FAILED"
)

// Operation is the handle of a long-running session command submitted to
// the worker pool. Callers poll it by id or wait on Done.
type Operation struct {
	id   string
	name string

	mu     sync.Mutex
	status OperationStatus
	err    error
	done   chan struct{}
}

func newOperation(name string) *Operation {
	return &Operation{
		id:     uuid.New(),
		name:   name,
		status: OperationQueued,
		done:   make(chan struct{}),
	}
}

// ID returns the unique operation id.
func (o *Operation) ID() string {
	return o.id
}

// Name returns the command name the operation runs.
func (o *Operation) Name() string {
	return o.name
}

// Status returns the current status.
func (o *Operation) Status() OperationStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Err returns the command error once the operation failed.
func (o *Operation) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Done is closed when the operation completes.
func (o *Operation) Done() <-chan struct{} {
	return o.done
}

// Wait blocks until the operation completes or the context expires.
func (o *Operation) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return o.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Operation) start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status = OperationStarted
}

func (o *Operation) complete(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.status = OperationFailed
		o.err = err
	} else {
		o.status = OperationOK
	}
	close(o.done)
}

type operationRegistry struct {
	sync.RWMutex
	operations map[string]*Operation
}

func newOperationRegistry() *operationRegistry {
	return &operationRegistry{operations: make(map[string]*Operation)}
}

func (r *operationRegistry) add(op *Operation) {
	r.Lock()
	defer r.Unlock()
	r.operations[op.id] = op
}

func (r *operationRegistry) get(id string) (*Operation, bool) {
	r.RLock()
	defer r.RUnlock()
	op, ok := r.operations[id]
	return op, ok
}

// Operation looks up a previously submitted operation by id.
func (s *Session) Operation(id string) (*Operation, bool) {
	return s.operations.get(id)
}

// submit queues a command on the shared worker pool and returns its handle.
func (s *Session) submit(name string, fn func(ctx context.Context) error) *Operation {
	op := newOperation(name)
	s.operations.add(op)
	s.pool.Enqueue(async.JobFunc(func(ctx context.Context) {
		op.start()
		op.complete(fn(ctx))
	}))
	return op
}

// SubmitAddReceptors runs AddReceptors asynchronously.
func (s *Session) SubmitAddReceptors(ids []string) *Operation {
	return s.submit("add-receptors", func(ctx context.Context) error {
		return s.AddReceptors(ctx, ids)
	})
}

// SubmitConfigure runs Configure asynchronously.
func (s *Session) SubmitConfigure(document []byte) *Operation {
	return s.submit("configure", func(ctx context.Context) error {
		return s.Configure(ctx, document)
	})
}

// SubmitScan runs Scan asynchronously.
func (s *Session) SubmitScan(scanID int64) *Operation {
	return s.submit("scan", func(ctx context.Context) error {
		return s.Scan(ctx, scanID)
	})
}
