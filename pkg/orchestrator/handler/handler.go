package handler

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"
	"go.uber.org/yarpc"
	"go.uber.org/yarpc/encoding/json"

	"github.com/midcbf/orchestrator/pkg/orchestrator/session"
)

// ServiceHandler exposes the subarray command surface over yarpc JSON
// procedures. Short commands run inline, long-running ones are queued on
// the session's worker pool and polled through get-operation.
type ServiceHandler struct {
	sessions map[int]*session.Session
	metrics  *Metrics
}

// New creates the service handler over the given sessions.
func New(sessions []*session.Session, parent tally.Scope) *ServiceHandler {
	h := &ServiceHandler{
		sessions: make(map[int]*session.Session, len(sessions)),
		metrics:  NewMetrics(parent.SubScope("api")),
	}
	for _, s := range sessions {
		h.sessions[s.ID()] = s
	}
	return h
}

// Register adds all procedures to the dispatcher.
func (h *ServiceHandler) Register(d *yarpc.Dispatcher) {
	d.Register(json.Procedure("allocate-receptors", h.AllocateReceptors))
	d.Register(json.Procedure("release-receptors", h.ReleaseReceptors))
	d.Register(json.Procedure("configure-scan", h.ConfigureScan))
	d.Register(json.Procedure("scan", h.Scan))
	d.Register(json.Procedure("end-scan", h.EndScan))
	d.Register(json.Procedure("go-to-idle", h.GoToIdle))
	d.Register(json.Procedure("abort", h.Abort))
	d.Register(json.Procedure("obs-reset", h.ObsReset))
	d.Register(json.Procedure("restart", h.Restart))
	d.Register(json.Procedure("update", h.Update))
	d.Register(json.Procedure("get-operation", h.GetOperation))
	d.Register(json.Procedure("get-state", h.GetState))
}

func (h *ServiceHandler) lookup(subarrayID int) (*session.Session, error) {
	s, ok := h.sessions[subarrayID]
	if !ok {
		return nil, errors.Errorf("unknown subarray %d", subarrayID)
	}
	return s, nil
}

func failure(err error) *Response {
	return &Response{Status: StatusFailed, Reason: err.Error()}
}

func queued(op *session.Operation) *Response {
	return &Response{Status: StatusQueued, OperationID: op.ID()}
}

// AllocateReceptors queues an add-receptors command.
func (h *ServiceHandler) AllocateReceptors(
	ctx context.Context, req *AllocateRequest) (*Response, error) {
	h.metrics.Calls.Inc(1)
	s, err := h.lookup(req.SubarrayID)
	if err != nil {
		h.metrics.CallsFail.Inc(1)
		return failure(err), nil
	}
	log.WithFields(log.Fields{
		"subarray_id": req.SubarrayID,
		"receptors":   req.Receptors,
	}).Info("Allocate receptors requested")
	return queued(s.SubmitAddReceptors(req.Receptors)), nil
}

// ReleaseReceptors removes the listed receptors, or all of them.
func (h *ServiceHandler) ReleaseReceptors(
	ctx context.Context, req *ReleaseRequest) (*Response, error) {
	h.metrics.Calls.Inc(1)
	s, err := h.lookup(req.SubarrayID)
	if err == nil {
		if req.ReleaseAll {
			err = s.RemoveAllReceptors(ctx)
		} else {
			err = s.RemoveReceptors(ctx, req.Receptors)
		}
	}
	if err != nil {
		h.metrics.CallsFail.Inc(1)
		return failure(err), nil
	}
	return &Response{Status: StatusOK}, nil
}

// ConfigureScan queues a configure command.
func (h *ServiceHandler) ConfigureScan(
	ctx context.Context, req *ConfigureRequest) (*Response, error) {
	h.metrics.Calls.Inc(1)
	s, err := h.lookup(req.SubarrayID)
	if err != nil {
		h.metrics.CallsFail.Inc(1)
		return failure(err), nil
	}
	return queued(s.SubmitConfigure(req.Configuration)), nil
}

// Scan queues a scan start command.
func (h *ServiceHandler) Scan(
	ctx context.Context, req *ScanRequest) (*Response, error) {
	h.metrics.Calls.Inc(1)
	s, err := h.lookup(req.SubarrayID)
	if err != nil {
		h.metrics.CallsFail.Inc(1)
		return failure(err), nil
	}
	return queued(s.SubmitScan(req.ScanID)), nil
}

// EndScan stops the running scan.
func (h *ServiceHandler) EndScan(
	ctx context.Context, req *SubarrayRequest) (*Response, error) {
	return h.run(ctx, req, func(ctx context.Context, s *session.Session) error {
		return s.EndScan(ctx)
	})
}

// GoToIdle drops the applied configuration.
func (h *ServiceHandler) GoToIdle(
	ctx context.Context, req *SubarrayRequest) (*Response, error) {
	return h.run(ctx, req, func(ctx context.Context, s *session.Session) error {
		return s.GoToIdle(ctx)
	})
}

// Abort cancels the current activity.
func (h *ServiceHandler) Abort(
	ctx context.Context, req *SubarrayRequest) (*Response, error) {
	return h.run(ctx, req, func(ctx context.Context, s *session.Session) error {
		return s.Abort(ctx)
	})
}

// ObsReset recovers an aborted or faulted subarray back to idle.
func (h *ServiceHandler) ObsReset(
	ctx context.Context, req *SubarrayRequest) (*Response, error) {
	return h.run(ctx, req, func(ctx context.Context, s *session.Session) error {
		return s.ObsReset(ctx)
	})
}

// Restart recovers an aborted or faulted subarray and releases everything.
func (h *ServiceHandler) Restart(
	ctx context.Context, req *SubarrayRequest) (*Response, error) {
	return h.run(ctx, req, func(ctx context.Context, s *session.Session) error {
		return s.Restart(ctx)
	})
}

func (h *ServiceHandler) run(
	ctx context.Context,
	req *SubarrayRequest,
	command func(context.Context, *session.Session) error) (*Response, error) {
	h.metrics.Calls.Inc(1)
	s, err := h.lookup(req.SubarrayID)
	if err == nil {
		err = command(ctx, s)
	}
	if err != nil {
		h.metrics.CallsFail.Inc(1)
		return failure(err), nil
	}
	return &Response{Status: StatusOK}, nil
}

// Update forwards a shared-model update document to the subarray.
func (h *ServiceHandler) Update(
	ctx context.Context, req *UpdateRequest) (*Response, error) {
	h.metrics.Calls.Inc(1)
	s, err := h.lookup(req.SubarrayID)
	if err == nil {
		err = s.HandleUpdate(ctx, session.UpdateKind(req.Kind), req.Document)
	}
	if err != nil {
		h.metrics.CallsFail.Inc(1)
		return failure(err), nil
	}
	return &Response{Status: StatusOK}, nil
}

// GetOperation polls a queued operation by id.
func (h *ServiceHandler) GetOperation(
	ctx context.Context, req *OperationRequest) (*Response, error) {
	h.metrics.Calls.Inc(1)
	s, err := h.lookup(req.SubarrayID)
	if err != nil {
		h.metrics.CallsFail.Inc(1)
		return failure(err), nil
	}
	op, ok := s.Operation(req.OperationID)
	if !ok {
		h.metrics.CallsFail.Inc(1)
		return failure(errors.Errorf("unknown operation %s", req.OperationID)), nil
	}
	response := &Response{
		Status:      Status(op.Status()),
		OperationID: op.ID(),
	}
	if err := op.Err(); err != nil {
		response.Reason = err.Error()
	}
	return response, nil
}

// GetState reports the observable state of a subarray.
func (h *ServiceHandler) GetState(
	ctx context.Context, req *SubarrayRequest) (*StateResponse, error) {
	h.metrics.Calls.Inc(1)
	s, err := h.lookup(req.SubarrayID)
	if err != nil {
		h.metrics.CallsFail.Inc(1)
		return nil, err
	}
	return &StateResponse{
		SubarrayID: s.ID(),
		State:      string(s.State()),
		ConfigID:   s.ConfigID(),
		ScanID:     s.ScanID(),
		Receptors:  s.Receptors(),
	}, nil
}
