package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"
	"go.uber.org/multierr"

	"github.com/midcbf/orchestrator/pkg/common/async"
	"github.com/midcbf/orchestrator/pkg/common/statemachine"
	"github.com/midcbf/orchestrator/pkg/common/stringset"
	"github.com/midcbf/orchestrator/pkg/orchestrator/allocation"
	"github.com/midcbf/orchestrator/pkg/orchestrator/peer"
	"github.com/midcbf/orchestrator/pkg/orchestrator/receptor"
	"github.com/midcbf/orchestrator/pkg/orchestrator/scanconfig"
)

// Observation lifecycle states.
const (
	Unallocated statemachine.State = "UNALLOCATED"
	Idle        statemachine.State = "IDLE"
	Configuring statemachine.State = "CONFIGURING"
	Ready       statemachine.State = "READY"
	Scanning    statemachine.State = "SCANNING"
	Aborting    statemachine.State = "ABORTING"
	Aborted     statemachine.State = "ABORTED"
	Resetting   statemachine.State = "RESETTING"
	Fault       statemachine.State = "FAULT"
)

// Listener receives observation state change events. Listeners run
// synchronously inside the transition and must not call back into the
// session.
type Listener func(sessionID int, from, to statemachine.State, reason string)

// Session owns one observing session: its lifecycle state machine, receptor
// membership, and the peer handles of every allocated channelizer unit and
// processing element. Commands against a session are totally ordered by its
// mutex; long-running commands run on the shared worker pool via Submit*.
type Session struct {
	// commandMutex orders all state machine transitions of the session.
	commandMutex sync.Mutex
	// peerMutex guards the peer maps and the applied configuration, which
	// the update path reads without holding commandMutex.
	peerMutex sync.RWMutex

	id int
	sm statemachine.StateMachine

	mapper    *receptor.Mapper
	table     *allocation.Table
	connector peer.Connector
	validator *scanconfig.Validator
	pool      *async.Pool
	metrics   *Metrics

	receptors stringset.StringSet
	configID  string
	scanID    int64

	// channelizer peers keyed by receptor id, established on allocation.
	channelizers map[string]peer.Peer
	// element and sub-session peers keyed by element id, established on
	// configure.
	elements    map[int]peer.Peer
	subsessions map[int]peer.Peer

	config *scanconfig.ScanConfiguration

	updates    map[UpdateKind]*updateState
	listeners  []Listener
	operations *operationRegistry
}

// New creates a session with the given fixed numeric id over the shared
// allocation table, mapper, and peer connection registry.
func New(
	id int,
	mapper *receptor.Mapper,
	table *allocation.Table,
	connector peer.Connector,
	validator *scanconfig.Validator,
	pool *async.Pool,
	parent tally.Scope) *Session {

	s := &Session{
		id:           id,
		mapper:       mapper,
		table:        table,
		connector:    connector,
		validator:    validator,
		pool:         pool,
		metrics:      NewMetrics(parent.Tagged(map[string]string{"session_id": fmt.Sprint(id)})),
		receptors:    stringset.New(),
		channelizers: make(map[string]peer.Peer),
		elements:     make(map[int]peer.Peer),
		subsessions:  make(map[int]peer.Peer),
		updates: map[UpdateKind]*updateState{
			DelayModel:  {},
			JonesMatrix: {},
			BeamWeights: {},
		},
		operations: newOperationRegistry(),
	}
	s.sm = newObservationStateMachine(id, s.onTransition)
	return s
}

// newObservationStateMachine builds the lifecycle rules table.
func newObservationStateMachine(
	id int, callback statemachine.Callback) statemachine.StateMachine {
	sm, err := statemachine.NewBuilder().
		WithName(fmt.Sprintf("subarray-%02d", id)).
		WithCurrentState(Unallocated).
		WithTransitionCallback(callback).
		AddRule(&statemachine.Rule{
			From: Unallocated,
			To:   []statemachine.State{Idle},
		}).
		AddRule(&statemachine.Rule{
			From: Idle,
			To:   []statemachine.State{Unallocated, Configuring, Aborting, Fault},
		}).
		AddRule(&statemachine.Rule{
			From: Configuring,
			To:   []statemachine.State{Ready, Aborting, Fault},
		}).
		AddRule(&statemachine.Rule{
			From: Ready,
			To:   []statemachine.State{Configuring, Scanning, Idle, Aborting, Fault},
		}).
		AddRule(&statemachine.Rule{
			From: Scanning,
			To:   []statemachine.State{Ready, Aborting, Fault},
		}).
		AddRule(&statemachine.Rule{
			From: Aborting,
			To:   []statemachine.State{Aborted},
		}).
		AddRule(&statemachine.Rule{
			From: Aborted,
			To:   []statemachine.State{Resetting},
		}).
		AddRule(&statemachine.Rule{
			From: Resetting,
			To:   []statemachine.State{Idle, Unallocated, Aborting, Fault},
		}).
		AddRule(&statemachine.Rule{
			From: Fault,
			To:   []statemachine.State{Resetting},
		}).
		Build()
	if err != nil {
		// The rules table is static, a failure here is a programming error.
		log.WithError(err).Fatal("failed to build observation state machine")
	}
	return sm
}

// ID returns the fixed numeric session id.
func (s *Session) ID() int {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() statemachine.State {
	return s.sm.GetCurrentState()
}

// ConfigID returns the configuration id set by the last successful
// configure, empty when unconfigured.
func (s *Session) ConfigID() string {
	s.commandMutex.Lock()
	defer s.commandMutex.Unlock()
	return s.configID
}

// ScanID returns the scan id set by the last scan start.
func (s *Session) ScanID() int64 {
	s.commandMutex.Lock()
	defer s.commandMutex.Unlock()
	return s.scanID
}

// Receptors returns the allocated receptor ids in sorted order.
func (s *Session) Receptors() []string {
	ids := s.receptors.ToSlice()
	sort.Strings(ids)
	return ids
}

// UpdateSources returns the update source peer ids of the applied
// configuration, keyed by the update kind each source serves. Empty when
// unconfigured.
func (s *Session) UpdateSources() map[UpdateKind]string {
	s.peerMutex.RLock()
	defer s.peerMutex.RUnlock()

	sources := make(map[UpdateKind]string)
	if s.config == nil {
		return sources
	}
	if s.config.DelayModelSource != "" {
		sources[DelayModel] = s.config.DelayModelSource
	}
	if s.config.CalibrationSource != "" {
		sources[JonesMatrix] = s.config.CalibrationSource
		sources[BeamWeights] = s.config.CalibrationSource
	}
	return sources
}

// AddListener registers a state change listener.
func (s *Session) AddListener(l Listener) {
	s.commandMutex.Lock()
	defer s.commandMutex.Unlock()
	s.listeners = append(s.listeners, l)
}

// onTransition emits the state change to listeners and metrics.
func (s *Session) onTransition(t *statemachine.Transition) error {
	s.metrics.StateChanges.Inc(1)
	for _, l := range s.listeners {
		l(s.id, t.From, t.To, t.Reason)
	}
	return nil
}

func (s *Session) transitTo(to statemachine.State, reason string) error {
	return s.sm.TransitTo(to, reason)
}

// guard fails a command with a descriptive error when the current state is
// not one of the allowed ones. No state change happens on violation.
func (s *Session) guard(command string, allowed ...statemachine.State) error {
	current := s.State()
	for _, state := range allowed {
		if current == state {
			return nil
		}
	}
	return errors.Errorf(
		"%s not allowed for subarray %d in state %s", command, s.id, current)
}

// AddReceptors allocates receptors to the session. Each id is resolved via
// the mapper and its channelizer unit claimed in the allocation table; a
// peer handle for the unit is established. Per-id failures are collected
// and returned together, the batch continues and previously added
// receptors stay in place. The first success moves UNALLOCATED to IDLE.
func (s *Session) AddReceptors(ctx context.Context, ids []string) error {
	s.commandMutex.Lock()
	defer s.commandMutex.Unlock()

	if err := s.guard("add-receptors", Unallocated, Idle); err != nil {
		s.metrics.AddReceptorsFail.Inc(1)
		return err
	}

	var result error
	for _, id := range ids {
		if err := s.addReceptor(ctx, id); err != nil {
			result = multierr.Append(result, err)
		}
	}
	if !s.receptors.IsEmpty() && s.State() == Unallocated {
		if err := s.transitTo(Idle, "receptors allocated"); err != nil {
			result = multierr.Append(result, err)
		}
	}
	if result != nil {
		s.metrics.AddReceptorsFail.Inc(1)
		return result
	}
	s.metrics.AddReceptors.Inc(1)
	return nil
}

func (s *Session) addReceptor(ctx context.Context, id string) error {
	if s.receptors.Contains(id) {
		log.WithFields(log.Fields{
			"session_id":  s.id,
			"receptor_id": id,
		}).Warn("Receptor already allocated to this session, skipping")
		return nil
	}
	if err := s.mapper.Validate(id); err != nil {
		return err
	}
	channelizerID, err := s.mapper.ChannelizerID(id)
	if err != nil {
		return err
	}
	if err := s.table.AssignChannelizer(channelizerID, s.id); err != nil {
		return err
	}
	p, err := s.connector.Connect(ctx, ChannelizerPeerID(channelizerID))
	if err != nil {
		// Roll back the table entry for this id only.
		if rerr := s.table.ReleaseChannelizer(channelizerID, s.id); rerr != nil {
			err = multierr.Append(err, rerr)
		}
		return errors.Wrapf(err, "failed to connect channelizer for receptor %s", id)
	}
	s.receptors.Add(id)
	s.peerMutex.Lock()
	s.channelizers[id] = p
	s.peerMutex.Unlock()
	log.WithFields(log.Fields{
		"session_id":     s.id,
		"receptor_id":    id,
		"channelizer_id": channelizerID,
	}).Info("Receptor allocated")
	return nil
}

// RemoveReceptors releases receptors from the session. Unknown or absent
// ids are logged and skipped, never failing the call. Removing the last
// receptor moves IDLE back to UNALLOCATED.
func (s *Session) RemoveReceptors(ctx context.Context, ids []string) error {
	s.commandMutex.Lock()
	defer s.commandMutex.Unlock()

	if err := s.guard("remove-receptors", Idle); err != nil {
		s.metrics.RemoveReceptorsFail.Inc(1)
		return err
	}

	for _, id := range ids {
		s.removeReceptor(id)
	}
	if s.receptors.IsEmpty() {
		if err := s.transitTo(Unallocated, "all receptors released"); err != nil {
			s.metrics.RemoveReceptorsFail.Inc(1)
			return err
		}
	}
	s.metrics.RemoveReceptors.Inc(1)
	return nil
}

func (s *Session) removeReceptor(id string) {
	if !s.receptors.Contains(id) {
		log.WithFields(log.Fields{
			"session_id":  s.id,
			"receptor_id": id,
		}).Warn("Receptor not allocated to this session, skipping")
		return
	}
	if p, ok := s.channelizers[id]; ok {
		if err := p.Disconnect(); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"session_id":  s.id,
				"receptor_id": id,
			}).Warn("Failed to disconnect channelizer peer")
		}
		s.peerMutex.Lock()
		delete(s.channelizers, id)
		s.peerMutex.Unlock()
	}
	if channelizerID, err := s.mapper.ChannelizerID(id); err == nil {
		if err := s.table.ReleaseChannelizer(channelizerID, s.id); err != nil {
			log.WithError(err).WithField("session_id", s.id).
				Warn("Failed to release channelizer")
		}
	}
	s.receptors.Remove(id)
}

// RemoveAllReceptors releases every allocated receptor.
func (s *Session) RemoveAllReceptors(ctx context.Context) error {
	return s.RemoveReceptors(ctx, s.receptors.ToSlice())
}

// Configure validates the document and dispatches the resulting
// configuration to every allocated peer. Validation failures leave the
// session untouched. A previously applied configuration is deconfigured
// first, preserving the receptor allocation. Dispatch failures move the
// session to FAULT; already applied peer changes are not rolled back.
func (s *Session) Configure(ctx context.Context, document []byte) error {
	s.commandMutex.Lock()
	defer s.commandMutex.Unlock()

	// CONFIGURING is never observable here: commands are serialized by
	// commandMutex, so another configure cannot be in flight.
	if err := s.guard("configure", Idle, Ready); err != nil {
		s.metrics.ConfigureFail.Inc(1)
		return err
	}

	config, err := s.validator.Validate(ctx, document, s.id, s.Receptors())
	if err != nil {
		s.metrics.ConfigureFail.Inc(1)
		return err
	}

	if err := s.transitTo(Configuring, "configure requested"); err != nil {
		s.metrics.ConfigureFail.Inc(1)
		return err
	}

	// Reconfiguring drops the previous configuration but keeps receptors.
	s.deconfigure(ctx)

	if err := s.dispatch(ctx, config); err != nil {
		s.metrics.ConfigureFail.Inc(1)
		if terr := s.transitTo(Fault, err.Error()); terr != nil {
			log.WithError(terr).WithField("session_id", s.id).
				Error("Failed to transition to FAULT")
		}
		return errors.Wrap(err, "configuration dispatch failed")
	}

	s.peerMutex.Lock()
	s.config = config
	s.peerMutex.Unlock()
	s.configID = config.ConfigID
	if err := s.transitTo(Ready, "configuration applied"); err != nil {
		s.metrics.ConfigureFail.Inc(1)
		return err
	}
	s.metrics.Configure.Inc(1)
	return nil
}

// Scan starts a scan on every allocated peer and records the scan id.
func (s *Session) Scan(ctx context.Context, scanID int64) error {
	s.commandMutex.Lock()
	defer s.commandMutex.Unlock()

	if err := s.guard("scan", Ready); err != nil {
		s.metrics.ScanFail.Inc(1)
		return err
	}

	request := &scanRequest{ScanID: scanID}
	if err := s.broadcast(ctx, peer.Scan, request, s.scanPeers()); err != nil {
		s.metrics.ScanFail.Inc(1)
		if terr := s.transitTo(Fault, err.Error()); terr != nil {
			log.WithError(terr).WithField("session_id", s.id).
				Error("Failed to transition to FAULT")
		}
		return err
	}
	s.scanID = scanID
	if err := s.transitTo(Scanning, fmt.Sprintf("scan %d started", scanID)); err != nil {
		s.metrics.ScanFail.Inc(1)
		return err
	}
	s.metrics.Scan.Inc(1)
	return nil
}

// EndScan stops the running scan on every allocated peer.
func (s *Session) EndScan(ctx context.Context) error {
	s.commandMutex.Lock()
	defer s.commandMutex.Unlock()

	if err := s.guard("end-scan", Scanning); err != nil {
		s.metrics.EndScanFail.Inc(1)
		return err
	}

	if err := s.broadcast(ctx, peer.EndScan, nil, s.scanPeers()); err != nil {
		s.metrics.EndScanFail.Inc(1)
		if terr := s.transitTo(Fault, err.Error()); terr != nil {
			log.WithError(terr).WithField("session_id", s.id).
				Error("Failed to transition to FAULT")
		}
		return err
	}
	if err := s.transitTo(Ready, "scan ended"); err != nil {
		s.metrics.EndScanFail.Inc(1)
		return err
	}
	s.metrics.EndScan.Inc(1)
	return nil
}

// GoToIdle drops the applied configuration, releasing the processing
// elements but keeping the receptor allocation.
func (s *Session) GoToIdle(ctx context.Context) error {
	s.commandMutex.Lock()
	defer s.commandMutex.Unlock()

	if err := s.guard("go-to-idle", Ready); err != nil {
		s.metrics.GoToIdleFail.Inc(1)
		return err
	}

	if err := s.broadcast(ctx, peer.GoToIdle, nil, s.scanPeers()); err != nil {
		log.WithError(err).WithField("session_id", s.id).
			Warn("Peer failures during go-to-idle")
	}
	s.deconfigure(ctx)
	if err := s.transitTo(Idle, "deconfigured"); err != nil {
		s.metrics.GoToIdleFail.Inc(1)
		return err
	}
	s.metrics.GoToIdle.Inc(1)
	return nil
}

// Abort is the only cancellation primitive. It broadcasts best-effort to
// every allocated peer and always lands in ABORTED, individual peer
// failures are logged, never fatal.
func (s *Session) Abort(ctx context.Context) error {
	s.commandMutex.Lock()
	defer s.commandMutex.Unlock()

	if err := s.guard("abort", Idle, Configuring, Ready, Scanning, Resetting); err != nil {
		s.metrics.AbortFail.Inc(1)
		return err
	}

	if err := s.transitTo(Aborting, "abort requested"); err != nil {
		s.metrics.AbortFail.Inc(1)
		return err
	}
	if err := s.broadcast(ctx, peer.Abort, nil, s.allPeers()); err != nil {
		log.WithError(err).WithField("session_id", s.id).
			Warn("Peer failures during abort broadcast")
	}
	if err := s.transitTo(Aborted, "aborted"); err != nil {
		s.metrics.AbortFail.Inc(1)
		return err
	}
	s.metrics.Abort.Inc(1)
	return nil
}

// ObsReset recovers an ABORTED or FAULT session back to IDLE, resetting
// peers and dropping the configuration while preserving the receptor
// allocation.
func (s *Session) ObsReset(ctx context.Context) error {
	s.commandMutex.Lock()
	defer s.commandMutex.Unlock()

	if err := s.guard("obs-reset", Aborted, Fault); err != nil {
		s.metrics.ObsResetFail.Inc(1)
		return err
	}
	if err := s.reset(ctx); err != nil {
		s.metrics.ObsResetFail.Inc(1)
		return err
	}
	if err := s.transitTo(Idle, "observation reset"); err != nil {
		s.metrics.ObsResetFail.Inc(1)
		return err
	}
	s.metrics.ObsReset.Inc(1)
	return nil
}

// Restart is ObsReset plus a full release of every allocated receptor,
// landing in UNALLOCATED.
func (s *Session) Restart(ctx context.Context) error {
	s.commandMutex.Lock()
	defer s.commandMutex.Unlock()

	if err := s.guard("restart", Aborted, Fault); err != nil {
		s.metrics.RestartFail.Inc(1)
		return err
	}
	if err := s.reset(ctx); err != nil {
		s.metrics.RestartFail.Inc(1)
		return err
	}
	for _, id := range s.receptors.ToSlice() {
		s.removeReceptor(id)
	}
	if err := s.transitTo(Unallocated, "session restarted"); err != nil {
		s.metrics.RestartFail.Inc(1)
		return err
	}
	s.metrics.Restart.Inc(1)
	return nil
}

// reset is the shared ABORTED/FAULT recovery path: abort peers if coming
// out of FAULT, broadcast the reset, and drop the configuration.
func (s *Session) reset(ctx context.Context) error {
	fromFault := s.State() == Fault
	if err := s.transitTo(Resetting, "reset requested"); err != nil {
		return err
	}
	if fromFault {
		if err := s.broadcast(ctx, peer.Abort, nil, s.allPeers()); err != nil {
			log.WithError(err).WithField("session_id", s.id).
				Warn("Peer failures during reset abort broadcast")
		}
	}
	if err := s.broadcast(ctx, peer.ObsReset, nil, s.allPeers()); err != nil {
		log.WithError(err).WithField("session_id", s.id).
			Warn("Peer failures during reset broadcast")
	}
	s.deconfigure(ctx)
	return nil
}
