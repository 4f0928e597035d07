package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/midcbf/orchestrator/pkg/common/async"
	"github.com/midcbf/orchestrator/pkg/orchestrator/peer"
)

const _defaultPollInterval = 10 * time.Second

// sourceCommands maps each update kind to the poll command its source
// understands.
var sourceCommands = map[UpdateKind]peer.Command{
	DelayModel:  peer.GetDelayModel,
	JonesMatrix: peer.GetJonesMatrix,
	BeamWeights: peer.GetBeamWeights,
}

type pollRequest struct {
	SubarrayID int `json:"subarray_id"`
}

// Subscriber periodically pulls shared-model update documents from the
// sources named by the applied configuration and feeds them to the
// session's update serializer. The serializer's dedup makes an unchanged
// document a no-op, so the poll interval only bounds update latency.
type Subscriber struct {
	session   *Session
	connector peer.Connector
	interval  time.Duration
	daemon    async.Daemon
}

// NewSubscriber creates a subscriber for the session's update sources.
func NewSubscriber(
	s *Session, connector peer.Connector, interval time.Duration) *Subscriber {
	if interval <= 0 {
		interval = _defaultPollInterval
	}
	sub := &Subscriber{
		session:   s,
		connector: connector,
		interval:  interval,
	}
	sub.daemon = async.NewDaemon(
		fmt.Sprintf("update-subscriber-%02d", s.ID()),
		async.NewRunnable(sub.run))
	return sub
}

// Start launches the poll loop. Starting a running subscriber is a no-op.
func (s *Subscriber) Start() {
	s.daemon.Start()
}

// Stop terminates the poll loop and waits for it to finish.
func (s *Subscriber) Stop() {
	s.daemon.Stop()
}

func (s *Subscriber) run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Subscriber) poll(ctx context.Context) {
	for kind, source := range s.session.UpdateSources() {
		document, err := s.fetch(ctx, kind, source)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"session_id": s.session.ID(),
				"kind":       kind,
				"source":     source,
			}).Warn("Failed to poll update source")
			continue
		}
		if len(document) == 0 {
			continue
		}
		if err := s.session.HandleUpdate(ctx, kind, document); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"session_id": s.session.ID(),
				"kind":       kind,
			}).Warn("Failed to apply polled update")
		}
	}
}

func (s *Subscriber) fetch(
	ctx context.Context, kind UpdateKind, source string) (json.RawMessage, error) {
	p, err := s.connector.Connect(ctx, source)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := p.Disconnect(); err != nil {
			log.WithError(err).WithField("peer_id", source).
				Warn("Failed to disconnect update source")
		}
	}()

	var document json.RawMessage
	request := &pollRequest{SubarrayID: s.session.ID()}
	if err := p.Invoke(ctx, sourceCommands[kind], request, &document); err != nil {
		return nil, err
	}
	return document, nil
}
