package session

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/midcbf/orchestrator/pkg/orchestrator/peer"
	"github.com/midcbf/orchestrator/pkg/orchestrator/scanconfig"
)

// UpdateKind names a streaming shared-model update channel.
type UpdateKind string

// The supported update kinds.
const (
	DelayModel  UpdateKind = "delay-model"
	JonesMatrix UpdateKind = "jones-matrix"
	BeamWeights UpdateKind = "beam-weights"
)

// UpdateEntry is one per-receptor coefficient record of an update document.
// Entries arrive keyed by receptor id and are rewritten to the channelizer
// id before forwarding.
type UpdateEntry struct {
	ReceptorID    string    `json:"receptor_id,omitempty"`
	ChannelizerID int       `json:"channelizer_id,omitempty"`
	Epoch         int64     `json:"epoch,omitempty"`
	Coefficients  []float64 `json:"coefficients"`
}

type updatePayload struct {
	Entries []UpdateEntry `json:"entries"`
}

type updateRequest struct {
	SubarrayID int           `json:"subarray_id"`
	Entries    []UpdateEntry `json:"entries"`
}

// updateState serializes one update kind. The per-kind mutex guarantees
// in-order delivery, last carries the previous raw document for the
// byte-identical dedup.
type updateState struct {
	sync.Mutex
	last []byte
}

func (u *updateState) clear() {
	u.Lock()
	defer u.Unlock()
	u.last = nil
}

// updateCommand maps an update kind to its peer procedure.
func updateCommand(kind UpdateKind) (peer.Command, error) {
	switch kind {
	case DelayModel:
		return peer.UpdateDelayModel, nil
	case JonesMatrix:
		return peer.UpdateJones, nil
	case BeamWeights:
		return peer.UpdateBeamWeights, nil
	}
	return "", errors.Errorf("unknown update kind %s", kind)
}

// HandleUpdate forwards one raw update document of the given kind. Updates
// are dropped without error while the session is not observing, and a
// document byte-identical to the previous one of the same kind is dropped
// as a duplicate. Deliveries of one kind never interleave; peer failures
// during forwarding are logged, not fatal.
func (s *Session) HandleUpdate(ctx context.Context, kind UpdateKind, document []byte) error {
	command, err := updateCommand(kind)
	if err != nil {
		return err
	}
	state := s.updates[kind]
	state.Lock()
	defer state.Unlock()

	if current := s.State(); current != Ready && current != Scanning {
		s.metrics.UpdatesDropped.Inc(1)
		log.WithFields(log.Fields{
			"session_id": s.id,
			"kind":       kind,
			"state":      current,
		}).Debug("Update dropped outside of an observation")
		return nil
	}
	if bytes.Equal(state.last, document) {
		s.metrics.UpdatesDeduped.Inc(1)
		log.WithFields(log.Fields{
			"session_id": s.id,
			"kind":       kind,
		}).Debug("Duplicate update dropped")
		return nil
	}

	var payload updatePayload
	if err := json.Unmarshal(document, &payload); err != nil {
		return errors.Wrapf(err, "malformed %s update", kind)
	}
	request := &updateRequest{SubarrayID: s.id}
	for _, entry := range payload.Entries {
		if entry.ReceptorID != "" {
			channelizerID, err := s.mapper.ChannelizerID(entry.ReceptorID)
			if err != nil {
				log.WithError(err).WithFields(log.Fields{
					"session_id":  s.id,
					"kind":        kind,
					"receptor_id": entry.ReceptorID,
				}).Warn("Dropping update entry for unknown receptor")
				continue
			}
			entry.ChannelizerID = channelizerID
			entry.ReceptorID = ""
		}
		request.Entries = append(request.Entries, entry)
	}

	if err := s.broadcast(ctx, command, request, s.updateTargets(kind)); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"session_id": s.id,
			"kind":       kind,
		}).Warn("Peer failures during update forwarding")
	}
	state.last = document
	s.metrics.UpdatesForwarded.Inc(1)
	return nil
}

// updateTargets routes an update kind to the peers that consume it: delay
// models go to the whole data path, Jones matrices to the channelizer
// units, beam weights to the beamforming sub-sessions.
func (s *Session) updateTargets(kind UpdateKind) []peer.Peer {
	s.peerMutex.RLock()
	defer s.peerMutex.RUnlock()

	switch kind {
	case DelayModel:
		return s.scanPeers()
	case JonesMatrix:
		return s.scanChannelizers()
	case BeamWeights:
		var peers []peer.Peer
		if s.config == nil {
			return peers
		}
		for _, element := range append(
			append([]scanconfig.ElementConfig{}, s.config.PSS...), s.config.PST...) {
			if p, ok := s.subsessions[element.FSP.FSPID]; ok {
				peers = append(peers, p)
			}
		}
		return peers
	}
	return nil
}
