package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/midcbf/orchestrator/pkg/orchestrator/allocation"
	"github.com/midcbf/orchestrator/pkg/orchestrator/fspartition"
	"github.com/midcbf/orchestrator/pkg/orchestrator/peer"
	"github.com/midcbf/orchestrator/pkg/orchestrator/scanconfig"
)

// ChannelizerPeerID returns the peer id of a channelizer unit.
func ChannelizerPeerID(id int) string {
	return fmt.Sprintf("vcc-%03d", id)
}

// ElementPeerID returns the peer id of a processing element controller.
func ElementPeerID(id int) string {
	return fmt.Sprintf("fsp-%02d", id)
}

// SubsessionPeerID returns the peer id of the mode-specific sub-session of
// a processing element.
func SubsessionPeerID(id int, mode allocation.FunctionMode) string {
	return fmt.Sprintf("fsp-%02d-%s", id, strings.ToLower(string(mode)))
}

type configureBandRequest struct {
	FrequencyBand   string `json:"frequency_band"`
	BandIndex       int    `json:"frequency_band_index"`
	DishSampleRate  int64  `json:"dish_sample_rate"`
	SamplesPerFrame int    `json:"samples_per_frame"`
	K               int    `json:"k"`
}

type channelizerScanRequest struct {
	ConfigID      string    `json:"config_id"`
	SubarrayID    int       `json:"subarray_id"`
	FrequencyBand string    `json:"frequency_band"`
	Band5Tuning   []float64 `json:"band_5_tuning,omitempty"`
	OffsetStream1 int64     `json:"frequency_band_offset_stream1"`
	OffsetStream2 int64     `json:"frequency_band_offset_stream2"`
}

type functionModeRequest struct {
	FunctionMode string `json:"function_mode"`
}

type membershipRequest struct {
	SubarrayID int `json:"subarray_id"`
}

type elementScanRequest struct {
	ConfigID     string                        `json:"config_id"`
	SubarrayID   int                           `json:"subarray_id"`
	FSP          scanconfig.FSPConfig          `json:"fsp"`
	Receptors    []string                      `json:"receptors"`
	Channelizers []int                         `json:"channelizers"`
	SampleRates  map[string]int64              `json:"sample_rates"`
	Slices       []fspartition.SliceAssignment `json:"slices,omitempty"`
}

type scanRequest struct {
	ScanID int64 `json:"scan_id"`
}

// invocation is one peer call of a dispatch step.
type invocation struct {
	peer    peer.Peer
	command peer.Command
	payload interface{}
}

// fanOut runs the invocations of one dispatch step in parallel and collects
// every failure. Steps are strictly ordered, calls within a step are not.
func (s *Session) fanOut(ctx context.Context, invocations []invocation) error {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result error
	)
	for _, inv := range invocations {
		wg.Add(1)
		go func(inv invocation) {
			defer wg.Done()
			if err := inv.peer.Invoke(ctx, inv.command, inv.payload, nil); err != nil {
				mu.Lock()
				result = multierr.Append(result, errors.Wrapf(
					err, "%s failed on peer %s", inv.command, inv.peer.ID()))
				mu.Unlock()
			}
		}(inv)
	}
	wg.Wait()
	return result
}

// broadcast sends one command to a set of peers in parallel.
func (s *Session) broadcast(
	ctx context.Context,
	command peer.Command,
	payload interface{},
	peers []peer.Peer) error {
	invocations := make([]invocation, 0, len(peers))
	for _, p := range peers {
		invocations = append(invocations, invocation{p, command, payload})
	}
	return s.fanOut(ctx, invocations)
}

// scanPeers are the peers participating in the observation data path:
// channelizer units and configured sub-sessions.
func (s *Session) scanPeers() []peer.Peer {
	peers := make([]peer.Peer, 0, len(s.channelizers)+len(s.subsessions))
	for _, p := range s.channelizers {
		peers = append(peers, p)
	}
	for _, p := range s.subsessions {
		peers = append(peers, p)
	}
	return peers
}

// allPeers additionally includes the element controllers.
func (s *Session) allPeers() []peer.Peer {
	peers := s.scanPeers()
	for _, p := range s.elements {
		peers = append(peers, p)
	}
	return peers
}

// dispatch pushes a validated configuration to the hardware in two strictly
// ordered steps: the channelizer units first, then the processing elements.
// Held with commandMutex.
func (s *Session) dispatch(ctx context.Context, config *scanconfig.ScanConfiguration) error {
	if err := s.dispatchChannelizers(ctx, config); err != nil {
		return err
	}
	return s.dispatchElements(ctx, config)
}

// dispatchChannelizers sends configure-band then configure-scan to every
// allocated channelizer unit.
func (s *Session) dispatchChannelizers(
	ctx context.Context, config *scanconfig.ScanConfiguration) error {

	bandStep := make([]invocation, 0, len(s.channelizers))
	for id, p := range s.channelizers {
		k, err := s.mapper.K(id)
		if err != nil {
			return err
		}
		bandStep = append(bandStep, invocation{p, peer.ConfigureBand, &configureBandRequest{
			FrequencyBand:   config.Band.Name,
			BandIndex:       config.Band.Index,
			DishSampleRate:  config.Band.DishSampleRate(k),
			SamplesPerFrame: config.Band.SamplesPerFrame,
			K:               k,
		}})
	}
	if err := s.fanOut(ctx, bandStep); err != nil {
		return err
	}

	scan := &channelizerScanRequest{
		ConfigID:      config.ConfigID,
		SubarrayID:    s.id,
		FrequencyBand: config.Band.Name,
		Band5Tuning:   config.Band5Tuning,
		OffsetStream1: config.OffsetStream1,
		OffsetStream2: config.OffsetStream2,
	}
	return s.broadcast(ctx, peer.ConfigureScan, scan, s.scanChannelizers())
}

func (s *Session) scanChannelizers() []peer.Peer {
	peers := make([]peer.Peer, 0, len(s.channelizers))
	for _, p := range s.channelizers {
		peers = append(peers, p)
	}
	return peers
}

// dispatchElements binds, connects, and configures every processing element
// of the configuration in parallel. The table bind is the authoritative
// function mode arbitration across sessions.
func (s *Session) dispatchElements(
	ctx context.Context, config *scanconfig.ScanConfiguration) error {

	elements := config.Elements()
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result error
	)
	connected := make([]struct {
		id         int
		element    peer.Peer
		subsession peer.Peer
	}, len(elements))

	for i, element := range elements {
		wg.Add(1)
		go func(i int, element scanconfig.ElementConfig) {
			defer wg.Done()
			ep, sp, err := s.configureElement(ctx, config.ConfigID, element)
			if err != nil {
				mu.Lock()
				result = multierr.Append(result, err)
				mu.Unlock()
				return
			}
			connected[i].id = element.FSP.FSPID
			connected[i].element = ep
			connected[i].subsession = sp
		}(i, element)
	}
	wg.Wait()

	// Record the successfully configured peers even when the step failed so
	// that abort and reset can reach them.
	s.peerMutex.Lock()
	for _, c := range connected {
		if c.element != nil {
			s.elements[c.id] = c.element
			s.subsessions[c.id] = c.subsession
		}
	}
	s.peerMutex.Unlock()
	return result
}

// configureElement runs the per-element sequence: bind, connect, set the
// function mode, join the subarray, and configure the sub-session.
func (s *Session) configureElement(
	ctx context.Context,
	configID string,
	element scanconfig.ElementConfig) (peer.Peer, peer.Peer, error) {

	id := element.FSP.FSPID
	if err := s.table.BindElement(id, s.id, element.Mode); err != nil {
		return nil, nil, err
	}

	ep, err := s.connector.Connect(ctx, ElementPeerID(id))
	if err != nil {
		s.releaseElementBinding(id)
		return nil, nil, errors.Wrapf(err, "failed to connect element %d", id)
	}
	if err := ep.Invoke(ctx, peer.SetFunctionMode,
		&functionModeRequest{FunctionMode: string(element.Mode)}, nil); err != nil {
		s.abandonElement(id, ep, nil)
		return nil, nil, errors.Wrapf(err, "set-function-mode failed on element %d", id)
	}
	if err := ep.Invoke(ctx, peer.AddMembership,
		&membershipRequest{SubarrayID: s.id}, nil); err != nil {
		s.abandonElement(id, ep, nil)
		return nil, nil, errors.Wrapf(err, "add-subarray-membership failed on element %d", id)
	}

	sp, err := s.connector.Connect(ctx, SubsessionPeerID(id, element.Mode))
	if err != nil {
		s.abandonElement(id, ep, nil)
		return nil, nil, errors.Wrapf(err, "failed to connect element %d sub-session", id)
	}
	request := &elementScanRequest{
		ConfigID:     configID,
		SubarrayID:   s.id,
		FSP:          element.FSP,
		Receptors:    element.Receptors,
		Channelizers: element.ChannelizerIDs,
		SampleRates:  element.SampleRates,
		Slices:       element.Slices,
	}
	if err := sp.Invoke(ctx, peer.ConfigureScan, request, nil); err != nil {
		s.abandonElement(id, ep, sp)
		return nil, nil, errors.Wrapf(err, "configure-scan failed on element %d", id)
	}
	log.WithFields(log.Fields{
		"session_id":    s.id,
		"element_id":    id,
		"function_mode": element.Mode,
	}).Info("Processing element configured")
	return ep, sp, nil
}

// abandonElement unwinds a half-configured element.
func (s *Session) abandonElement(id int, ep, sp peer.Peer) {
	for _, p := range []peer.Peer{ep, sp} {
		if p == nil {
			continue
		}
		if err := p.Disconnect(); err != nil {
			log.WithError(err).WithField("element_id", id).
				Warn("Failed to disconnect abandoned element peer")
		}
	}
	s.releaseElementBinding(id)
}

func (s *Session) releaseElementBinding(id int) {
	s.table.ReleaseElement(id, s.id)
}

// deconfigure drops the applied configuration: element memberships are
// removed, sub-session and element peers are disconnected, and the table
// bindings are released. Receptors and channelizer peers stay.
func (s *Session) deconfigure(ctx context.Context) {
	s.releaseElements(ctx)
	s.configID = ""
	s.scanID = 0
	// Clearing the dedup state is done outside peerMutex, the update path
	// acquires the kind locks first.
	for _, state := range s.updates {
		state.clear()
	}
}

func (s *Session) releaseElements(ctx context.Context) {
	// Detach the peers under the lock, invoke outside it. A slow peer call
	// here must not block update routing on peerMutex.
	s.peerMutex.Lock()
	elements := s.elements
	subsessions := s.subsessions
	s.elements = make(map[int]peer.Peer)
	s.subsessions = make(map[int]peer.Peer)
	s.config = nil
	s.peerMutex.Unlock()

	for id, ep := range elements {
		if err := ep.Invoke(ctx, peer.RemoveMembership,
			&membershipRequest{SubarrayID: s.id}, nil); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"session_id": s.id,
				"element_id": id,
			}).Warn("Failed to remove subarray membership")
		}
		if err := ep.Disconnect(); err != nil {
			log.WithError(err).WithField("element_id", id).
				Warn("Failed to disconnect element peer")
		}
		s.releaseElementBinding(id)
	}
	for id, sp := range subsessions {
		if err := sp.Disconnect(); err != nil {
			log.WithError(err).WithField("element_id", id).
				Warn("Failed to disconnect sub-session peer")
		}
	}
}
