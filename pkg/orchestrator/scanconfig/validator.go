package scanconfig

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/midcbf/orchestrator/pkg/common"
	"github.com/midcbf/orchestrator/pkg/orchestrator/allocation"
	"github.com/midcbf/orchestrator/pkg/orchestrator/fspartition"
	"github.com/midcbf/orchestrator/pkg/orchestrator/peer"
	"github.com/midcbf/orchestrator/pkg/orchestrator/receptor"
)

// Valid channel averaging factors.
var averagingFactors = map[int]bool{
	0: true, 1: true, 2: true, 3: true, 4: true, 6: true, 8: true,
}

// ElementConfig is the validated configuration for one processing element.
type ElementConfig struct {
	FSP  FSPConfig
	Mode allocation.FunctionMode

	// Receptors is the resolved receptor subset, defaulting to every
	// receptor allocated to the session. ChannelizerIDs are their mapped
	// channelizer units and SampleRates their element input sample rates.
	Receptors      []string
	ChannelizerIDs []int
	SampleRates    map[string]int64

	// Slices carries the processing region partition records assigned to
	// this element, if any.
	Slices []fspartition.SliceAssignment
}

// ScanConfiguration is the validated in-memory configuration consumed by
// the dispatcher and discarded on deconfigure.
type ScanConfiguration struct {
	ConfigID    string
	Band        Band
	Band5Tuning []float64

	OffsetStream1 int64
	OffsetStream2 int64

	DelayModelSource  string
	CalibrationSource string

	// Per function mode element sub-lists.
	Corr []ElementConfig
	PSS  []ElementConfig
	PST  []ElementConfig
	VLBI []ElementConfig
}

// Elements returns every element configuration, correlation first.
func (c *ScanConfiguration) Elements() []ElementConfig {
	out := make([]ElementConfig, 0,
		len(c.Corr)+len(c.PSS)+len(c.PST)+len(c.VLBI))
	out = append(out, c.Corr...)
	out = append(out, c.PSS...)
	out = append(out, c.PST...)
	out = append(out, c.VLBI...)
	return out
}

// Validator deep-validates external scan configuration documents against
// resource and physical constraints. It never mutates session state.
type Validator struct {
	mapper       *receptor.Mapper
	table        *allocation.Table
	connector    peer.Connector
	elementCount int
}

// NewValidator creates a validator over the shared allocation table and the
// peer connection registry.
func NewValidator(
	mapper *receptor.Mapper,
	table *allocation.Table,
	connector peer.Connector,
	elementCount int) *Validator {
	if elementCount <= 0 {
		elementCount = common.DefaultProcessingElementCount
	}
	return &Validator{
		mapper:       mapper,
		table:        table,
		connector:    connector,
		elementCount: elementCount,
	}
}

// Validate parses and validates a raw document for the session, producing
// the ScanConfiguration on success. It fails fast with a reason naming the
// offending field and the received value.
func (v *Validator) Validate(
	ctx context.Context,
	data []byte,
	sessionID int,
	sessionReceptors []string) (*ScanConfiguration, error) {

	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}

	band, err := BandInfo(doc.Common.FrequencyBand)
	if err != nil {
		return nil, err
	}

	if err := validateBand5Tuning(band, doc.Common.Band5Tuning); err != nil {
		return nil, err
	}

	if err := validateOffset("frequency_band_offset_stream1",
		doc.CBF.FrequencyBandOffsetStream1); err != nil {
		return nil, err
	}
	if err := validateOffset("frequency_band_offset_stream2",
		doc.CBF.FrequencyBandOffsetStream2); err != nil {
		return nil, err
	}

	if len(doc.CBF.FSP) == 0 {
		return nil, errors.New("'fsp' list cannot be empty")
	}

	if err := v.probeUpdateSources(ctx, doc); err != nil {
		return nil, err
	}

	allocated := make(map[string]bool, len(sessionReceptors))
	for _, id := range sessionReceptors {
		allocated[id] = true
	}

	config := &ScanConfiguration{
		ConfigID:          doc.Common.ConfigID,
		Band:              band,
		Band5Tuning:       doc.Common.Band5Tuning,
		OffsetStream1:     doc.CBF.FrequencyBandOffsetStream1,
		OffsetStream2:     doc.CBF.FrequencyBandOffsetStream2,
		DelayModelSource:  doc.CBF.DelayModelSource,
		CalibrationSource: doc.CBF.CalibrationSource,
	}

	seen := make(map[int]bool)
	corrIDs := make(map[int]int) // fsp id -> index into config.Corr
	for _, fsp := range doc.CBF.FSP {
		if seen[fsp.FSPID] {
			return nil, errors.Errorf("duplicate 'fsp_id' %d", fsp.FSPID)
		}
		seen[fsp.FSPID] = true

		element, err := v.validateFSP(fsp, band, sessionID, allocated, sessionReceptors)
		if err != nil {
			return nil, err
		}

		switch element.Mode {
		case allocation.ModeCorr:
			corrIDs[fsp.FSPID] = len(config.Corr)
			config.Corr = append(config.Corr, *element)
		case allocation.ModePSS:
			config.PSS = append(config.PSS, *element)
		case allocation.ModePST:
			config.PST = append(config.PST, *element)
		case allocation.ModeVLBI:
			config.VLBI = append(config.VLBI, *element)
		}
	}

	if doc.CBF.ProcessingRegion != nil {
		if err := v.applyProcessingRegion(
			doc.CBF.ProcessingRegion, config, corrIDs, sessionReceptors); err != nil {
			return nil, err
		}
	}

	log.WithFields(log.Fields{
		"session_id": sessionID,
		"config_id":  config.ConfigID,
		"band":       band.Name,
	}).Info("Scan configuration validated")
	return config, nil
}

func (v *Validator) validateFSP(
	fsp FSPConfig,
	band Band,
	sessionID int,
	allocated map[string]bool,
	sessionReceptors []string) (*ElementConfig, error) {

	if fsp.FSPID < 1 || fsp.FSPID > v.elementCount {
		return nil, errors.Errorf(
			"'fsp_id' must be in range [1, %d] (received %d)",
			v.elementCount, fsp.FSPID)
	}

	mode, err := ParseFunctionMode(fsp.FunctionMode)
	if err != nil {
		return nil, err
	}

	// Advisory cross-session check; the dispatcher's table bind is the
	// authoritative atomic one.
	if held := v.table.ElementMode(fsp.FSPID); held != allocation.ModeIdle && held != mode {
		return nil, errors.Errorf(
			"element %d is already used in function mode %s by another session",
			fsp.FSPID, held)
	}

	if fsp.FrequencySliceID < 1 || fsp.FrequencySliceID > band.TotalSlices {
		return nil, errors.Errorf(
			"'frequency_slice_id' must be in range [1, %d] for band %s (received %d)",
			band.TotalSlices, band.Name, fsp.FrequencySliceID)
	}

	if fsp.ZoomFactor < 0 || fsp.ZoomFactor > MaxZoomFactor {
		return nil, errors.Errorf(
			"'zoom_factor' must be an integer in the range [0, %d] (received %d)",
			MaxZoomFactor, fsp.ZoomFactor)
	}
	if fsp.ZoomFactor > 0 && fsp.ZoomWindowTuning == 0 {
		return nil, errors.Errorf(
			"'zoom_window_tuning' is required when 'zoom_factor' is %d", fsp.ZoomFactor)
	}

	if fsp.IntegrationFactor < MinIntegrationFactor ||
		fsp.IntegrationFactor > MaxIntegrationFactor {
		return nil, errors.Errorf(
			"'integration_factor' must be in range [%d, %d] (received %d)",
			MinIntegrationFactor, MaxIntegrationFactor, fsp.IntegrationFactor)
	}

	if len(fsp.ChannelAveragingMap) > ChannelAveragingGroups {
		return nil, errors.Errorf(
			"'channel_averaging_map' must have at most %d groups (received %d)",
			ChannelAveragingGroups, len(fsp.ChannelAveragingMap))
	}
	for i, entry := range fsp.ChannelAveragingMap {
		if entry[0] != i*ChannelsPerAveragingGroup {
			return nil, errors.Errorf(
				"'channel_averaging_map' group %d must start at the first channel "+
					"in the group (received %d)", i, entry[0])
		}
		if !averagingFactors[entry[1]] {
			return nil, errors.Errorf(
				"'channel_averaging_map' averaging factor must be one of "+
					"[0, 1, 2, 3, 4, 6, 8] (received %d)", entry[1])
		}
	}

	for _, link := range fsp.OutputLinkMap {
		if link[0] < 0 || link[1] < 0 {
			return nil, errors.Errorf(
				"'output_link_map' entries must be non-negative integer pairs "+
					"(received [%d, %d])", link[0], link[1])
		}
	}
	for _, port := range fsp.OutputPort {
		if port[1] < 1 || port[1] > 65535 {
			return nil, errors.Errorf(
				"'output_port' port must be in range [1, 65535] (received %d)", port[1])
		}
	}

	receptors := fsp.Receptors
	if len(receptors) == 0 {
		receptors = append([]string{}, sessionReceptors...)
		sort.Strings(receptors)
	}
	element := &ElementConfig{
		FSP:         fsp,
		Mode:        mode,
		Receptors:   receptors,
		SampleRates: make(map[string]int64, len(receptors)),
	}
	for _, id := range receptors {
		if !allocated[id] {
			return nil, errors.Errorf(
				"receptor %s is not allocated to subarray %d", id, sessionID)
		}
		channelizer, err := v.mapper.ChannelizerID(id)
		if err != nil {
			return nil, err
		}
		k, err := v.mapper.K(id)
		if err != nil {
			return nil, err
		}
		element.ChannelizerIDs = append(element.ChannelizerIDs, channelizer)
		element.SampleRates[id] = band.ElementSampleRate(k)
	}
	return element, nil
}

func validateBand5Tuning(band Band, tuning []float64) error {
	if !band.IsBand5() {
		return nil
	}
	if len(tuning) != 2 {
		return errors.Errorf(
			"'band_5_tuning' must carry two stream frequencies for band %s "+
				"(received %d)", band.Name, len(tuning))
	}
	low, high := band.TuningBounds()
	for stream, ghz := range tuning {
		hz := ghz * 1e9
		if hz < low || hz > high {
			return errors.Errorf(
				"'band_5_tuning' stream %d must be in range [%.2f, %.2f] GHz "+
					"(received %.2f)", stream+1, low/1e9, high/1e9, ghz)
		}
	}
	return nil
}

func validateOffset(field string, offset int64) error {
	if offset < -fspartition.HalfSliceBandwidth ||
		offset > fspartition.HalfSliceBandwidth {
		return errors.Errorf(
			"'%s' must be within half a frequency slice bandwidth (received %d)",
			field, offset)
	}
	return nil
}

// probeUpdateSources checks the streaming update sources referenced by the
// document are reachable before the configuration is accepted.
func (v *Validator) probeUpdateSources(ctx context.Context, doc *Document) error {
	for _, source := range []string{
		doc.CBF.DelayModelSource,
		doc.CBF.CalibrationSource,
	} {
		if source == "" {
			continue
		}
		p, err := v.connector.Connect(ctx, source)
		if err != nil {
			return errors.Wrapf(err, "update source %s cannot be reached", source)
		}
		if err := p.Disconnect(); err != nil {
			log.WithError(err).WithField("peer_id", source).
				Warn("Failed to disconnect update source probe")
		}
	}
	return nil
}

// applyProcessingRegion partitions the requested spectral region across the
// listed correlation elements and attaches the slice assignments.
func (v *Validator) applyProcessingRegion(
	region *ProcessingRegion,
	config *ScanConfiguration,
	corrIDs map[int]int,
	sessionReceptors []string) error {

	if len(region.FSPIDs) == 0 {
		return errors.New("'processing_region' must list at least one fsp_id")
	}
	for _, id := range region.FSPIDs {
		if _, ok := corrIDs[id]; !ok {
			return errors.Errorf(
				"'processing_region' fsp_id %d is not a CORR entry of the document", id)
		}
	}

	// The partition is computed with the channelization coefficient of the
	// first allocated receptor in sorted order.
	if len(sessionReceptors) == 0 {
		return errors.New("'processing_region' requires allocated receptors")
	}
	sorted := append([]string{}, sessionReceptors...)
	sort.Strings(sorted)
	k, err := v.mapper.K(sorted[0])
	if err != nil {
		return err
	}

	assignments, err := fspartition.Partition(
		region.FSPIDs,
		region.StartFreq,
		region.ChannelWidth,
		region.ChannelCount,
		k,
		region.WidebandShift,
	)
	if err != nil {
		return errors.Wrap(err, "'processing_region' partitioning failed")
	}

	for _, a := range assignments {
		idx := corrIDs[a.ElementID]
		config.Corr[idx].Slices = append(config.Corr[idx].Slices, a)
	}
	return nil
}
