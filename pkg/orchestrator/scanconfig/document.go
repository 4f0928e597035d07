package scanconfig

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Document is the external scan configuration document as received.
type Document struct {
	Common CommonConfig `json:"common"`
	CBF    CBFConfig    `json:"cbf"`
}

// CommonConfig carries the telescope-wide part of the document.
type CommonConfig struct {
	ConfigID      string `json:"config_id"`
	SubarrayID    int    `json:"subarray_id"`
	FrequencyBand string `json:"frequency_band"`
	// Band5Tuning holds the two stream center frequencies in GHz, required
	// for bands 5a and 5b.
	Band5Tuning []float64 `json:"band_5_tuning,omitempty"`
}

// CBFConfig carries the correlator/beamformer part of the document.
type CBFConfig struct {
	FrequencyBandOffsetStream1 int64 `json:"frequency_band_offset_stream1"`
	FrequencyBandOffsetStream2 int64 `json:"frequency_band_offset_stream2"`

	// Peer ids of the streaming update sources to subscribe to.
	DelayModelSource  string `json:"delay_model_source,omitempty"`
	CalibrationSource string `json:"calibration_source,omitempty"`

	FSP []FSPConfig `json:"fsp"`

	// ProcessingRegion optionally partitions a spectral region across the
	// listed CORR elements.
	ProcessingRegion *ProcessingRegion `json:"processing_region,omitempty"`
}

// FSPConfig is one processing element entry of the document.
type FSPConfig struct {
	FSPID               int           `json:"fsp_id"`
	FunctionMode        string        `json:"function_mode"`
	FrequencySliceID    int           `json:"frequency_slice_id"`
	ZoomFactor          int           `json:"zoom_factor"`
	ZoomWindowTuning    int64         `json:"zoom_window_tuning,omitempty"`
	IntegrationFactor   int           `json:"integration_factor"`
	ChannelOffset       int           `json:"channel_offset"`
	ChannelAveragingMap [][2]int      `json:"channel_averaging_map,omitempty"`
	OutputLinkMap       [][2]int      `json:"output_link_map,omitempty"`
	OutputHost          []HostMapping `json:"output_host,omitempty"`
	OutputPort          [][3]int      `json:"output_port,omitempty"`
	// Receptors restricts the entry to a subset of the session's
	// receptors; empty means all of them.
	Receptors []string `json:"receptors,omitempty"`
}

// ProcessingRegion selects a spectral region to split across elements.
type ProcessingRegion struct {
	FSPIDs        []int `json:"fsp_ids"`
	StartFreq     int64 `json:"start_freq"`
	ChannelWidth  int64 `json:"channel_width"`
	ChannelCount  int   `json:"channel_count"`
	WidebandShift int64 `json:"wideband_shift"`
}

// HostMapping is a [start channel, host] pair from the document.
type HostMapping struct {
	Channel int
	Host    string
}

// UnmarshalJSON decodes the mixed [int, string] wire pair.
func (h *HostMapping) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return errors.Errorf(
			"'output_host' entries must be [channel, host] pairs (received %d items)", len(raw))
	}
	if err := json.Unmarshal(raw[0], &h.Channel); err != nil {
		return errors.Wrap(err, "'output_host' channel must be an integer")
	}
	if err := json.Unmarshal(raw[1], &h.Host); err != nil {
		return errors.Wrap(err, "'output_host' host must be a string")
	}
	return nil
}

// MarshalJSON encodes back to the [int, string] wire pair.
func (h HostMapping) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{h.Channel, h.Host})
}

// Parse decodes the raw document, failing on malformed JSON.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "malformed scan configuration document")
	}
	return &doc, nil
}
