package scanconfig

import (
	"github.com/pkg/errors"

	"github.com/midcbf/orchestrator/pkg/orchestrator/allocation"
)

const (
	// Band 5 dual-stream tuning bounds in Hz.
	Band5aTuningMin = 5.85e9
	Band5aTuningMax = 7.25e9
	Band5bTuningMin = 9.55e9
	Band5bTuningMax = 14.05e9

	// deltaF is the per-unit-k sample rate step in Hz.
	deltaF = 1800

	// MinIntegrationFactor and MaxIntegrationFactor bound the correlation
	// integration factor (multiples of the minimum integration time).
	MinIntegrationFactor = 1
	MaxIntegrationFactor = 10

	// MaxZoomFactor bounds the zoom window factor.
	MaxZoomFactor = 6

	// ChannelAveragingGroups is the number of channel averaging groups, and
	// ChannelsPerAveragingGroup the fine channels covered by each.
	ChannelAveragingGroups    = 20
	ChannelsPerAveragingGroup = 744
)

// Band describes one receiver frequency band.
type Band struct {
	Name string
	// Index is the zero-based band index used on the wire.
	Index int
	// BaseSampleRate is the k-independent dish sample rate part in Hz.
	BaseSampleRate int64
	// SampleRateStep is the band's sample rate constant multiplied by
	// deltaF, so DishSampleRate(k) = BaseSampleRate + SampleRateStep*k.
	SampleRateStep int64
	// TotalSlices is the number of coarse frequency slices in the band.
	TotalSlices int
	// SamplesPerFrame is the channelizer framing parameter.
	SamplesPerFrame int
}

var bands = map[string]Band{
	"1":  {Name: "1", Index: 0, BaseSampleRate: 3960000000, SampleRateStep: 1800, TotalSlices: 20, SamplesPerFrame: 18},
	"2":  {Name: "2", Index: 1, BaseSampleRate: 3960000000, SampleRateStep: 1800, TotalSlices: 20, SamplesPerFrame: 18},
	"3":  {Name: "3", Index: 2, BaseSampleRate: 3168000000, SampleRateStep: 1440, TotalSlices: 20, SamplesPerFrame: 18},
	"4":  {Name: "4", Index: 3, BaseSampleRate: 5940000000, SampleRateStep: 2700, TotalSlices: 30, SamplesPerFrame: 27},
	"5a": {Name: "5a", Index: 4, BaseSampleRate: 5940000000, SampleRateStep: 2700, TotalSlices: 60, SamplesPerFrame: 27},
	"5b": {Name: "5b", Index: 5, BaseSampleRate: 5940000000, SampleRateStep: 2700, TotalSlices: 60, SamplesPerFrame: 27},
}

// BandInfo looks up a frequency band by name.
func BandInfo(name string) (Band, error) {
	band, ok := bands[name]
	if !ok {
		return Band{}, errors.Errorf(
			"'frequency_band' must be one of 1, 2, 3, 4, 5a, 5b (received %s)", name)
	}
	return band, nil
}

// IsBand5 reports whether the band needs dual-stream tuning.
func (b Band) IsBand5() bool {
	return b.Name == "5a" || b.Name == "5b"
}

// TuningBounds returns the valid stream tuning range for a band 5 variant.
func (b Band) TuningBounds() (float64, float64) {
	if b.Name == "5b" {
		return Band5bTuningMin, Band5bTuningMax
	}
	return Band5aTuningMin, Band5aTuningMax
}

// DishSampleRate is the dish sample rate in Hz for the channelization
// coefficient k.
func (b Band) DishSampleRate(k int) int64 {
	return b.BaseSampleRate + b.SampleRateStep*int64(k)
}

// ElementSampleRate is the input sample rate of a processing element for
// the coefficient k: the dish rate times the 10/9 oversampling, divided by
// the band's slice count. Exact for every band in the table.
func (b Band) ElementSampleRate(k int) int64 {
	return b.DishSampleRate(k) / 9 * 10 / int64(b.TotalSlices)
}

// ParseFunctionMode maps the document's function mode tag to the allocation
// mode.
func ParseFunctionMode(mode string) (allocation.FunctionMode, error) {
	switch mode {
	case "CORR":
		return allocation.ModeCorr, nil
	case "PSS-BF":
		return allocation.ModePSS, nil
	case "PST-BF":
		return allocation.ModePST, nil
	case "VLBI":
		return allocation.ModeVLBI, nil
	}
	return "", errors.Errorf(
		"'function_mode' must be one of CORR, PSS-BF, PST-BF, VLBI (received %s)", mode)
}
