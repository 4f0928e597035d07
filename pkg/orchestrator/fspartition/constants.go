package fspartition

const (
	// NumChannelGroups is the fine channel alignment unit. Start channels
	// and channel counts are always multiples of this.
	NumChannelGroups = 20

	// NumFineChannels is the number of fine channels a processing element
	// produces for one frequency slice.
	NumFineChannels = 14880

	// FineChannelWidth is the nominal fine channel width in Hz.
	FineChannelWidth = 13440

	// SliceBandwidth is the bandwidth of one coarse frequency slice in Hz,
	// the common sample rate 220200960 Hz divided by the 10/9 oversampling.
	SliceBandwidth = 198180864

	// HalfSliceBandwidth is half of SliceBandwidth in Hz.
	HalfSliceBandwidth = 99090432

	// SampleRateBase is the k-independent part of the dish sample rate in Hz.
	// The actual rate is SampleRateBase + 1800*k.
	SampleRateBase = 3960000000
)
