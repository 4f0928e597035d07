package fspartition

import (
	"math"

	"github.com/pkg/errors"
)

// Errors returned by Partition. Each bad input gets its own error so callers
// can surface the exact reason to the operator.
var (
	ErrInvalidChannelWidth = errors.New("channel width must be positive")
	ErrInvalidChannelCount = errors.New("channel count must be positive")
	ErrUnalignedCount      = errors.New("channel count must be a multiple of the channel group size")
	ErrNoElements          = errors.New("element id list cannot be empty")
	ErrInvalidElementID    = errors.New("element ids must be positive")
	ErrInvalidK            = errors.New("channelization coefficient k must be positive")
	ErrTooFewElements      = errors.New("fewer elements than coarse frequency slices")
	ErrNoFineChannel       = errors.New("failed to find a valid fine channel")
)

// SliceAssignment is the partition record for one coarse frequency slice
// assigned to one processing element. Channel numbers are relative to the
// slice center unless stated otherwise; frequencies are in Hz.
type SliceAssignment struct {
	// SliceID is the coarse frequency slice id.
	SliceID int
	// ElementID is the processing element the slice is assigned to.
	ElementID int

	// StartChannel and EndChannel are the inclusive fine channel range,
	// relative to the slice center. StartChannel is a multiple of
	// NumChannelGroups, and EndChannel+1 is as well.
	StartChannel int
	EndChannel   int
	// NumChannels is EndChannel - StartChannel + 1.
	NumChannels int

	// ElementStartChannel and ElementEndChannel are the same range shifted
	// to the element-local numbering 0..NumFineChannels-1.
	ElementStartChannel int
	ElementEndChannel   int

	// GlobalStartChannel and GlobalEndChannel assign a contiguous numbering
	// across all slices of the partition, starting at 0.
	GlobalStartChannel int
	GlobalEndChannel   int

	// StartChannelFreq and EndChannelFreq are the center frequencies of the
	// first and last channel in digitized bandwidth.
	StartChannelFreq int64
	EndChannelFreq   int64

	// AlignmentShiftFreq aligns the requested region to the fine channel
	// grid. DownshiftFreq corrects the nominal slice center to the
	// k-dependent one. TotalShiftFreq is their sum.
	AlignmentShiftFreq int64
	DownshiftFreq      int64
	TotalShiftFreq     int64

	// Bandwidth is NumChannels * channel width.
	Bandwidth int64
}

// Partition splits the requested spectral region across the given processing
// elements, one coarse frequency slice per element in list order. The region
// starts at the center frequency startFreq of the first channel and spans
// channelCount channels of channelWidth Hz, shifted by widebandShift Hz.
func Partition(
	elementIDs []int,
	startFreq int64,
	channelWidth int64,
	channelCount int,
	k int,
	widebandShift int64) ([]SliceAssignment, error) {

	if channelWidth <= 0 {
		return nil, ErrInvalidChannelWidth
	}
	if channelCount <= 0 {
		return nil, ErrInvalidChannelCount
	}
	if channelCount%NumChannelGroups != 0 {
		return nil, ErrUnalignedCount
	}
	if len(elementIDs) == 0 {
		return nil, ErrNoElements
	}
	for _, id := range elementIDs {
		if id <= 0 {
			return nil, ErrInvalidElementID
		}
	}
	if k <= 0 {
		return nil, ErrInvalidK
	}

	endFreq := startFreq + int64(channelCount-1)*channelWidth
	firstSlice := coarseSlice(startFreq, widebandShift)
	lastSlice := coarseSlice(endFreq, widebandShift)
	numSlices := lastSlice - firstSlice + 1

	if len(elementIDs) < numSlices {
		return nil, errors.Wrapf(ErrTooFewElements,
			"%d elements for slices %d..%d", len(elementIDs), firstSlice, lastSlice)
	}

	assignments := make([]SliceAssignment, 0, numSlices)
	totalChannels := 0
	nextGlobal := 0
	for index := 0; index < numSlices; index++ {
		fs := firstSlice + index
		a := SliceAssignment{
			SliceID:       fs,
			ElementID:     elementIDs[index],
			DownshiftFreq: nominalSliceCenter(fs) - kDependentSliceCenter(fs, k),
		}

		if index == 0 {
			// Anchor the first slice on the fine channel nearest the
			// requested start frequency.
			ch, err := findFineChannel(startFreq, channelWidth, widebandShift, fs)
			if err != nil {
				return nil, err
			}
			a.StartChannel = roundToGroup(ch)
			a.StartChannelFreq = nominalSliceCenter(fs) + int64(a.StartChannel)*channelWidth
			a.AlignmentShiftFreq = startFreq - widebandShift - a.StartChannelFreq
		} else {
			// Continue one channel up from the previous slice.
			prev := &assignments[index-1]
			a.StartChannelFreq = prev.EndChannelFreq + channelWidth
			exact := float64(a.StartChannelFreq-nominalSliceCenter(fs)) / float64(channelWidth)
			a.StartChannel = roundToGroup(int(math.Round(exact)))
			a.AlignmentShiftFreq = a.StartChannelFreq -
				(nominalSliceCenter(fs) + int64(a.StartChannel)*channelWidth)
		}
		a.TotalShiftFreq = a.DownshiftFreq + a.AlignmentShiftFreq

		if index == numSlices-1 {
			// The last slice takes exactly the channels left over.
			a.EndChannel = channelCount - (totalChannels - a.StartChannel) - 1
		} else {
			exact := float64(HalfSliceBandwidth-a.AlignmentShiftFreq) / float64(channelWidth)
			a.EndChannel = int(math.Round(exact))
		}
		a.EndChannel = nearestGroupEnd(a.StartChannel, a.EndChannel)

		a.NumChannels = a.EndChannel - a.StartChannel + 1
		totalChannels += a.NumChannels
		a.EndChannelFreq = int64(a.EndChannel)*channelWidth +
			nominalSliceCenter(fs) + a.AlignmentShiftFreq
		a.Bandwidth = int64(a.NumChannels) * channelWidth

		a.GlobalStartChannel = nextGlobal
		nextGlobal += a.NumChannels
		a.GlobalEndChannel = nextGlobal - 1

		a.ElementStartChannel = a.StartChannel + NumFineChannels/2
		a.ElementEndChannel = a.EndChannel + NumFineChannels/2

		assignments = append(assignments, a)
	}
	return assignments, nil
}

// coarseSlice returns the coarse frequency slice containing freq.
func coarseSlice(freq, widebandShift int64) int {
	return int(floorDiv(freq-widebandShift+HalfSliceBandwidth, SliceBandwidth))
}

// nominalSliceCenter is the center frequency of a slice in digitized
// bandwidth, ignoring k.
func nominalSliceCenter(fs int) int64 {
	return int64(fs) * SliceBandwidth
}

// kDependentSliceCenter is the actual slice center for the dish sample rate
// implied by k. Center frequency of slice n = (sample rate / 20) * n.
func kDependentSliceCenter(fs, k int) int64 {
	sampleRate := int64(SampleRateBase) + 1800*int64(k)
	return (sampleRate / 20) * int64(fs)
}

// findFineChannel locates the fine channel whose center is nearest to the
// target frequency. Only group-aligned channels are considered. The scan
// stops as soon as the distance starts growing again.
func findFineChannel(targetFreq, channelWidth, widebandShift int64, fs int) (int, error) {
	shiftedTarget := targetFreq - widebandShift
	found := false
	var channel int
	var last int64
	for n := 0; n < NumFineChannels/NumChannelGroups; n++ {
		n2 := -NumFineChannels/2 + NumChannelGroups*n
		center := nominalSliceCenter(fs) + channelWidth*int64(n2)
		diff := shiftedTarget - center
		if diff < 0 {
			diff = -diff
		}
		if !found || diff < last {
			channel = n2
			last = diff
			found = true
		}
		if diff > last {
			break
		}
	}
	if !found {
		return 0, ErrNoFineChannel
	}
	return channel, nil
}

// roundToGroup rounds a channel number to the nearest multiple of
// NumChannelGroups.
func roundToGroup(value int) int {
	return NumChannelGroups * int(math.Round(float64(value)/NumChannelGroups))
}

// nearestGroupEnd moves end so that the channel count end-start+1 becomes the
// nearest multiple of NumChannelGroups.
func nearestGroupEnd(start, end int) int {
	numChannels := end - start + 1
	remainder := numChannels % NumChannelGroups
	if remainder >= NumChannelGroups/2 {
		return end + (NumChannelGroups - remainder)
	}
	return end - remainder
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
