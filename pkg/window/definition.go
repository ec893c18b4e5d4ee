package window

import (
	"time"

	"github.com/nebulastream/nebula-core/internal/slicestore"
)

// Kind distinguishes the two window policies from spec.md §1.
type Kind int

const (
	Tumbling Kind = iota
	Sliding
)

// Definition describes a window's size, slide, the slice granularity
// it is built from, and how long a slice stays open for late tuples
// after the watermark has passed it, per spec.md §4.3/§4.5. Size must
// be an integer multiple of SliceSize, and Slide must be an integer
// multiple of SliceSize; callers are expected to choose SliceSize as
// gcd(Size, Slide) (Size itself, for a tumbling window).
type Definition struct {
	Kind            Kind
	Size            time.Duration
	Slide           time.Duration
	SliceSize       time.Duration
	AllowedLateness time.Duration
}

// NewTumbling builds a tumbling window definition: one slice per
// window, Slide == Size.
func NewTumbling(size, allowedLateness time.Duration) Definition {
	return Definition{Kind: Tumbling, Size: size, Slide: size, SliceSize: size, AllowedLateness: allowedLateness}
}

// NewSliding builds a sliding window definition over sliceSize-wide
// slices. Both size and slide must be exact multiples of sliceSize.
func NewSliding(size, slide, sliceSize, allowedLateness time.Duration) Definition {
	return Definition{Kind: Sliding, Size: size, Slide: slide, SliceSize: sliceSize, AllowedLateness: allowedLateness}
}

// SlicesPerWindow returns how many consecutive slices make up one window.
func (d Definition) SlicesPerWindow() int64 { return int64(d.Size / d.SliceSize) }

// SlicesPerSlide returns how many slices separate the start of one
// window from the next.
func (d Definition) SlicesPerSlide() int64 { return int64(d.Slide / d.SliceSize) }

// Range is an inclusive range of slice indices covering one window.
type Range struct {
	Start, End slicestore.Index
}

// CompletesAt reports whether the slice at idx is the last slice of
// some window, and if so, that window's slice range. A tumbling window
// completes at every slice; a sliding window completes once every
// SlicesPerSlide slices, each completion covering the trailing
// SlicesPerWindow slices — the standard slicing reduction for sliding
// windows described in spec.md §4.5.
func (d Definition) CompletesAt(idx slicestore.Index) (Range, bool) {
	spw := d.SlicesPerWindow()
	sps := d.SlicesPerSlide()
	n := int64(idx) + 1
	if n < spw {
		return Range{}, false
	}
	if n%sps != 0 {
		return Range{}, false
	}
	return Range{Start: slicestore.Index(n - spw), End: idx}, true
}

// WindowEnd returns the exclusive upper timestamp bound of the window
// ending with slice r.End, the timestamp stamped on the window's
// output tuples.
func (d Definition) WindowEnd(r Range) int64 {
	_, end := r.End.Bounds(d.SliceSize)
	return end
}

// WindowStart returns the inclusive lower timestamp bound of the
// window beginning with slice r.Start.
func (d Definition) WindowStart(r Range) int64 {
	start, _ := r.Start.Bounds(d.SliceSize)
	return start
}
