package pipeline

import (
	"sync/atomic"
	"time"
)

// counters are updated from the capture goroutine and from segmentation
// goroutines
type counters struct {
	received            atomic.Uint64
	bypassed            atomic.Uint64
	skipped             atomic.Uint64
	segmentRequested    atomic.Uint64
	segmentFailed       atomic.Uint64
	compositesEmitted   atomic.Uint64
	dimensionMismatches atomic.Uint64
	passedThrough       atomic.Uint64
	conversionErrors    atomic.Uint64
	inFlight            atomic.Int64
	lastLatency         atomic.Int64 // nanoseconds
}

// Stats is a point-in-time copy of the pipeline counters
type Stats struct {
	FramesReceived         uint64  `json:"frames_received"`
	FramesBypassed         uint64  `json:"frames_bypassed"`
	FramesSkipped          uint64  `json:"frames_skipped"`
	SegmentationsRequested uint64  `json:"segmentations_requested"`
	SegmentationsFailed    uint64  `json:"segmentations_failed"`
	CompositesEmitted      uint64  `json:"composites_emitted"`
	DimensionMismatches    uint64  `json:"dimension_mismatches"`
	FramesPassedThrough    uint64  `json:"frames_passed_through"`
	ConversionErrors       uint64  `json:"conversion_errors"`
	InFlight               int64   `json:"in_flight"`
	SegmentationLatencyMS  float64 `json:"segmentation_latency_ms"`
}

func (c *counters) snapshot() Stats {
	return Stats{
		FramesReceived:         c.received.Load(),
		FramesBypassed:         c.bypassed.Load(),
		FramesSkipped:          c.skipped.Load(),
		SegmentationsRequested: c.segmentRequested.Load(),
		SegmentationsFailed:    c.segmentFailed.Load(),
		CompositesEmitted:      c.compositesEmitted.Load(),
		DimensionMismatches:    c.dimensionMismatches.Load(),
		FramesPassedThrough:    c.passedThrough.Load(),
		ConversionErrors:       c.conversionErrors.Load(),
		InFlight:               c.inFlight.Load(),
		SegmentationLatencyMS:  float64(time.Duration(c.lastLatency.Load())) / float64(time.Millisecond),
	}
}
