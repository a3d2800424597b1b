// Package sampling chooses deterministic frame strides for detection
// and segmentation given a frame count, so both the transient metrics
// engine and its callers can predict exactly which frames will be
// evaluated without running the detector first.
package sampling

import "math"

// targetDetectionFrames and targetSegmentationFrames are the desired
// sample counts before the N/stride cap is applied.
const (
	targetDetectionFrames   = 200
	targetSegmentationFrames = 100
)

// Plan is a resolved sampling strategy for a clip of N frames.
type Plan struct {
	TotalFrames        int
	DetectionStride    int
	SegmentationStride int
	DetectionFrames    int
	SegmentationFrames int
}

// Plan chooses the detection stride s_d and segmentation stride s_s for
// a clip of n frames, per the documented thresholds, and derives the
// actual sampled frame counts capped by n/stride.
func Plan(n int) Plan {
	sd := detectionStride(n)
	ss := int(math.Max(float64(sd), math.Ceil(float64(sd)*1.5)))

	return Plan{
		TotalFrames:        n,
		DetectionStride:    sd,
		SegmentationStride: ss,
		DetectionFrames:    cappedFrameCount(n, sd, targetDetectionFrames),
		SegmentationFrames: cappedFrameCount(n, ss, targetSegmentationFrames),
	}
}

func detectionStride(n int) int {
	switch {
	case n <= 200:
		return 1
	case n <= 500:
		return 2
	case n <= 1000:
		return 4
	default:
		return 6
	}
}

func cappedFrameCount(n, stride, target int) int {
	if stride <= 0 {
		return 0
	}
	available := n / stride
	if available < target {
		return available
	}
	return target
}
