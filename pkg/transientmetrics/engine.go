// Package transientmetrics computes the weighted quality metrics that
// decide whether transient obstacles (typically the person operating
// the capture rig) compromise a MetaCam recording.
package transientmetrics

import (
	"github.com/otherjamesbrown/metacam-ingest/pkg/regionweights"
)

// BBox is a normalized [0,1] bounding box, x1<=x2, y1<=y2, y=0 at the
// top of the frame.
type BBox struct {
	X1, Y1, X2, Y2 float64
}

func (b BBox) center() (x, y float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

func (b BBox) area() float64 {
	w := b.X2 - b.X1
	h := b.Y2 - b.Y1
	if w < 0 || h < 0 {
		return 0
	}
	return w * h
}

// FrameDetections is one sampled frame's retained detections.
type FrameDetections struct {
	Detections []BBox
}

// FrameSegmentation is one sampled frame's retained segmentation
// results. MaskArea is the mask's area as a fraction of the frame
// area, precomputed by the caller from the actual pixel mask — this
// package has no opinion on mask pixel format, only on the resulting
// area and location.
type FrameSegmentation struct {
	Masks []MaskResult
}

// MaskResult is one segmented object within a frame.
type MaskResult struct {
	Class    int
	BBox     BBox
	MaskArea float64
}

// lowerBandY is the normalized y-coordinate above which a mask/bbox
// center is considered to be in the "lower band" of the frame for SAI
// purposes. Not specified explicitly by the source material; chosen as
// the bottom third of the frame, where a rig operator holding the
// capture device would typically appear.
const lowerBandY = 0.667

// saiOccupancyThreshold is the minimum fraction of frame area a
// person's mask/bbox must occupy to count toward SAI.
const saiOccupancyThreshold = 0.05

// ScenePreset selects the decision-band tightening/loosening applied
// to the default thresholds.
type ScenePreset string

const (
	PresetIndoor  ScenePreset = "indoor"
	PresetOutdoor ScenePreset = "outdoor"
	PresetDefault ScenePreset = "default"
)

// Decision is the final pass/fail verdict for a package's transient
// obstacle assessment.
type Decision string

const (
	DecisionPass       Decision = "PASS"
	DecisionNeedReview Decision = "NEED_REVIEW"
	DecisionReject     Decision = "REJECT"
)

// bandThresholds holds the cut points for one metric's decision bands,
// in the metric's native unit (WDD is unitless; WPO/SAI are already
// scaled to their percentage range, e.g. 1.0 = 1%).
//
// The documented table leaves a gap between the review band's upper
// bound and the reject threshold (e.g. WDD 2.0–8.0). band() resolves
// that gap as still "review" — nothing less severe than reject applies
// there, so it cannot be optimal or acceptable, and review is the only
// remaining named band below reject.
type bandThresholds struct {
	optimalMax    float64
	acceptableMax float64
	reject        float64
}

func (b bandThresholds) scale(factor float64) bandThresholds {
	return bandThresholds{
		optimalMax:    b.optimalMax * factor,
		acceptableMax: b.acceptableMax * factor,
		reject:        b.reject * factor,
	}
}

func (b bandThresholds) band(value float64) string {
	switch {
	case value >= b.reject:
		return "reject"
	case value < b.optimalMax:
		return "optimal"
	case value < b.acceptableMax:
		return "acceptable"
	default:
		return "review"
	}
}

var defaultWDD = bandThresholds{optimalMax: 1.0, acceptableMax: 1.5, reject: 8.0}
var defaultWPO = bandThresholds{optimalMax: 1.0, acceptableMax: 5.0, reject: 30.0}
var defaultSAI = bandThresholds{optimalMax: 5.0, acceptableMax: 15.0, reject: 25.0}

// presetFactor scales all band boundaries: indoor tightens by 20%
// (lower thresholds, i.e. stricter), outdoor loosens by 20%.
func presetFactor(preset ScenePreset) float64 {
	switch preset {
	case PresetIndoor:
		return 0.8
	case PresetOutdoor:
		return 1.2
	default:
		return 1.0
	}
}

// Metrics holds the computed values for one assessment.
type Metrics struct {
	WDD float64
	WPO float64
	SAI float64
}

// Result is the outcome of a transient obstacle assessment.
type Result struct {
	Metrics        Metrics
	Decision       Decision
	EarlyTerminated bool
}

// earlyTerminationLimits are the running-value thresholds beyond which
// streaming evaluation may stop early with a REJECT verdict.
const (
	earlyTermWDD = 12.0
	earlyTermWPO = 40.0
	earlyTermSAI = 35.0
)

// Engine computes WDD/WPO/SAI over a stream of sampled frames.
type Engine struct {
	weights *regionweights.Map
	preset  ScenePreset

	detectionSum   float64
	framesDetected int

	wpoSum           float64
	saiHits          int
	framesSegmented  int
}

// New creates an Engine using weights for spatial weighting and preset
// for the indoor/outdoor threshold adjustment.
func New(weights *regionweights.Map, preset ScenePreset) *Engine {
	return &Engine{weights: weights, preset: preset}
}

// AddDetectionFrame folds one sampled detection frame into the running
// WDD accumulation.
func (e *Engine) AddDetectionFrame(frame FrameDetections) {
	e.framesDetected++
	for _, bb := range frame.Detections {
		x, y := bb.center()
		e.detectionSum += e.weights.Weight(x, y)
	}
}

// AddSegmentationFrame folds one sampled segmentation frame into the
// running WPO/SAI accumulation.
func (e *Engine) AddSegmentationFrame(frame FrameSegmentation) {
	e.framesSegmented++
	frameHasSAIHit := false
	for _, m := range frame.Masks {
		x, y := m.BBox.center()
		w := e.weights.Weight(x, y)
		e.wpoSum += w * m.MaskArea

		if m.Class == 0 && y >= lowerBandY && m.MaskArea > saiOccupancyThreshold {
			frameHasSAIHit = true
		}
	}
	if frameHasSAIHit {
		e.saiHits++
	}
}

// Running returns the current metric values computed from frames added
// so far, without finalizing a decision. Intended for early-termination
// checks during streaming evaluation.
func (e *Engine) Running() Metrics {
	return Metrics{
		WDD: safeDiv(e.detectionSum, e.framesDetected),
		WPO: 100 * safeDiv(e.wpoSum, e.framesSegmented),
		SAI: 100 * safeDiv(float64(e.saiHits), e.framesSegmented),
	}
}

// ShouldTerminateEarly reports whether the running metrics have already
// crossed the early-termination limits, in which case the caller may
// stop sampling further frames.
func (e *Engine) ShouldTerminateEarly() bool {
	m := e.Running()
	return m.WDD > earlyTermWDD || m.WPO > earlyTermWPO || m.SAI > earlyTermSAI
}

// Finalize computes the decision for the metrics accumulated so far.
// earlyTerminated should be true when the caller stopped sampling due
// to ShouldTerminateEarly; in that case the decision is forced to
// REJECT regardless of the computed bands.
func (e *Engine) Finalize(earlyTerminated bool) Result {
	m := e.Running()
	if earlyTerminated {
		return Result{Metrics: m, Decision: DecisionReject, EarlyTerminated: true}
	}

	factor := presetFactor(e.preset)
	wdd := defaultWDD.scale(factor)
	wpo := defaultWPO.scale(factor)
	sai := defaultSAI.scale(factor)

	bands := []string{wdd.band(m.WDD), wpo.band(m.WPO), sai.band(m.SAI)}
	decision := DecisionPass
	for _, b := range bands {
		if b == "reject" {
			decision = DecisionReject
			break
		}
		if b == "review" {
			decision = DecisionNeedReview
		}
	}

	return Result{Metrics: m, Decision: decision}
}

func safeDiv(num float64, denom int) float64 {
	if denom == 0 {
		return 0
	}
	return num / float64(denom)
}
