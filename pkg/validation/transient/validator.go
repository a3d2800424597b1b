// Package transient implements the Transient Obstacle Validator: it
// samples a MetaCam package's stereo camera image sequence through the
// object detector facade and scores the result via the transient
// metrics engine. It is a no-op pass when no camera image sequence is
// present, and never vetoes the MetaCam Validator's own verdict on its
// own — that composition happens one layer up.
package transient

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/otherjamesbrown/metacam-ingest/pkg/detector"
	"github.com/otherjamesbrown/metacam-ingest/pkg/logging"
	"github.com/otherjamesbrown/metacam-ingest/pkg/metadatadesc"
	"github.com/otherjamesbrown/metacam-ingest/pkg/regionweights"
	"github.com/otherjamesbrown/metacam-ingest/pkg/sampling"
	"github.com/otherjamesbrown/metacam-ingest/pkg/transientmetrics"
	"github.com/otherjamesbrown/metacam-ingest/pkg/validation"
)

const validatorTypeName = "Transient"

// supportedImageExts are the image formats considered part of a camera
// frame sequence.
var supportedImageExts = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".bmp": {},
}

// maxCameraDirDepth bounds how deep the camera/left or camera/right
// directory search descends below root.
const maxCameraDirDepth = 2

// RuntimeFactory constructs the external vision model backend for one
// validation run. The concrete backend (ONNX runtime binding, remote
// inference service) is out of scope for this module; production
// wiring supplies a factory, tests supply a fake.
type RuntimeFactory func(ctx context.Context) (detector.ModelRuntime, error)

// Validator implements validation.BaseValidator for the transient
// obstacle assessment.
type Validator struct {
	newRuntime RuntimeFactory
	modelName  string
	weights    *regionweights.Map
	logger     logging.Logger
}

// New returns a Transient Obstacle Validator. weights may be nil, in
// which case the default 32x32 region weight map is built lazily.
func New(newRuntime RuntimeFactory, modelName string, weights *regionweights.Map, logger logging.Logger) *Validator {
	return &Validator{newRuntime: newRuntime, modelName: modelName, weights: weights, logger: logger}
}

// SupportedFormats reports the single format name this validator handles.
func (v *Validator) SupportedFormats() map[string]struct{} {
	return map[string]struct{}{"metacam": {}}
}

// Validate runs the transient obstacle assessment, or a documented
// skip when no camera image sequence is present.
func (v *Validator) Validate(rootPath string, level validation.Level) (result validation.Result) {
	defer func() {
		if r := recover(); r != nil {
			result = validation.Result{
				IsValid:       false,
				Score:         0,
				ValidatorType: validatorTypeName,
				Summary:       validation.TruncateSummary("transient validator panicked"),
				Errors: []validation.Issue{{
					Code: "INTERNAL_ERROR", Message: toString(r), Severity: validation.SeverityCritical,
				}},
				Metadata: map[string]any{"skipped": false},
			}
		}
	}()

	images := discoverImageSequence(rootPath)
	if len(images) == 0 {
		return validation.Result{
			IsValid:       true,
			Score:         100,
			ValidatorType: validatorTypeName,
			Summary:       "no camera image sequence present, transient assessment skipped",
			Metadata:      map[string]any{"skipped": true},
		}
	}

	ctx := context.Background()
	runtime, err := v.newRuntime(ctx)
	if err != nil {
		return validation.Result{
			IsValid:       false,
			Score:         0,
			ValidatorType: validatorTypeName,
			Summary:       validation.TruncateSummary("model runtime unavailable: " + err.Error()),
			Errors: []validation.Issue{{
				Code: "RUNTIME_UNAVAILABLE", Message: err.Error(), Severity: validation.SeverityCritical,
			}},
			Metadata: map[string]any{"skipped": false},
		}
	}

	cfg := detector.DefaultConfig(v.modelName)
	facade, err := detector.New(ctx, runtime, cfg, v.logger)
	if err != nil {
		return validation.Result{
			IsValid:       false,
			Score:         0,
			ValidatorType: validatorTypeName,
			Summary:       validation.TruncateSummary("detector initialization failed: " + err.Error()),
			Errors: []validation.Issue{{
				Code: "DETECTOR_INIT_FAILED", Message: err.Error(), Severity: validation.SeverityCritical,
			}},
			Metadata: map[string]any{"skipped": false},
		}
	}

	weights := v.weights
	if weights == nil {
		w, err := regionweights.Build(regionweights.DefaultConfig())
		if err != nil {
			return validation.Result{
				IsValid:       false,
				Score:         0,
				ValidatorType: validatorTypeName,
				Summary:       validation.TruncateSummary("region weight map build failed: " + err.Error()),
				Errors: []validation.Issue{{
					Code: "INTERNAL_ERROR", Message: err.Error(), Severity: validation.SeverityCritical,
				}},
				Metadata: map[string]any{"skipped": false},
			}
		}
		weights = w
	}

	preset := scenePreset(rootPath)
	engine := transientmetrics.New(weights, preset)

	plan := sampling.Plan(len(images))
	earlyTerminated := runAssessment(ctx, facade, engine, images, plan, cfg)

	assessment := engine.Finalize(earlyTerminated)

	score, errs, warns := scoreDecision(assessment.Decision)
	isValid := validation.EvaluateLevel(level, errs, score)

	return validation.Result{
		IsValid:       isValid,
		Score:         score,
		Errors:        errs,
		Warnings:      warns,
		Summary:       validation.TruncateSummary(summarizeDecision(assessment.Decision, assessment.EarlyTerminated)),
		ValidatorType: validatorTypeName,
		Metadata: map[string]any{
			"skipped": false,
			"metrics": map[string]any{
				"wdd": assessment.Metrics.WDD,
				"wpo": assessment.Metrics.WPO,
				"sai": assessment.Metrics.SAI,
			},
			"decision":         assessment.Decision,
			"early_terminated": assessment.EarlyTerminated,
			"degraded":         facade.Degraded(),
		},
	}
}

// runAssessment feeds the sampled detection and segmentation frames
// through the facade in configured batch sizes, checking for early
// termination between batches. It returns whether it stopped early.
func runAssessment(ctx context.Context, facade *detector.Facade, engine *transientmetrics.Engine, images []string, plan sampling.Plan, cfg detector.Config) bool {
	detFrames := sampleFrames(images, plan.DetectionStride, plan.DetectionFrames)
	for _, batch := range batchPaths(detFrames, cfg.DetectionBatchSize) {
		raw, err := readAll(batch)
		if err != nil {
			continue
		}
		results, err := facade.Detect(ctx, raw)
		if err != nil {
			continue
		}
		for _, frame := range results {
			engine.AddDetectionFrame(toFrameDetections(frame))
		}
		if engine.ShouldTerminateEarly() {
			return true
		}
	}

	segFrames := sampleFrames(images, plan.SegmentationStride, plan.SegmentationFrames)
	for _, batch := range batchPaths(segFrames, cfg.SegmentationBatchSize) {
		raw, err := readAll(batch)
		if err != nil {
			continue
		}
		results, err := facade.Segment(ctx, raw)
		if err != nil {
			continue
		}
		for _, frame := range results {
			engine.AddSegmentationFrame(toFrameSegmentation(frame))
		}
		if engine.ShouldTerminateEarly() {
			return true
		}
	}

	return false
}

func sampleFrames(images []string, stride, count int) []string {
	if stride <= 0 || count <= 0 {
		return nil
	}
	out := make([]string, 0, count)
	for i := 0; i < len(images) && len(out) < count; i += stride {
		out = append(out, images[i])
	}
	return out
}

func batchPaths(paths []string, batchSize int) [][]string {
	if batchSize <= 0 {
		batchSize = len(paths)
	}
	var out [][]string
	for i := 0; i < len(paths); i += batchSize {
		end := i + batchSize
		if end > len(paths) {
			end = len(paths)
		}
		out = append(out, paths[i:end])
	}
	return out
}

func readAll(paths []string) ([][]byte, error) {
	out := make([][]byte, 0, len(paths))
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func toFrameDetections(dets []detector.Detection) transientmetrics.FrameDetections {
	boxes := make([]transientmetrics.BBox, len(dets))
	for i, d := range dets {
		boxes[i] = transientmetrics.BBox{X1: d.BBox.X1, Y1: d.BBox.Y1, X2: d.BBox.X2, Y2: d.BBox.Y2}
	}
	return transientmetrics.FrameDetections{Detections: boxes}
}

func toFrameSegmentation(segs []detector.Segmentation) transientmetrics.FrameSegmentation {
	masks := make([]transientmetrics.MaskResult, len(segs))
	for i, s := range segs {
		masks[i] = transientmetrics.MaskResult{
			Class:    s.Class,
			BBox:     transientmetrics.BBox{X1: s.BBox.X1, Y1: s.BBox.Y1, X2: s.BBox.X2, Y2: s.BBox.Y2},
			MaskArea: maskAreaFraction(s.Mask),
		}
	}
	return transientmetrics.FrameSegmentation{Masks: masks}
}

// maskAreaFraction estimates the fraction of the frame a pixel mask
// covers from the non-zero byte density of its opaque encoding, since
// the mask's actual pixel format is defined by the external model
// runtime and out of scope here. A nil mask (degraded mode) yields 0.
func maskAreaFraction(mask []byte) float64 {
	if len(mask) == 0 {
		return 0
	}
	nonZero := 0
	for _, b := range mask {
		if b != 0 {
			nonZero++
		}
	}
	return float64(nonZero) / float64(len(mask))
}

// scenePreset determines the indoor/outdoor preset from the package's
// recording descriptor, defaulting to the neutral preset when the
// descriptor is missing or unparsable — the transient validator must
// not fail the run over a metadata problem the MetaCam Validator
// already reports.
func scenePreset(root string) transientmetrics.ScenePreset {
	raw, err := os.ReadFile(filepath.Join(root, "metadata.yaml"))
	if err != nil {
		return transientmetrics.PresetDefault
	}
	desc, err := metadatadesc.Parse(raw, "")
	if err != nil {
		return transientmetrics.PresetDefault
	}
	if desc.IsOutdoor() {
		return transientmetrics.PresetOutdoor
	}
	return transientmetrics.PresetIndoor
}

// discoverImageSequence finds a camera/left or camera/right directory
// up to maxCameraDirDepth below root and returns its supported image
// files in lexical order. When both left and right are present, left's
// frames are evaluated first, then right's.
func discoverImageSequence(root string) []string {
	dirs := discoverCameraDirs(root)
	var out []string
	for _, dir := range dirs {
		out = append(out, listImages(dir)...)
	}
	return out
}

func discoverCameraDirs(root string) []string {
	var found []string
	var walk func(dir string, depth int)
	walk = func(dir string, depth int) {
		if depth > maxCameraDirDepth {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			full := filepath.Join(dir, e.Name())
			rel, err := filepath.Rel(root, full)
			if err == nil {
				relLower := strings.ToLower(filepath.ToSlash(rel))
				if strings.HasSuffix(relLower, "camera/left") || strings.HasSuffix(relLower, "camera/right") {
					found = append(found, full)
				}
			}
			walk(full, depth+1)
		}
	}
	walk(root, 0)
	sort.Strings(found)
	return found
}

func listImages(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if _, ok := supportedImageExts[ext]; ok {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = filepath.Join(dir, n)
	}
	return out
}

// scoreDecision maps a transient metrics decision to a validation score
// and issue list. PASS scores full marks, NEED_REVIEW is reported as a
// warning at a middling score, REJECT as a critical error at zero —
// this mapping is a documented decision, not stated verbatim by the
// source material.
func scoreDecision(decision transientmetrics.Decision) (float64, []validation.Issue, []validation.Issue) {
	switch decision {
	case transientmetrics.DecisionPass:
		return 100, nil, nil
	case transientmetrics.DecisionNeedReview:
		return 60, nil, []validation.Issue{{
			Code: "TRANSIENT_NEEDS_REVIEW", Message: "transient obstacle metrics fall in the review band", Severity: validation.SeverityWarning,
		}}
	default:
		return 0, []validation.Issue{{
			Code: "TRANSIENT_REJECTED", Message: "transient obstacle metrics exceed the reject threshold", Severity: validation.SeverityCritical,
		}}, nil
	}
}

func summarizeDecision(decision transientmetrics.Decision, earlyTerminated bool) string {
	if earlyTerminated {
		return "transient assessment rejected early: running metrics exceeded the early-termination limit"
	}
	return "transient obstacle assessment decision: " + string(decision)
}

func toString(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	return "panic"
}
