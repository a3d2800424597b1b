// Package detector wraps an external vision model runtime behind a
// facade that degrades gracefully when the segmentation model is
// unavailable. The runtime itself (model loading, inference) is an
// external collaborator out of scope for this module; only the
// contract and fallback state machine live here.
package detector

import (
	"context"
	"fmt"

	"github.com/otherjamesbrown/metacam-ingest/pkg/logging"
)

// Detection is a single classified bounding box.
type Detection struct {
	Class      int
	Confidence float64
	BBox       BBox
}

// Segmentation is a single classified bounding box with a pixel mask.
// Mask is nil in degraded mode.
type Segmentation struct {
	Class      int
	Confidence float64
	BBox       BBox
	Mask       []byte
}

// BBox is a normalized [0,1] bounding box.
type BBox struct {
	X1, Y1, X2, Y2 float64
}

// Retained classes: only person and dog survive filtering downstream.
const (
	ClassPerson = 0
	ClassDog    = 16
)

// ModelRuntime is the external vision backend this facade drives. A
// concrete implementation (ONNX runtime binding, remote inference
// service, etc.) is out of scope for this module.
type ModelRuntime interface {
	LoadDetectionModel(ctx context.Context, name string, cfg Config) error
	LoadSegmentationModel(ctx context.Context, name string, cfg Config) error
	Detect(ctx context.Context, frames [][]byte) ([][]Detection, error)
	Segment(ctx context.Context, frames [][]byte) ([][]Segmentation, error)
}

// Config configures both the detection and segmentation models.
type Config struct {
	ModelName            string
	ConfidenceThreshold  float64
	DeviceHint           string // "cpu", "cuda", or an integer device index as a string
	DetectionBatchSize   int
	SegmentationBatchSize int
}

// DefaultConfig returns production defaults.
func DefaultConfig(modelName string) Config {
	return Config{
		ModelName:             modelName,
		ConfidenceThreshold:   0.4,
		DeviceHint:            "cpu",
		DetectionBatchSize:    16,
		SegmentationBatchSize: 8,
	}
}

// Facade wraps a ModelRuntime and implements the load/fallback
// sequencing: a detection model failure is fatal, a segmentation model
// failure degrades to detection-only mode with empty masks.
type Facade struct {
	runtime  ModelRuntime
	cfg      Config
	logger   logging.Logger
	degraded bool
}

// New loads the detection model (fatal on failure) and attempts to load
// the segmentation model (name plus "-seg" suffix by convention),
// falling back to detection-only mode on failure.
func New(ctx context.Context, runtime ModelRuntime, cfg Config, logger logging.Logger) (*Facade, error) {
	if err := runtime.LoadDetectionModel(ctx, cfg.ModelName, cfg); err != nil {
		return nil, fmt.Errorf("detector: loading detection model %q: %w", cfg.ModelName, err)
	}

	f := &Facade{runtime: runtime, cfg: cfg, logger: logger}

	segModel := cfg.ModelName + "-seg"
	if err := runtime.LoadSegmentationModel(ctx, segModel, cfg); err != nil {
		f.degraded = true
		if logger != nil {
			logger.Warn("segmentation model unavailable, falling back to detection-only mode",
				logging.F("model", segModel), logging.F("error", err.Error()))
		}
	}

	return f, nil
}

// Degraded reports whether the facade is running without a
// segmentation model.
func (f *Facade) Degraded() bool {
	return f.degraded
}

// Detect runs detection on a batch of frames and filters to the
// retained classes (person, dog).
func (f *Facade) Detect(ctx context.Context, frames [][]byte) ([][]Detection, error) {
	results, err := f.runtime.Detect(ctx, frames)
	if err != nil {
		return nil, fmt.Errorf("detector: detect: %w", err)
	}
	for i, frame := range results {
		results[i] = filterDetections(frame)
	}
	return results, nil
}

// Segment runs segmentation on a batch of frames. In degraded mode it
// returns detection results with empty masks instead of calling the
// runtime, logging a critical-severity warning on every call so the
// degraded state stays visible in production logs.
func (f *Facade) Segment(ctx context.Context, frames [][]byte) ([][]Segmentation, error) {
	if f.degraded {
		if f.logger != nil {
			f.logger.Error("segmentation requested while in degraded (detection-only) mode", logging.F("frames", len(frames)))
		}
		detections, err := f.Detect(ctx, frames)
		if err != nil {
			return nil, err
		}
		return toEmptyMaskSegmentations(detections), nil
	}

	results, err := f.runtime.Segment(ctx, frames)
	if err != nil {
		return nil, fmt.Errorf("detector: segment: %w", err)
	}
	for i, frame := range results {
		results[i] = filterSegmentations(frame)
	}
	return results, nil
}

func filterDetections(in []Detection) []Detection {
	var out []Detection
	for _, d := range in {
		if d.Class == ClassPerson || d.Class == ClassDog {
			out = append(out, d)
		}
	}
	return out
}

func filterSegmentations(in []Segmentation) []Segmentation {
	var out []Segmentation
	for _, s := range in {
		if s.Class == ClassPerson || s.Class == ClassDog {
			out = append(out, s)
		}
	}
	return out
}

func toEmptyMaskSegmentations(detections [][]Detection) [][]Segmentation {
	out := make([][]Segmentation, len(detections))
	for i, frame := range detections {
		segs := make([]Segmentation, len(frame))
		for j, d := range frame {
			segs[j] = Segmentation{Class: d.Class, Confidence: d.Confidence, BBox: d.BBox, Mask: nil}
		}
		out[i] = segs
	}
	return out
}
