package detector

import (
	"context"
	"errors"
	"testing"

	"github.com/otherjamesbrown/metacam-ingest/pkg/logging"
)

type fakeRuntime struct {
	failDetection   bool
	failSegmentation bool
	detections      [][]Detection
	segmentations   [][]Segmentation
}

func (f *fakeRuntime) LoadDetectionModel(ctx context.Context, name string, cfg Config) error {
	if f.failDetection {
		return errors.New("model file not found")
	}
	return nil
}

func (f *fakeRuntime) LoadSegmentationModel(ctx context.Context, name string, cfg Config) error {
	if f.failSegmentation {
		return errors.New("segmentation model unavailable")
	}
	return nil
}

func (f *fakeRuntime) Detect(ctx context.Context, frames [][]byte) ([][]Detection, error) {
	return f.detections, nil
}

func (f *fakeRuntime) Segment(ctx context.Context, frames [][]byte) ([][]Segmentation, error) {
	return f.segmentations, nil
}

func TestNew_DetectionModelFailureIsFatal(t *testing.T) {
	rt := &fakeRuntime{failDetection: true}
	_, err := New(context.Background(), rt, DefaultConfig("yolo-metacam"), logging.NewNopLogger())
	if err == nil {
		t.Fatal("expected error when detection model fails to load")
	}
}

func TestNew_SegmentationFailureDegradesGracefully(t *testing.T) {
	rt := &fakeRuntime{failSegmentation: true}
	f, err := New(context.Background(), rt, DefaultConfig("yolo-metacam"), logging.NewNopLogger())
	if err != nil {
		t.Fatalf("expected successful degraded init, got %v", err)
	}
	if !f.Degraded() {
		t.Error("expected facade to report degraded mode")
	}
}

func TestSegment_DegradedModeReturnsEmptyMasks(t *testing.T) {
	rt := &fakeRuntime{
		failSegmentation: true,
		detections: [][]Detection{
			{{Class: ClassPerson, Confidence: 0.9, BBox: BBox{0.1, 0.1, 0.5, 0.5}}},
		},
	}
	f, err := New(context.Background(), rt, DefaultConfig("yolo-metacam"), logging.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}

	segs, err := f.Segment(context.Background(), [][]byte{{0x01}})
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 1 || len(segs[0]) != 1 {
		t.Fatalf("expected one frame with one segmentation, got %+v", segs)
	}
	if segs[0][0].Mask != nil {
		t.Error("expected nil mask in degraded mode")
	}
}

func TestDetect_FiltersToRetainedClasses(t *testing.T) {
	rt := &fakeRuntime{
		detections: [][]Detection{
			{
				{Class: ClassPerson, Confidence: 0.9},
				{Class: 2, Confidence: 0.9}, // car, should be filtered
				{Class: ClassDog, Confidence: 0.8},
			},
		},
	}
	f, err := New(context.Background(), rt, DefaultConfig("yolo-metacam"), logging.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}

	results, err := f.Detect(context.Background(), [][]byte{{0x01}})
	if err != nil {
		t.Fatal(err)
	}
	if len(results[0]) != 2 {
		t.Fatalf("expected 2 retained detections, got %d", len(results[0]))
	}
}
