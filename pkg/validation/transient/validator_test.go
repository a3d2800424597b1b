package transient

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/otherjamesbrown/metacam-ingest/pkg/detector"
	"github.com/otherjamesbrown/metacam-ingest/pkg/validation"
)

type fakeRuntime struct {
	detection detector.Detection
	perFrame  int
}

func (f *fakeRuntime) LoadDetectionModel(ctx context.Context, name string, cfg detector.Config) error {
	return nil
}
func (f *fakeRuntime) LoadSegmentationModel(ctx context.Context, name string, cfg detector.Config) error {
	return nil
}
func (f *fakeRuntime) Detect(ctx context.Context, frames [][]byte) ([][]detector.Detection, error) {
	out := make([][]detector.Detection, len(frames))
	for i := range frames {
		var dets []detector.Detection
		for j := 0; j < f.perFrame; j++ {
			dets = append(dets, f.detection)
		}
		out[i] = dets
	}
	return out, nil
}
func (f *fakeRuntime) Segment(ctx context.Context, frames [][]byte) ([][]detector.Segmentation, error) {
	out := make([][]detector.Segmentation, len(frames))
	for i := range frames {
		out[i] = nil
	}
	return out, nil
}

func writeImages(t *testing.T, dir string, n int) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		name := filepath.Join(dir, "frame"+padded(i)+".jpg")
		if err := os.WriteFile(name, []byte{0xff, 0xd8}, 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func padded(n int) string {
	s := "000" + itoa(n)
	return s[len(s)-4:]
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestValidate_SkipsWhenNoCameraSequence(t *testing.T) {
	root := t.TempDir()
	v := New(func(ctx context.Context) (detector.ModelRuntime, error) {
		return &fakeRuntime{}, nil
	}, "yolo", nil, nil)

	res := v.Validate(root, validation.LevelStandard)
	if !res.IsValid {
		t.Fatal("expected a package with no camera sequence to not be vetoed")
	}
	if skipped, _ := res.Metadata["skipped"].(bool); !skipped {
		t.Error("expected skipped=true in metadata")
	}
}

func TestValidate_RuntimeFailureIsCriticalNotSkip(t *testing.T) {
	root := t.TempDir()
	writeImages(t, filepath.Join(root, "camera", "left"), 5)

	v := New(func(ctx context.Context) (detector.ModelRuntime, error) {
		return nil, errors.New("model backend unreachable")
	}, "yolo", nil, nil)

	res := v.Validate(root, validation.LevelLenient)
	if res.IsValid {
		t.Fatal("expected runtime failure to invalidate the result")
	}
	if res.Score != 0 {
		t.Errorf("expected score 0 on runtime failure, got %v", res.Score)
	}
	if skipped, _ := res.Metadata["skipped"].(bool); skipped {
		t.Error("runtime failure must not be reported as skipped")
	}
}

func TestValidate_LowDensityPasses(t *testing.T) {
	root := t.TempDir()
	writeImages(t, filepath.Join(root, "camera", "left"), 50)

	v := New(func(ctx context.Context) (detector.ModelRuntime, error) {
		return &fakeRuntime{perFrame: 0}, nil
	}, "yolo", nil, nil)

	res := v.Validate(root, validation.LevelStandard)
	if !res.IsValid {
		t.Fatalf("expected a clean sequence with zero detections to pass, got errors=%+v", res.Errors)
	}
	if res.Score != 100 {
		t.Errorf("expected score 100 for a PASS decision, got %v", res.Score)
	}
}

func TestValidate_HighDensityRejectsAndIsCritical(t *testing.T) {
	root := t.TempDir()
	writeImages(t, filepath.Join(root, "camera", "left"), 50)

	v := New(func(ctx context.Context) (detector.ModelRuntime, error) {
		return &fakeRuntime{
			perFrame:  60,
			detection: detector.Detection{Class: detector.ClassPerson, Confidence: 0.9, BBox: detector.BBox{X1: 0.4, Y1: 0.9, X2: 0.6, Y2: 1.0}},
		}, nil
	}, "yolo", nil, nil)

	res := v.Validate(root, validation.LevelLenient)
	if res.IsValid {
		t.Fatal("expected extreme detection density to reject")
	}
	found := false
	for _, e := range res.Errors {
		if e.Code == "TRANSIENT_REJECTED" && e.Severity == validation.SeverityCritical {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a critical TRANSIENT_REJECTED issue, got %+v", res.Errors)
	}
}

func TestDiscoverCameraDirs_FindsLeftAndRight(t *testing.T) {
	root := t.TempDir()
	writeImages(t, filepath.Join(root, "camera", "left"), 2)
	writeImages(t, filepath.Join(root, "camera", "right"), 3)

	images := discoverImageSequence(root)
	if len(images) != 5 {
		t.Fatalf("expected 5 images across left and right, got %d", len(images))
	}
}
