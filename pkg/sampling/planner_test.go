package sampling

import "testing"

func TestPlan_DetectionStrideThresholds(t *testing.T) {
	cases := []struct {
		n    int
		want int
	}{
		{150, 1},
		{200, 1},
		{400, 2},
		{500, 2},
		{900, 4},
		{1000, 4},
		{5000, 6},
	}
	for _, c := range cases {
		got := Plan(c.n).DetectionStride
		if got != c.want {
			t.Errorf("Plan(%d).DetectionStride = %d, want %d", c.n, got, c.want)
		}
	}
}

func TestPlan_SegmentationStrideIsAtLeastAsSparse(t *testing.T) {
	for _, n := range []int{50, 150, 400, 900, 5000} {
		p := Plan(n)
		if p.SegmentationStride < p.DetectionStride {
			t.Errorf("n=%d: segmentation stride %d is denser than detection stride %d", n, p.SegmentationStride, p.DetectionStride)
		}
	}
}

func TestPlan_FrameCountsAreCappedByAvailability(t *testing.T) {
	p := Plan(50) // s_d=1, only 50 frames available, far below the 200 target
	if p.DetectionFrames != 50 {
		t.Errorf("expected detection frames capped at 50, got %d", p.DetectionFrames)
	}

	p = Plan(100000) // plenty of frames, should hit the target caps
	if p.DetectionFrames != 200 {
		t.Errorf("expected detection frames at target 200, got %d", p.DetectionFrames)
	}
	if p.SegmentationFrames != 100 {
		t.Errorf("expected segmentation frames at target 100, got %d", p.SegmentationFrames)
	}
}

func TestPlan_ZeroFramesYieldsEmptyPlan(t *testing.T) {
	p := Plan(0)
	if p.DetectionFrames != 0 || p.SegmentationFrames != 0 {
		t.Errorf("expected zero frames for an empty clip, got %+v", p)
	}
}
