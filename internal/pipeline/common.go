package pipeline

import (
	"context"
	"time"

	"leaf-lesion-detector/internal/opencv/safe"
	"leaf-lesion-detector/internal/processing/chain"
	"leaf-lesion-detector/internal/processing/filters"
)

// TimingTracker records per-stage durations.
type TimingTracker interface {
	StartTiming(ctx context.Context, stage string) context.Context
	EndTiming(ctx context.Context) time.Duration
}

type nopTracker struct{}

func (nopTracker) StartTiming(ctx context.Context, _ string) context.Context { return ctx }
func (nopTracker) EndTiming(context.Context) time.Duration                   { return 0 }

// Stage names used for timing and logging.
const (
	StageClassify  = "classify"
	StageCalibrate = "calibrate"
	StageLeaf      = "segment_leaf"
	StageLesion    = "segment_lesion"
	StagePartition = "partition"
	StageComposite = "composite"
)

// minContourWidth is the smallest bounding-box width, a quarter of the image
// height rounded up, that a boundary contour may have.
func minContourWidth(rows int) int {
	return (rows + 3) / 4
}

// smooth median-filters a mask into a new Mat. A size of 1 copies it.
func smooth(ctx context.Context, mask *safe.Mat, size int) (*safe.Mat, error) {
	return chain.NewProcessingChain(filters.NewMedianFilter(size)).Execute(ctx, mask)
}
