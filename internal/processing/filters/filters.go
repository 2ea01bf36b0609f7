package filters

import (
	"context"
	"fmt"

	"leaf-lesion-detector/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// HistogramEqualizer spreads a grayscale image over the full intensity range.
// A two-valued mask keeps 0 and 255 unchanged.
type HistogramEqualizer struct{}

func NewHistogramEqualizer() *HistogramEqualizer {
	return &HistogramEqualizer{}
}

func (h *HistogramEqualizer) Name() string {
	return "histogram_equalizer"
}

func (h *HistogramEqualizer) ShouldExecute() bool {
	return true
}

func (h *HistogramEqualizer) Apply(ctx context.Context, input *safe.Mat) (*safe.Mat, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if err := safe.ValidateChannels(input, 1, "histogram equalization"); err != nil {
		return nil, err
	}

	dst := gocv.NewMat()
	gocv.EqualizeHist(input.GetMat(), &dst)

	return safe.Adopt(dst, input.Tag()+"_equalized")
}

// MedianFilter removes speckle noise from masks. Kernel sizes of 1 or less
// disable the filter.
type MedianFilter struct {
	size int
}

func NewMedianFilter(size int) *MedianFilter {
	return &MedianFilter{size: size}
}

func (m *MedianFilter) Name() string {
	return fmt.Sprintf("median_filter_%d", m.size)
}

func (m *MedianFilter) ShouldExecute() bool {
	return m.size > 1
}

func (m *MedianFilter) Apply(ctx context.Context, input *safe.Mat) (*safe.Mat, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if err := safe.ValidateMatForOperation(input, "median filter"); err != nil {
		return nil, err
	}
	if m.size%2 == 0 {
		return nil, fmt.Errorf("median kernel size must be odd, got %d", m.size)
	}

	dst := gocv.NewMat()
	gocv.MedianBlur(input.GetMat(), &dst, m.size)

	return safe.Adopt(dst, input.Tag()+"_median")
}

// Invert swaps foreground and background of a binary mask.
func Invert(src *safe.Mat) (*safe.Mat, error) {
	if err := safe.ValidateChannels(src, 1, "mask inversion"); err != nil {
		return nil, err
	}

	dst := gocv.NewMat()
	gocv.BitwiseNot(src.GetMat(), &dst)

	return safe.Adopt(dst, src.Tag()+"_inverted")
}

// CountAndNot counts pixels set in a and clear in b.
func CountAndNot(a, b *safe.Mat) (int, error) {
	if err := safe.ValidateSameSize(a, b, "mask difference"); err != nil {
		return 0, err
	}

	notB := gocv.NewMat()
	defer notB.Close()
	gocv.BitwiseNot(b.GetMat(), &notB)

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.BitwiseAnd(a.GetMat(), notB, &diff)

	return gocv.CountNonZero(diff), nil
}
