package contour

import (
	"context"
	"fmt"
	"image/color"

	"leaf-lesion-detector/internal/opencv/safe"
	"leaf-lesion-detector/internal/processing/chain"
	"leaf-lesion-detector/internal/processing/filters"

	"gocv.io/x/gocv"
)

// LevelSpread is the offset of the outer iso-levels from the centre level.
const LevelSpread = 10

var (
	White = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	Black = color.RGBA{A: 255}
)

// Set is a group of contours traced from one image. Close releases the
// native point vectors.
type Set struct {
	vectors []gocv.PointsVector
	kept    [][]int
}

// Trace equalizes src, binarizes it at level-10, level and level+10, and
// collects every contour whose bounding box is at least minWidth wide.
func Trace(ctx context.Context, src *safe.Mat, level, minWidth int) (*Set, error) {
	prep := chain.NewProcessingChain(
		filters.NewGrayscaleConverter(),
		filters.NewHistogramEqualizer(),
	)

	equalized, err := prep.Execute(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("contour preparation: %w", err)
	}
	defer equalized.Close()

	set := &Set{}
	for _, l := range []int{level - LevelSpread, level, level + LevelSpread} {
		binary := gocv.NewMat()
		gocv.Threshold(equalized.GetMat(), &binary, float32(l), 255, gocv.ThresholdBinary)

		contours := gocv.FindContours(binary, gocv.RetrievalList, gocv.ChainApproxNone)
		binary.Close()

		var kept []int
		for i := 0; i < contours.Size(); i++ {
			if gocv.BoundingRect(contours.At(i)).Dx() >= minWidth {
				kept = append(kept, i)
			}
		}

		set.vectors = append(set.vectors, contours)
		set.kept = append(set.kept, kept)
	}

	return set, nil
}

// Len is the number of contours that passed the width filter.
func (s *Set) Len() int {
	n := 0
	for _, kept := range s.kept {
		n += len(kept)
	}
	return n
}

// Draw strokes every kept contour onto dst.
func (s *Set) Draw(dst *safe.Mat, c color.RGBA, thickness int) error {
	return dst.Update(func(m *gocv.Mat) {
		for v, kept := range s.kept {
			for _, i := range kept {
				gocv.DrawContours(m, s.vectors[v], i, c, thickness)
			}
		}
	})
}

func (s *Set) Close() {
	for _, v := range s.vectors {
		v.Close()
	}
	s.vectors = nil
	s.kept = nil
}

// Outline draws the external contours of a binary mask onto dst.
func Outline(mask, dst *safe.Mat, c color.RGBA, thickness int) error {
	if err := safe.ValidateSameSize(mask, dst, "outline"); err != nil {
		return err
	}

	contours := gocv.FindContours(mask.GetMat(), gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	return dst.Update(func(m *gocv.Mat) {
		gocv.DrawContours(m, contours, -1, c, thickness)
	})
}
