package pipeline

import (
	"context"
	"image"

	"leaf-lesion-detector/internal/models"
	"leaf-lesion-detector/internal/opencv/safe"
	"leaf-lesion-detector/internal/processing/contour"
	"leaf-lesion-detector/internal/processing/threshold"

	"gocv.io/x/gocv"
)

// SegmentLeaf writes LeafMask and LeafPixels.
//
// The coarse colour mask is smoothed, its boundary is traced at three
// iso-levels, the wide contours are drawn on a blank canvas and the canvas
// is flood filled from its centre. An empty coarse mask gives an empty leaf.
func (p *Pipeline) SegmentLeaf(ctx context.Context, leaf *models.Leaf) error {
	profile, err := p.profileFor(leaf)
	if err != nil {
		return err
	}

	raw, err := threshold.Apply(leaf.Source, profile.LeafArea)
	if err != nil {
		return err
	}
	coarse, err := smooth(ctx, raw, p.profiles.MedianBlurSize.LeafArea)
	raw.Close()
	if err != nil {
		return err
	}

	if coarse.CountNonZero() == 0 {
		leaf.LeafMask = coarse
		leaf.LeafPixels = 0
		leaf.Status = models.LeafSegmented

		p.logger.Warning("LeafSegmenter", "no leaf coloured pixels", map[string]interface{}{
			"leaf": leaf.Name,
		})
		return nil
	}
	defer coarse.Close()

	rows, cols := leaf.Source.Rows(), leaf.Source.Cols()

	contours, err := contour.Trace(ctx, coarse, profile.LeafArea.ContourLevel, minContourWidth(rows))
	if err != nil {
		return err
	}
	defer contours.Close()

	canvas, err := safe.NewMat(rows, cols, gocv.MatTypeCV8UC1, "leaf_canvas")
	if err != nil {
		return err
	}
	defer canvas.Close()

	if err := contours.Draw(canvas, contour.White, 1); err != nil {
		return err
	}

	if contours.Len() == 0 {
		// The fill below then covers the whole image.
		p.logger.Warning("LeafSegmenter", "no boundary contour survived the width filter", map[string]interface{}{
			"leaf":      leaf.Name,
			"min_width": minContourWidth(rows),
		})
	}

	mask, err := contour.FloodFill(canvas, image.Pt(cols/2, rows/2))
	if err != nil {
		return err
	}

	leaf.LeafMask = mask
	leaf.LeafPixels = mask.CountNonZero()
	leaf.Status = models.LeafSegmented

	p.logger.Debug("LeafSegmenter", "leaf segmented", map[string]interface{}{
		"leaf":     leaf.Name,
		"contours": contours.Len(),
		"pixels":   leaf.LeafPixels,
	})
	return nil
}
