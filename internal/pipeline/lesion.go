package pipeline

import (
	"context"

	"leaf-lesion-detector/internal/models"
	"leaf-lesion-detector/internal/processing/contour"
	"leaf-lesion-detector/internal/processing/filters"
	"leaf-lesion-detector/internal/processing/threshold"
)

// SegmentLesion writes LesionMask and RawLesionPixels.
//
// LesionMask is 255 on healthy tissue and 0 elsewhere. The value bound of
// the lesion profile is replaced by MinimumLesionValue, and the leaf
// boundary is stroked as healthy so edge artifacts are not read as lesions.
func (p *Pipeline) SegmentLesion(ctx context.Context, leaf *models.Leaf) error {
	profile, err := p.profileFor(leaf)
	if err != nil {
		return err
	}

	bounds := profile.LesionArea
	bounds.MinValue = leaf.MinimumLesionValue

	raw, err := threshold.Apply(leaf.Source, bounds)
	if err != nil {
		return err
	}
	healthy, err := smooth(ctx, raw, p.profiles.MedianBlurSize.LesionArea)
	raw.Close()
	if err != nil {
		return err
	}

	contours, err := contour.Trace(ctx, leaf.LeafMask, profile.LesionArea.ContourLevel, minContourWidth(leaf.Source.Rows()))
	if err != nil {
		healthy.Close()
		return err
	}
	defer contours.Close()

	if err := contours.Draw(healthy, contour.White, p.profiles.ContourThickness); err != nil {
		healthy.Close()
		return err
	}

	lesionPixels, err := filters.CountAndNot(leaf.LeafMask, healthy)
	if err != nil {
		healthy.Close()
		return err
	}

	leaf.LesionMask = healthy
	leaf.RawLesionPixels = lesionPixels
	leaf.Status = models.LesionSegmented

	p.logger.Debug("LesionSegmenter", "lesion mask built", map[string]interface{}{
		"leaf":          leaf.Name,
		"threshold":     leaf.MinimumLesionValue,
		"lesion_pixels": lesionPixels,
	})
	return nil
}
