package pipeline

import (
	"context"
	"fmt"

	"leaf-lesion-detector/internal/config"
	"leaf-lesion-detector/internal/models"
	"leaf-lesion-detector/internal/processing/threshold"
)

// referenceFraction is the share of the image the marker must exceed to
// count as present.
const referenceFraction = 0.01

// ClassifyBackground writes Background unless it was forced by the caller.
func (p *Pipeline) ClassifyBackground(_ context.Context, leaf *models.Leaf) error {
	if !leaf.BackgroundForced {
		bg, err := threshold.Classify(leaf.Source)
		if err != nil {
			return err
		}
		leaf.Background = bg
	}

	if leaf.Background == config.Unclassified {
		return fmt.Errorf("leaf %q has no background", leaf.Name)
	}

	leaf.Status = models.Classified
	p.logger.Debug("Classifier", "background selected", map[string]interface{}{
		"leaf":       leaf.Name,
		"background": leaf.Background.String(),
		"forced":     leaf.BackgroundForced,
	})
	return nil
}

// Calibrate writes HasReference, ReferencePixels, AreaPerPixel and
// ReferenceMask. A missing marker is a normal outcome and leaves the
// physical fields undefined.
func (p *Pipeline) Calibrate(ctx context.Context, leaf *models.Leaf) error {
	profile, err := p.profileFor(leaf)
	if err != nil {
		return err
	}

	raw, err := threshold.Apply(leaf.Source, profile.ReferenceArea)
	if err != nil {
		return err
	}
	defer raw.Close()

	pixels := raw.CountNonZero()
	total := leaf.Source.Rows() * leaf.Source.Cols()

	if float64(pixels) <= referenceFraction*float64(total) {
		leaf.HasReference = false
		leaf.ReferencePixels = 0
		leaf.AreaPerPixel = 0
		leaf.Status = models.Uncalibrated

		p.logger.Debug("Calibrator", "no reference marker", map[string]interface{}{
			"leaf":   leaf.Name,
			"pixels": pixels,
		})
		return nil
	}

	smoothed, err := smooth(ctx, raw, p.profiles.MedianBlurSize.ReferenceArea)
	if err != nil {
		return err
	}

	leaf.ReferenceMask = smoothed
	leaf.HasReference = true
	leaf.ReferencePixels = float64(pixels)
	leaf.AreaPerPixel = p.profiles.ReferenceAreaPhysical / float64(pixels)
	leaf.Status = models.Calibrated

	p.logger.Debug("Calibrator", "reference marker found", map[string]interface{}{
		"leaf":           leaf.Name,
		"pixels":         pixels,
		"area_per_pixel": leaf.AreaPerPixel,
	})
	return nil
}
