package pipeline

import (
	"context"
	"image/color"

	"leaf-lesion-detector/internal/models"
	"leaf-lesion-detector/internal/processing/contour"
)

var (
	leafOutlineColor   = color.RGBA{R: 255, G: 215, A: 255}
	lesionOutlineColor = color.RGBA{R: 255, A: 255}
)

// Annotate writes Composite: the source with the leaf outline and every kept
// lesion outlined. It completes a measurement.
func (p *Pipeline) Annotate(_ context.Context, leaf *models.Leaf) error {
	composite, err := leaf.Source.Clone()
	if err != nil {
		return err
	}

	if leaf.LeafPixels > 0 {
		if err := contour.Outline(leaf.LeafMask, composite, leafOutlineColor, 2); err != nil {
			composite.Close()
			return err
		}
	}

	if len(leaf.LesionSizes) > 0 {
		kept, err := leaf.Labels.Mask(leaf.LesionSizes, leaf.Name+"_lesions")
		if err != nil {
			composite.Close()
			return err
		}
		err = contour.Outline(kept, composite, lesionOutlineColor, 1)
		kept.Close()
		if err != nil {
			composite.Close()
			return err
		}
	}

	leaf.Composite = composite
	leaf.Status = models.Measured
	return nil
}
