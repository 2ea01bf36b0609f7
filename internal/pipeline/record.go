package pipeline

import (
	"fmt"
	"image"

	"leaf-lesion-detector/internal/models"
	"leaf-lesion-detector/internal/opencv/conversion"
	"leaf-lesion-detector/internal/opencv/safe"
)

// NewRecord snapshots a measured leaf. The record holds its own image
// copies and stays valid after the leaf is closed.
func NewRecord(leaf *models.Leaf) (*models.Record, error) {
	if leaf.Status != models.Measured {
		return nil, fmt.Errorf("leaf %q is %s, not measured", leaf.Name, leaf.Status)
	}

	r := &models.Record{
		Key:                 leaf.Key,
		Name:                leaf.Name,
		Background:          leaf.Background.String(),
		LesionPercentage:    leaf.LesionPercentage,
		LeafAreaPixels:      leaf.LeafPixels,
		LesionCount:         leaf.Stats.Count,
		Duration:            leaf.RunTime,
		IntensityThreshold:  leaf.MinimumLesionValue,
		LesionSizeThreshold: leaf.LesionSizeThreshold,
	}

	if area, ok := leaf.LesionAreaPhysical(); ok {
		r.LesionAreaPhysical = &area
	}
	if area, ok := leaf.LeafAreaPhysical(); ok {
		r.LeafAreaPhysical = &area
	}
	if min, max, mean, ok := leaf.Stats.Sizes(); ok {
		r.MinLesionSize = &min
		r.MaxLesionSize = &max
		r.MeanLesionSize = &mean
	}

	images := []struct {
		src *safe.Mat
		dst *image.Image
	}{
		{leaf.LeafMask, &r.LeafMask},
		{leaf.LesionMask, &r.LesionMask},
		{leaf.ReferenceMask, &r.ReferenceMask},
		{leaf.Composite, &r.Composite},
	}
	for _, im := range images {
		if im.src == nil {
			continue
		}
		img, err := conversion.MatToImage(im.src)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", leaf.Name, err)
		}
		*im.dst = img
	}

	return r, nil
}
