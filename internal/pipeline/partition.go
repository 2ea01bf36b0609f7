package pipeline

import (
	"context"
	"slices"

	"leaf-lesion-detector/internal/models"
	"leaf-lesion-detector/internal/processing/components"
	"leaf-lesion-detector/internal/processing/filters"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Partition writes Labels, LesionSizes, LesionArea, LesionPercentage and
// Stats.
//
// Lesion pixels are labeled 8-connected. A component's size counts only its
// pixels inside the leaf mask, in the leaf's working unit. Components at or
// below LesionSizeThreshold are noise. The background label and the exterior
// label never describe a lesion.
func (p *Pipeline) Partition(_ context.Context, leaf *models.Leaf) error {
	lesions, err := filters.Invert(leaf.LesionMask)
	if err != nil {
		return err
	}
	defer lesions.Close()

	labels, err := components.Label(lesions)
	if err != nil {
		return err
	}

	counts, err := labels.CountWithin(leaf.LeafMask)
	if err != nil {
		return err
	}

	sizes := make(map[int32]float64, len(counts))
	for label, pixels := range counts {
		if label == 0 || label == components.Exterior {
			continue
		}
		size := leaf.ToWorkingUnit(float64(pixels))
		if size <= leaf.LesionSizeThreshold {
			continue
		}
		sizes[label] = size
	}

	keys := make([]int32, 0, len(sizes))
	for label := range sizes {
		keys = append(keys, label)
	}
	slices.Sort(keys)

	values := make([]float64, len(keys))
	for i, label := range keys {
		values[i] = sizes[label]
	}

	leaf.Labels = labels
	leaf.LesionSizes = sizes
	leaf.LesionArea = floats.Sum(values)
	leaf.LesionPercentage = percentage(leaf.LesionArea, leaf.LeafArea())
	leaf.Stats = models.LesionStats{Count: len(values)}
	if len(values) > 0 {
		leaf.Stats.Min = floats.Min(values)
		leaf.Stats.Max = floats.Max(values)
		leaf.Stats.Mean = stat.Mean(values, nil)
	}
	leaf.Status = models.Partitioned

	p.logger.Debug("Partitioner", "lesions partitioned", map[string]interface{}{
		"leaf":       leaf.Name,
		"components": labels.Count,
		"kept":       len(values),
		"area":       leaf.LesionArea,
	})
	return nil
}

// percentage is 100*part/whole, and 0 for an empty whole.
func percentage(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return 100 * part / whole
}
