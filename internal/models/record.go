package models

import (
	"image"
	"strconv"
	"time"
)

// Record is the measurement handed to reporting collaborators, one per leaf.
// Optional values are nil when undefined: physical areas without a reference
// marker, size statistics without lesions.
type Record struct {
	Key                 string
	Name                string
	Background          string
	LesionPercentage    float64
	LesionAreaPhysical  *float64
	LeafAreaPixels      int
	LeafAreaPhysical    *float64
	LesionCount         int
	MinLesionSize       *float64
	MaxLesionSize       *float64
	MeanLesionSize      *float64
	Duration            time.Duration
	IntensityThreshold  int
	LesionSizeThreshold float64

	LeafMask      image.Image
	LesionMask    image.Image
	ReferenceMask image.Image
	Composite     image.Image
}

var recordHeader = []string{
	"key",
	"name",
	"background",
	"lesion_percentage",
	"lesion_area_physical",
	"leaf_area_pixels",
	"leaf_area_physical",
	"lesion_count",
	"min_lesion_size",
	"max_lesion_size",
	"mean_lesion_size",
	"run_time_seconds",
	"intensity_threshold",
	"lesion_size_threshold",
}

// Header names the columns of Row. The order is stable.
func Header() []string {
	return append([]string(nil), recordHeader...)
}

// Row renders the scalar fields in Header order. Undefined values are empty.
func (r *Record) Row() []string {
	return []string{
		r.Key,
		r.Name,
		r.Background,
		formatFloat(r.LesionPercentage),
		formatOptional(r.LesionAreaPhysical),
		strconv.Itoa(r.LeafAreaPixels),
		formatOptional(r.LeafAreaPhysical),
		strconv.Itoa(r.LesionCount),
		formatOptional(r.MinLesionSize),
		formatOptional(r.MaxLesionSize),
		formatOptional(r.MeanLesionSize),
		formatFloat(r.Duration.Seconds()),
		strconv.Itoa(r.IntensityThreshold),
		formatFloat(r.LesionSizeThreshold),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
