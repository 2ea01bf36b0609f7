package models

import (
	"fmt"
	"slices"
	"time"

	"leaf-lesion-detector/internal/config"
	"leaf-lesion-detector/internal/opencv/safe"
	"leaf-lesion-detector/internal/processing/components"
)

// LesionStats summarises the filtered lesion size map. Min, Max and Mean are
// only meaningful when Count is positive.
type LesionStats struct {
	Count int
	Min   float64
	Max   float64
	Mean  float64
}

// Sizes returns min, max and mean lesion size, with ok false when no lesion
// survived the size filter.
func (s LesionStats) Sizes() (min, max, mean float64, ok bool) {
	if s.Count == 0 {
		return 0, 0, 0, false
	}
	return s.Min, s.Max, s.Mean, true
}

// Leaf is one photograph moving through the pipeline. Each stage writes a
// documented subset of its fields. A Leaf is owned by a single goroutine at a
// time.
type Leaf struct {
	Key    string
	Name   string
	Source *safe.Mat

	// Written by classification. BackgroundForced skips classification.
	Background       config.Background
	BackgroundForced bool

	// Written by calibration.
	HasReference    bool
	ReferencePixels float64
	AreaPerPixel    float64
	ReferenceMask   *safe.Mat

	// Written by leaf segmentation.
	LeafMask   *safe.Mat
	LeafPixels int

	// Tunables. The *Set flags record explicit overrides, which disable
	// automatic escalation and the unit-dependent size default.
	MinimumLesionValue  int
	LesionSizeThreshold float64
	intensitySet        bool
	sizeThresholdSet    bool

	// Written by lesion segmentation.
	LesionMask      *safe.Mat
	RawLesionPixels int

	// Written by partitioning.
	Labels           *components.LabelMap
	LesionSizes      map[int32]float64
	LesionArea       float64
	LesionPercentage float64
	Stats            LesionStats
	Composite        *safe.Mat

	RunTime time.Duration
	Status  Status
}

// NewLeaf takes ownership of src.
func NewLeaf(name string, src *safe.Mat) *Leaf {
	return &Leaf{
		Key:    fmt.Sprintf("%s_%d", name, time.Now().UnixNano()),
		Name:   name,
		Source: src,
		Status: Uploaded,
	}
}

// ForceBackground pins the profile instead of classifying the image.
func (l *Leaf) ForceBackground(bg config.Background) {
	if bg == config.Unclassified {
		l.BackgroundForced = false
		return
	}
	l.Background = bg
	l.BackgroundForced = true
}

// SetMinimumLesionValue overrides the lesion intensity threshold.
func (l *Leaf) SetMinimumLesionValue(v int) error {
	if v < 0 || v > 255 {
		return fmt.Errorf("minimum lesion value %d outside [0, 255]", v)
	}
	l.MinimumLesionValue = v
	l.intensitySet = true
	return nil
}

// SetLesionSizeThreshold overrides the lesion size filter, in the leaf's
// working unit.
func (l *Leaf) SetLesionSizeThreshold(v float64) error {
	if v < 0 {
		return fmt.Errorf("lesion size threshold %v is negative", v)
	}
	l.LesionSizeThreshold = v
	l.sizeThresholdSet = true
	return nil
}

func (l *Leaf) IntensityOverridden() bool {
	return l.intensitySet
}

func (l *Leaf) SizeThresholdOverridden() bool {
	return l.sizeThresholdSet
}

// ToWorkingUnit converts a pixel count into the unit all areas of this leaf
// are reported in: physical when calibrated, pixels otherwise.
func (l *Leaf) ToWorkingUnit(pixels float64) float64 {
	if l.HasReference {
		return pixels * l.AreaPerPixel
	}
	return pixels
}

// LeafArea is the leaf area in the working unit.
func (l *Leaf) LeafArea() float64 {
	return l.ToWorkingUnit(float64(l.LeafPixels))
}

// LeafAreaPhysical is undefined (ok false) without a reference marker.
func (l *Leaf) LeafAreaPhysical() (float64, bool) {
	if !l.HasReference {
		return 0, false
	}
	return l.LeafArea(), true
}

// LesionAreaPhysical is undefined (ok false) without a reference marker.
func (l *Leaf) LesionAreaPhysical() (float64, bool) {
	if !l.HasReference {
		return 0, false
	}
	return l.LesionArea, true
}

// ResetLesionState discards every field derived from the lesion stage so a
// rerun cannot observe stale values.
func (l *Leaf) ResetLesionState() {
	l.LesionMask.Close()
	l.LesionMask = nil
	l.Composite.Close()
	l.Composite = nil

	l.RawLesionPixels = 0
	l.Labels = nil
	l.LesionSizes = nil
	l.LesionArea = 0
	l.LesionPercentage = 0
	l.Stats = LesionStats{}

	if l.Status > LeafSegmented {
		l.Status = LeafSegmented
	}
}

// ResetLeafState discards everything derived from the source image.
func (l *Leaf) ResetLeafState() {
	l.ResetLesionState()

	l.ReferenceMask.Close()
	l.ReferenceMask = nil
	l.LeafMask.Close()
	l.LeafMask = nil

	if !l.BackgroundForced {
		l.Background = config.Unclassified
	}
	l.HasReference = false
	l.ReferencePixels = 0
	l.AreaPerPixel = 0
	l.LeafPixels = 0
	l.Status = Uploaded
}

// Close releases every Mat the leaf owns.
func (l *Leaf) Close() {
	l.ResetLeafState()
	l.Source.Close()
	l.Source = nil
}

// SortByLesionPercentage orders leaves from least to most diseased.
func SortByLesionPercentage(leaves []*Leaf) {
	slices.SortStableFunc(leaves, func(a, b *Leaf) int {
		switch {
		case a.LesionPercentage < b.LesionPercentage:
			return -1
		case a.LesionPercentage > b.LesionPercentage:
			return 1
		default:
			return 0
		}
	})
}
