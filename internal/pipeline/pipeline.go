package pipeline

import (
	"context"
	"fmt"
	"time"

	"leaf-lesion-detector/internal/config"
	"leaf-lesion-detector/internal/logger"
	"leaf-lesion-detector/internal/models"
	"leaf-lesion-detector/internal/opencv/safe"
)

// Pipeline runs the measurement stages over one leaf at a time. A single
// Pipeline may serve concurrent runs on distinct leaves: it only reads the
// shared profiles.
type Pipeline struct {
	profiles *config.Profiles
	logger   logger.Logger
	timing   TimingTracker
}

func New(profiles *config.Profiles, log logger.Logger, timing TimingTracker) *Pipeline {
	if log == nil {
		log = logger.NopLogger{}
	}
	if timing == nil {
		timing = nopTracker{}
	}
	return &Pipeline{
		profiles: profiles,
		logger:   log,
		timing:   timing,
	}
}

func (p *Pipeline) Profiles() *config.Profiles {
	return p.profiles
}

// Run takes a leaf from Uploaded to Measured. Any earlier derived state is
// discarded first, so repeated runs give identical results.
func (p *Pipeline) Run(ctx context.Context, leaf *models.Leaf) error {
	start := time.Now()

	leaf.ResetLeafState()

	if err := safe.ValidateChannels(leaf.Source, 3, "pipeline input"); err != nil {
		return &models.InvalidImageError{Name: leaf.Name, Err: err}
	}

	stages := []struct {
		name string
		run  func(context.Context, *models.Leaf) error
	}{
		{StageClassify, p.ClassifyBackground},
		{StageCalibrate, p.Calibrate},
		{StageLeaf, p.SegmentLeaf},
	}
	for _, stage := range stages {
		if err := p.timed(ctx, stage.name, leaf, stage.run); err != nil {
			return err
		}
	}

	profile, err := p.profiles.Profile(leaf.Background)
	if err != nil {
		return err
	}
	if !leaf.IntensityOverridden() {
		leaf.MinimumLesionValue = profile.LowIntensity
	}
	if !leaf.SizeThresholdOverridden() {
		leaf.LesionSizeThreshold = p.profiles.SizeThreshold(leaf.HasReference)
	}

	if err := p.lesionStages(ctx, leaf); err != nil {
		return err
	}

	if !leaf.IntensityOverridden() &&
		leaf.LesionPercentage > p.profiles.EscalationPercentage &&
		profile.HighIntensity != leaf.MinimumLesionValue {
		p.logger.Info("Pipeline", "escalating intensity threshold", map[string]interface{}{
			"leaf":       leaf.Name,
			"percentage": leaf.LesionPercentage,
			"from":       leaf.MinimumLesionValue,
			"to":         profile.HighIntensity,
		})

		leaf.MinimumLesionValue = profile.HighIntensity
		leaf.ResetLesionState()
		if err := p.lesionStages(ctx, leaf); err != nil {
			return err
		}
	}

	leaf.RunTime = time.Since(start)

	p.logger.Info("Pipeline", "leaf measured", map[string]interface{}{
		"leaf":       leaf.Name,
		"background": leaf.Background.String(),
		"calibrated": leaf.HasReference,
		"percentage": leaf.LesionPercentage,
		"lesions":    leaf.Stats.Count,
		"run_time":   leaf.RunTime.String(),
	})

	return nil
}

// Rerun recomputes the lesion mask and everything derived from it after a
// threshold change. Classification, calibration and the leaf mask are kept.
func (p *Pipeline) Rerun(ctx context.Context, leaf *models.Leaf) error {
	if !leaf.Status.LeafReady() {
		return fmt.Errorf("leaf %q is %s, rerun needs a segmented leaf", leaf.Name, leaf.Status)
	}

	start := time.Now()
	leaf.ResetLesionState()

	if err := p.lesionStages(ctx, leaf); err != nil {
		return err
	}

	leaf.RunTime = time.Since(start)
	return nil
}

func (p *Pipeline) lesionStages(ctx context.Context, leaf *models.Leaf) error {
	stages := []struct {
		name string
		run  func(context.Context, *models.Leaf) error
	}{
		{StageLesion, p.SegmentLesion},
		{StagePartition, p.Partition},
		{StageComposite, p.Annotate},
	}
	for _, stage := range stages {
		if err := p.timed(ctx, stage.name, leaf, stage.run); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) timed(ctx context.Context, name string, leaf *models.Leaf, run func(context.Context, *models.Leaf) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	tctx := p.timing.StartTiming(ctx, name)
	err := run(tctx, leaf)
	p.timing.EndTiming(tctx)

	if err != nil {
		p.logger.Error("Pipeline", err, map[string]interface{}{
			"leaf":  leaf.Name,
			"stage": name,
		})
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (p *Pipeline) profileFor(leaf *models.Leaf) (config.BackgroundProfile, error) {
	return p.profiles.Profile(leaf.Background)
}
