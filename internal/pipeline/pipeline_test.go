package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"maps"
	"strings"
	"testing"

	"leaf-lesion-detector/internal/config"
	"leaf-lesion-detector/internal/debug/memtracker"
	"leaf-lesion-detector/internal/debug/timing"
	"leaf-lesion-detector/internal/logger"
	"leaf-lesion-detector/internal/models"
	"leaf-lesion-detector/internal/opencv/safe"
	"leaf-lesion-detector/internal/processing/components"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

func TestRunHealthyLeaf(t *testing.T) {
	leaf := greenLeaf(t, 0, black)

	if err := newTestPipeline(t).Run(context.Background(), leaf); err != nil {
		t.Fatal(err)
	}

	if leaf.Background != config.Light {
		t.Errorf("background = %s, want light", leaf.Background)
	}
	if leaf.HasReference {
		t.Error("reference found on a plain leaf")
	}
	if leaf.LeafPixels != 10000 {
		t.Errorf("leaf pixels = %d, want 10000", leaf.LeafPixels)
	}
	if leaf.Stats.Count != 0 || leaf.LesionPercentage != 0 {
		t.Errorf("lesions = %d (%.3f%%), want none", leaf.Stats.Count, leaf.LesionPercentage)
	}
	if leaf.Status != models.Measured {
		t.Errorf("status = %s", leaf.Status)
	}
	if leaf.Composite == nil || leaf.Composite.Channels() != 3 {
		t.Error("composite missing")
	}
}

func TestRunSingleLesion(t *testing.T) {
	leaf := greenLeaf(t, 10, black)
	leaf.ForceBackground(config.Dark)

	if err := newTestPipeline(t).Run(context.Background(), leaf); err != nil {
		t.Fatal(err)
	}

	if leaf.Background != config.Dark {
		t.Errorf("forced background replaced by %s", leaf.Background)
	}
	if leaf.LeafPixels != 10000 {
		t.Errorf("leaf pixels = %d, want 10000", leaf.LeafPixels)
	}
	if leaf.Stats.Count != 1 {
		t.Fatalf("lesion count = %d, want 1", leaf.Stats.Count)
	}
	// The median filter rounds the corners of the square.
	if leaf.LesionPercentage < 0.7 || leaf.LesionPercentage > 1.1 {
		t.Errorf("percentage = %.3f, want about 0.88", leaf.LesionPercentage)
	}
	if leaf.MinimumLesionValue != 120 {
		t.Errorf("intensity = %d, want the low default", leaf.MinimumLesionValue)
	}
	if leaf.LesionSizeThreshold != 10 {
		t.Errorf("size threshold = %v, want the pixel default", leaf.LesionSizeThreshold)
	}
	if _, ok := leaf.LesionAreaPhysical(); ok {
		t.Error("physical area defined without a marker")
	}
}

func TestRunBlackImage(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewZerolog(&buf, zerolog.DebugLevel)

	leaf := newCanvas(50, 50, black).leaf(t, "black")
	p := New(config.Default(), log, nil)

	if err := p.Run(context.Background(), leaf); err != nil {
		t.Fatal(err)
	}

	if leaf.Background != config.Dark {
		t.Errorf("background = %s, want dark", leaf.Background)
	}
	if leaf.LeafPixels != 0 || leaf.LeafArea() != 0 {
		t.Errorf("leaf pixels = %d, want 0", leaf.LeafPixels)
	}
	if leaf.LesionPercentage != 0 || leaf.Stats.Count != 0 {
		t.Errorf("percentage = %v, count = %d", leaf.LesionPercentage, leaf.Stats.Count)
	}
	if !strings.Contains(buf.String(), "no leaf coloured pixels") {
		t.Errorf("missing empty leaf warning in %s", buf.String())
	}
}

func TestRunCalibrated(t *testing.T) {
	profiles := config.Default()
	profiles.MedianBlurSize.LeafArea = 1
	profiles.MedianBlurSize.LesionArea = 1
	p := New(profiles, nil, nil)

	leaf := calibratedLeaf(t)
	if err := p.Run(context.Background(), leaf); err != nil {
		t.Fatal(err)
	}

	if !leaf.HasReference {
		t.Fatal("marker not detected")
	}
	if leaf.ReferencePixels != 1600 {
		t.Errorf("reference pixels = %v, want 1600", leaf.ReferencePixels)
	}
	if !near(leaf.AreaPerPixel, 0.0625, 1e-12) {
		t.Errorf("area per pixel = %v, want 0.0625", leaf.AreaPerPixel)
	}
	if leaf.ReferenceMask == nil {
		t.Error("reference mask not stored")
	}
	if leaf.LeafPixels != 10000 {
		t.Errorf("leaf pixels = %d, want 10000", leaf.LeafPixels)
	}
	if leaf.LesionSizeThreshold != 0.01 {
		t.Errorf("size threshold = %v, want the calibrated default", leaf.LesionSizeThreshold)
	}

	area, ok := leaf.LesionAreaPhysical()
	if !ok || !near(area, 6.25, 1e-9) {
		t.Errorf("lesion area = %v (%v), want 6.25", area, ok)
	}
	leafArea, ok := leaf.LeafAreaPhysical()
	if !ok || !near(leafArea, 625, 1e-9) {
		t.Errorf("leaf area = %v (%v), want 625", leafArea, ok)
	}
	if !near(leaf.LesionPercentage, 1.0, 1e-9) {
		t.Errorf("percentage = %v, want 1", leaf.LesionPercentage)
	}
	if lo, hi, mean, ok := leaf.Stats.Sizes(); !ok || lo != hi || !near(mean, 6.25, 1e-9) {
		t.Errorf("sizes = %v %v %v %v", lo, hi, mean, ok)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	leaf := greenLeaf(t, 12, black)
	p := newTestPipeline(t)

	if err := p.Run(context.Background(), leaf); err != nil {
		t.Fatal(err)
	}

	leafMask := bytes.Clone(leaf.LeafMask.Bytes())
	lesionMask := bytes.Clone(leaf.LesionMask.Bytes())
	sizes := maps.Clone(leaf.LesionSizes)
	leafPixels, rawPixels := leaf.LeafPixels, leaf.RawLesionPixels
	area, pct, stats := leaf.LesionArea, leaf.LesionPercentage, leaf.Stats

	if err := p.Run(context.Background(), leaf); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(leaf.LeafMask.Bytes(), leafMask) {
		t.Error("leaf mask changed on the second run")
	}
	if !bytes.Equal(leaf.LesionMask.Bytes(), lesionMask) {
		t.Error("lesion mask changed on the second run")
	}
	if !maps.Equal(leaf.LesionSizes, sizes) {
		t.Errorf("lesion sizes = %v, want %v", leaf.LesionSizes, sizes)
	}
	if leaf.LeafPixels != leafPixels || leaf.RawLesionPixels != rawPixels {
		t.Errorf("pixels = %d/%d, want %d/%d", leaf.LeafPixels, leaf.RawLesionPixels, leafPixels, rawPixels)
	}
	if leaf.LesionArea != area || leaf.LesionPercentage != pct || leaf.Stats != stats {
		t.Errorf("measurements = %v %v %+v, want %v %v %+v",
			leaf.LesionArea, leaf.LesionPercentage, leaf.Stats, area, pct, stats)
	}
}

func TestRunNoSurvivingContour(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewZerolog(&buf, zerolog.DebugLevel)

	// The 20 pixel wide boundary is narrower than a quarter of the height.
	leaf := newCanvas(20, 100, green).leaf(t, "narrow")
	if err := New(config.Default(), log, nil).Run(context.Background(), leaf); err != nil {
		t.Fatal(err)
	}

	if leaf.LeafPixels != 2000 {
		t.Errorf("leaf pixels = %d, want the whole image", leaf.LeafPixels)
	}
	if !strings.Contains(buf.String(), "no boundary contour survived the width filter") {
		t.Errorf("missing width filter warning in %s", buf.String())
	}
}

func TestRunLesionNearLeafEdge(t *testing.T) {
	leaf := edgeLesionLeaf(t)
	if err := newTestPipeline(t).Run(context.Background(), leaf); err != nil {
		t.Fatal(err)
	}

	if leaf.Stats.Count != 1 {
		t.Fatalf("lesion count = %d, want 1", leaf.Stats.Count)
	}
	for label, size := range leaf.LesionSizes {
		if label < 2 || label == components.Exterior {
			t.Errorf("lesion carries label %d", label)
		}
		if size < 70 || size > 100 {
			t.Errorf("lesion size = %v, want about 88", size)
		}
	}
	if leaf.LesionArea > leaf.LeafArea() {
		t.Errorf("lesion area %v exceeds leaf area %v", leaf.LesionArea, leaf.LeafArea())
	}
}

func TestRunPartitionInvariants(t *testing.T) {
	leaf := calibratedLeaf(t)
	if err := newTestPipeline(t).Run(context.Background(), leaf); err != nil {
		t.Fatal(err)
	}

	for label, size := range leaf.LesionSizes {
		if label == 0 || label == components.Exterior {
			t.Errorf("label %d reported as a lesion", label)
		}
		if size <= leaf.LesionSizeThreshold {
			t.Errorf("label %d size %v below threshold", label, size)
		}
	}
	if leaf.LesionPercentage < 0 || leaf.LesionPercentage > 100 {
		t.Errorf("percentage %v out of range", leaf.LesionPercentage)
	}
	if leaf.LesionArea > leaf.LeafArea() {
		t.Errorf("lesion area %v exceeds leaf area %v", leaf.LesionArea, leaf.LeafArea())
	}
}

func TestRunThresholdMonotonic(t *testing.T) {
	tests := []struct {
		name  string
		patch color.RGBA
		equal bool
	}{
		// Healthy tissue must be brighter than the cutoff, so raising it
		// moves value 130 from healthy to lesion.
		{"mid tone patch turns lesion as the cutoff rises", color.RGBA{G: 130, A: 255}, false},
		{"black patch is lesion at every cutoff", black, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(t)
			pixels := make(map[int]int)

			for _, v := range []int{120, 140} {
				leaf := greenLeaf(t, 10, tt.patch)
				if err := leaf.SetMinimumLesionValue(v); err != nil {
					t.Fatal(err)
				}
				if err := p.Run(context.Background(), leaf); err != nil {
					t.Fatal(err)
				}
				pixels[v] = leaf.RawLesionPixels
			}

			if pixels[140] < pixels[120] {
				t.Errorf("raising the cutoff lost lesion pixels: %v", pixels)
			}
			if tt.equal && pixels[140] != pixels[120] {
				t.Errorf("black tissue depends on the cutoff: %v", pixels)
			}
			if !tt.equal && pixels[140] == pixels[120] {
				t.Errorf("mid tone tissue ignored the cutoff: %v", pixels)
			}
		})
	}
}

func TestRunEscalates(t *testing.T) {
	leaf := greenLeaf(t, 20, black)
	p := newTestPipeline(t)

	if err := p.Run(context.Background(), leaf); err != nil {
		t.Fatal(err)
	}

	profile, _ := p.Profiles().Profile(leaf.Background)
	if leaf.MinimumLesionValue != profile.HighIntensity {
		t.Errorf("intensity = %d, want %d after escalation", leaf.MinimumLesionValue, profile.HighIntensity)
	}
	if leaf.LesionPercentage <= p.Profiles().EscalationPercentage {
		t.Errorf("percentage = %v, fixture too small to escalate", leaf.LesionPercentage)
	}
	if leaf.Status != models.Measured {
		t.Errorf("status = %s", leaf.Status)
	}
}

func TestRunOverrideDisablesEscalation(t *testing.T) {
	leaf := greenLeaf(t, 20, black)
	if err := leaf.SetMinimumLesionValue(120); err != nil {
		t.Fatal(err)
	}
	if err := leaf.SetLesionSizeThreshold(500); err != nil {
		t.Fatal(err)
	}

	if err := newTestPipeline(t).Run(context.Background(), leaf); err != nil {
		t.Fatal(err)
	}

	if leaf.MinimumLesionValue != 120 {
		t.Errorf("override replaced by %d", leaf.MinimumLesionValue)
	}
	if leaf.LesionSizeThreshold != 500 {
		t.Errorf("size override replaced by %v", leaf.LesionSizeThreshold)
	}
	// The single lesion is smaller than the size override.
	if leaf.Stats.Count != 0 || leaf.LesionPercentage != 0 {
		t.Errorf("count = %d, percentage = %v", leaf.Stats.Count, leaf.LesionPercentage)
	}
	if leaf.RawLesionPixels == 0 {
		t.Error("raw lesion pixels should not depend on the size filter")
	}
}

func TestRerun(t *testing.T) {
	p := newTestPipeline(t)
	leaf := greenLeaf(t, 10, color.RGBA{G: 130, A: 255})

	if err := p.Rerun(context.Background(), leaf); err == nil {
		t.Fatal("rerun accepted an unsegmented leaf")
	}

	if err := p.Run(context.Background(), leaf); err != nil {
		t.Fatal(err)
	}
	if leaf.Stats.Count != 0 {
		t.Fatalf("mid tone patch counted at the low cutoff")
	}
	leafMask := leaf.LeafMask

	if err := leaf.SetMinimumLesionValue(140); err != nil {
		t.Fatal(err)
	}
	if err := p.Rerun(context.Background(), leaf); err != nil {
		t.Fatal(err)
	}

	if leaf.LeafMask != leafMask {
		t.Error("rerun rebuilt the leaf mask")
	}
	if leaf.MinimumLesionValue != 140 {
		t.Errorf("intensity = %d", leaf.MinimumLesionValue)
	}
	if leaf.Stats.Count != 1 {
		t.Errorf("lesion count = %d after raising the cutoff, want 1", leaf.Stats.Count)
	}
	if leaf.Status != models.Measured {
		t.Errorf("status = %s", leaf.Status)
	}
}

func TestRunRejectsGrayscale(t *testing.T) {
	gray, err := safe.NewMat(20, 20, gocv.MatTypeCV8UC1, "gray")
	if err != nil {
		t.Fatal(err)
	}
	leaf := models.NewLeaf("gray", gray)
	defer leaf.Close()

	err = newTestPipeline(t).Run(context.Background(), leaf)
	if !errors.Is(err, models.ErrInvalidImage) {
		t.Errorf("err = %v, want ErrInvalidImage", err)
	}
}

func TestRunCancelled(t *testing.T) {
	leaf := greenLeaf(t, 0, black)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := newTestPipeline(t).Run(ctx, leaf); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRunRecordsStageTimings(t *testing.T) {
	tracker := timing.NewTracker(nil)
	p := New(config.Default(), nil, tracker)

	leaf := greenLeaf(t, 10, black)
	if err := p.Run(context.Background(), leaf); err != nil {
		t.Fatal(err)
	}

	for _, stage := range []string{StageClassify, StageCalibrate, StageLeaf, StageLesion, StagePartition, StageComposite} {
		if len(tracker.GetTimings(stage)) == 0 {
			t.Errorf("stage %s not timed", stage)
		}
	}
}

func TestLeafCloseReleasesMats(t *testing.T) {
	mem := memtracker.NewTracker(false)
	safe.SetMemoryTracker(mem)
	defer safe.SetMemoryTracker(nil)

	// Large enough to take the escalation path as well.
	leaf := greenLeaf(t, 20, black)
	if err := newTestPipeline(t).Run(context.Background(), leaf); err != nil {
		t.Fatal(err)
	}
	if mem.GetStats().CurrentlyActive == 0 {
		t.Fatal("tracker saw no Mats")
	}

	leaf.Close()

	for _, info := range mem.Active() {
		t.Errorf("Mat %d (%s) still allocated", info.ID, info.Tag)
	}
}

func TestPercentage(t *testing.T) {
	tests := []struct {
		part, whole, want float64
	}{
		{0, 0, 0},
		{5, 0, 0},
		{5, -1, 0},
		{25, 100, 25},
		{0.5, 2, 25},
	}
	for _, tt := range tests {
		if got := percentage(tt.part, tt.whole); got != tt.want {
			t.Errorf("percentage(%v, %v) = %v, want %v", tt.part, tt.whole, got, tt.want)
		}
	}
}

func TestMinContourWidth(t *testing.T) {
	tests := []struct{ rows, want int }{
		{100, 25},
		{101, 26},
		{4, 1},
		{1, 1},
	}
	for _, tt := range tests {
		if got := minContourWidth(tt.rows); got != tt.want {
			t.Errorf("minContourWidth(%d) = %d, want %d", tt.rows, got, tt.want)
		}
	}
}
