package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed profiles.yaml
var defaultProfiles []byte

// Bounds is one HSV threshold block. MaxSaturation and MaxValue are carried
// for completeness of the document but the thresholder does not apply them.
type Bounds struct {
	MinHue        int `yaml:"min_hue"`
	MaxHue        int `yaml:"max_hue"`
	MinSaturation int `yaml:"min_saturation"`
	MaxSaturation int `yaml:"max_saturation"`
	MinValue      int `yaml:"min_value"`
	MaxValue      int `yaml:"max_value"`
	ContourLevel  int `yaml:"contour_level"`
}

// BackgroundProfile holds the threshold blocks for one background class.
type BackgroundProfile struct {
	LeafArea      Bounds `yaml:"leaf_area"`
	LesionArea    Bounds `yaml:"lesion_area"`
	ReferenceArea Bounds `yaml:"reference_area"`
	LowIntensity  int    `yaml:"low_intensity"`
	HighIntensity int    `yaml:"high_intensity"`
}

type SizeThreshold struct {
	Calibrated   float64 `yaml:"calibrated"`
	Uncalibrated float64 `yaml:"uncalibrated"`
}

// MedianBlurSize holds the median kernel per mask purpose. A size of 1
// disables smoothing.
type MedianBlurSize struct {
	LeafArea      int `yaml:"leaf_area"`
	LesionArea    int `yaml:"lesion_area"`
	ReferenceArea int `yaml:"reference_area"`
}

// Profiles is the threshold document. After Load or Default it is treated
// as read-only and may be shared by concurrent pipeline runs.
type Profiles struct {
	Version               int                          `yaml:"version"`
	ReferenceAreaPhysical float64                      `yaml:"reference_area_physical"`
	EscalationPercentage  float64                      `yaml:"escalation_percentage"`
	ContourThickness      int                          `yaml:"contour_thickness"`
	LesionSizeThreshold   SizeThreshold                `yaml:"lesion_size_threshold"`
	MedianBlurSize        MedianBlurSize               `yaml:"median_blur_size"`
	Backgrounds           map[string]BackgroundProfile `yaml:"backgrounds"`

	resolved map[Background]BackgroundProfile
}

// Default returns a fresh copy of the embedded profiles.
func Default() *Profiles {
	p, err := Parse(defaultProfiles)
	if err != nil {
		panic(fmt.Sprintf("embedded profiles are invalid: %v", err))
	}
	return p
}

// Load reads a profile document from path.
func Load(path string) (*Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles: %w", err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("profiles %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates a profile document. Unknown fields are
// rejected.
func Parse(data []byte) (*Profiles, error) {
	var p Profiles

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode profiles: %w", err)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks every field and resolves background keys into the closed
// Background set.
func (p *Profiles) Validate() error {
	if p.ReferenceAreaPhysical <= 0 {
		return NewValidationError("reference_area_physical", p.ReferenceAreaPhysical, "must be positive")
	}
	if p.EscalationPercentage < 0 || p.EscalationPercentage > 100 {
		return NewValidationError("escalation_percentage", p.EscalationPercentage, "must be within [0, 100]")
	}
	if p.ContourThickness < 1 {
		return NewValidationError("contour_thickness", p.ContourThickness, "must be at least 1")
	}
	if p.LesionSizeThreshold.Calibrated < 0 {
		return NewValidationError("lesion_size_threshold.calibrated", p.LesionSizeThreshold.Calibrated, "must not be negative")
	}
	if p.LesionSizeThreshold.Uncalibrated < 0 {
		return NewValidationError("lesion_size_threshold.uncalibrated", p.LesionSizeThreshold.Uncalibrated, "must not be negative")
	}

	for name, size := range map[string]int{
		"median_blur_size.leaf_area":      p.MedianBlurSize.LeafArea,
		"median_blur_size.lesion_area":    p.MedianBlurSize.LesionArea,
		"median_blur_size.reference_area": p.MedianBlurSize.ReferenceArea,
	} {
		if size < 1 || size%2 == 0 {
			return NewValidationError(name, size, "must be a positive odd number")
		}
	}

	resolved := make(map[Background]BackgroundProfile, len(p.Backgrounds))
	for key, profile := range p.Backgrounds {
		bg, err := ParseBackground(key)
		if err != nil || bg == Unclassified {
			return NewValidationError("backgrounds", key, "unknown background key")
		}
		if _, dup := resolved[bg]; dup {
			return NewValidationError("backgrounds", key, "duplicate background")
		}
		if err := profile.validate("backgrounds." + key); err != nil {
			return err
		}
		resolved[bg] = profile
	}

	for _, bg := range []Background{Light, Dark} {
		if _, ok := resolved[bg]; !ok {
			return NewValidationError("backgrounds", bg.String(), "profile missing")
		}
	}

	p.resolved = resolved
	return nil
}

// Profile returns the threshold blocks for a classified background.
func (p *Profiles) Profile(bg Background) (BackgroundProfile, error) {
	profile, ok := p.resolved[bg]
	if !ok {
		return BackgroundProfile{}, fmt.Errorf("no profile for background %s", bg)
	}
	return profile, nil
}

// SizeThreshold returns the default lesion size filter for the unit in use.
func (p *Profiles) SizeThreshold(calibrated bool) float64 {
	if calibrated {
		return p.LesionSizeThreshold.Calibrated
	}
	return p.LesionSizeThreshold.Uncalibrated
}

func (bp BackgroundProfile) validate(prefix string) error {
	if err := bp.LeafArea.validate(prefix + ".leaf_area"); err != nil {
		return err
	}
	if err := bp.LesionArea.validate(prefix + ".lesion_area"); err != nil {
		return err
	}
	if err := bp.ReferenceArea.validate(prefix + ".reference_area"); err != nil {
		return err
	}
	if !inByteRange(bp.LowIntensity) {
		return NewValidationError(prefix+".low_intensity", bp.LowIntensity, "must be within [0, 255]")
	}
	if !inByteRange(bp.HighIntensity) {
		return NewValidationError(prefix+".high_intensity", bp.HighIntensity, "must be within [0, 255]")
	}
	if bp.HighIntensity < bp.LowIntensity {
		return NewValidationError(prefix+".high_intensity", bp.HighIntensity, "must not be below low_intensity")
	}
	return nil
}

func (b Bounds) validate(prefix string) error {
	fields := []struct {
		name  string
		value int
	}{
		{"min_hue", b.MinHue},
		{"max_hue", b.MaxHue},
		{"min_saturation", b.MinSaturation},
		{"max_saturation", b.MaxSaturation},
		{"min_value", b.MinValue},
		{"max_value", b.MaxValue},
		{"contour_level", b.ContourLevel},
	}
	for _, f := range fields {
		if !inByteRange(f.value) {
			return NewValidationError(prefix+"."+f.name, f.value, "must be within [0, 255]")
		}
	}

	if b.MaxHue <= b.MinHue+1 {
		return NewValidationError(prefix+".max_hue", b.MaxHue, "leaves no hue strictly between min_hue and max_hue")
	}
	if b.ContourLevel < 10 || b.ContourLevel > 245 {
		return NewValidationError(prefix+".contour_level", b.ContourLevel, "must be within [10, 245]")
	}
	return nil
}

func inByteRange(v int) bool {
	return v >= 0 && v <= 255
}
