package threshold

import (
	"fmt"

	"leaf-lesion-detector/internal/config"
	"leaf-lesion-detector/internal/models"
	"leaf-lesion-detector/internal/opencv/conversion"
	"leaf-lesion-detector/internal/opencv/safe"

	"gocv.io/x/gocv"
)

const (
	// darkValue is the brightness below which a pixel counts as dark.
	darkValue = 70
	// darkFraction is the share of dark pixels above which the background
	// is classified Dark.
	darkFraction = 0.4
)

// Apply returns a 0/255 mask of the pixels of a BGR image whose HSV
// components satisfy min_hue < H < max_hue, S > min_saturation and
// V > min_value. The upper saturation and value bounds are not applied.
func Apply(src *safe.Mat, b config.Bounds) (*safe.Mat, error) {
	if err := validateSource(src, "threshold"); err != nil {
		return nil, err
	}

	hsv, err := conversion.ConvertBGRToHSV(src)
	if err != nil {
		return nil, fmt.Errorf("threshold: %w", err)
	}
	defer hsv.Close()

	// InRange bounds are inclusive, so the strict lower bounds move up by one.
	lower := gocv.NewScalar(float64(b.MinHue+1), float64(b.MinSaturation+1), float64(b.MinValue+1), 0)
	upper := gocv.NewScalar(float64(b.MaxHue-1), 255, 255, 0)

	mask := gocv.NewMat()
	gocv.InRangeWithScalar(hsv.GetMat(), lower, upper, &mask)

	return safe.Adopt(mask, src.Tag()+"_mask")
}

// Count is Apply followed by a count of the selected pixels.
func Count(src *safe.Mat, b config.Bounds) (int, error) {
	mask, err := Apply(src, b)
	if err != nil {
		return 0, err
	}
	defer mask.Close()

	return mask.CountNonZero(), nil
}

// Classify labels an image Dark when more than 40% of its pixels have a
// value below 70, Light otherwise.
func Classify(src *safe.Mat) (config.Background, error) {
	if err := validateSource(src, "background classification"); err != nil {
		return config.Unclassified, err
	}

	hsv, err := conversion.ConvertBGRToHSV(src)
	if err != nil {
		return config.Unclassified, fmt.Errorf("background classification: %w", err)
	}
	defer hsv.Close()

	dark := gocv.NewMat()
	defer dark.Close()
	gocv.InRangeWithScalar(hsv.GetMat(),
		gocv.NewScalar(0, 0, 0, 0),
		gocv.NewScalar(255, 255, darkValue-1, 0),
		&dark)

	total := src.Rows() * src.Cols()
	if float64(gocv.CountNonZero(dark)) > darkFraction*float64(total) {
		return config.Dark, nil
	}
	return config.Light, nil
}

func validateSource(src *safe.Mat, operation string) error {
	if err := safe.ValidateMatForOperation(src, operation); err != nil {
		return &models.InvalidImageError{Reason: err.Error()}
	}
	if src.Channels() != 3 {
		return &models.InvalidImageError{
			Reason: fmt.Sprintf("%s requires a 3-channel image, got %d channels", operation, src.Channels()),
		}
	}
	return nil
}
