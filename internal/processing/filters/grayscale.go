package filters

import (
	"context"

	"leaf-lesion-detector/internal/opencv/conversion"
	"leaf-lesion-detector/internal/opencv/safe"
)

// GrayscaleConverter reduces an image to one channel
type GrayscaleConverter struct{}

func NewGrayscaleConverter() *GrayscaleConverter {
	return &GrayscaleConverter{}
}

func (g *GrayscaleConverter) Name() string {
	return "grayscale_converter"
}

func (g *GrayscaleConverter) ShouldExecute() bool {
	return true
}

func (g *GrayscaleConverter) Apply(ctx context.Context, input *safe.Mat) (*safe.Mat, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	return conversion.ConvertToGrayscale(input)
}
