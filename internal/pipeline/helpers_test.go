package pipeline

import (
	"image"
	"image/color"
	"testing"

	"leaf-lesion-detector/internal/config"
	"leaf-lesion-detector/internal/models"
	"leaf-lesion-detector/internal/opencv/conversion"
)

var (
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	green = color.RGBA{G: 255, A: 255}
	black = color.RGBA{A: 255}
	blue  = color.RGBA{B: 255, A: 255}
)

// canvas is a synthetic photograph built from filled rectangles.
type canvas struct {
	img *image.RGBA
}

func newCanvas(w, h int, bg color.RGBA) *canvas {
	c := &canvas{img: image.NewRGBA(image.Rect(0, 0, w, h))}
	return c.fill(c.img.Bounds(), bg)
}

func (c *canvas) fill(r image.Rectangle, col color.RGBA) *canvas {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			c.img.SetRGBA(x, y, col)
		}
	}
	return c
}

func (c *canvas) leaf(t *testing.T, name string) *models.Leaf {
	t.Helper()
	mat, err := conversion.ImageToMat(c.img, name)
	if err != nil {
		t.Fatal(err)
	}
	leaf := models.NewLeaf(name, mat)
	t.Cleanup(leaf.Close)
	return leaf
}

// greenLeaf is a 100x100 all-leaf image with an optional centred patch.
func greenLeaf(t *testing.T, patchSize int, patch color.RGBA) *models.Leaf {
	t.Helper()
	c := newCanvas(100, 100, green)
	if patchSize > 0 {
		lo := 50 - patchSize/2
		c.fill(image.Rect(lo, lo, lo+patchSize, lo+patchSize), patch)
	}
	return c.leaf(t, "green")
}

// calibratedLeaf has a 40x40 marker, a 100x100 leaf and a 10x10 lesion on
// a white background.
func calibratedLeaf(t *testing.T) *models.Leaf {
	t.Helper()
	return newCanvas(200, 200, white).
		fill(image.Rect(10, 10, 50, 50), blue).
		fill(image.Rect(50, 50, 150, 150), green).
		fill(image.Rect(95, 95, 105, 105), black).
		leaf(t, "calibrated")
}

// edgeLesionLeaf has an 80x80 leaf on a white background with a 10x10
// lesion eight pixels inside its left edge.
func edgeLesionLeaf(t *testing.T) *models.Leaf {
	t.Helper()
	return newCanvas(100, 100, white).
		fill(image.Rect(10, 10, 90, 90), green).
		fill(image.Rect(18, 40, 28, 50), black).
		leaf(t, "edge")
}

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	return New(config.Default(), nil, nil)
}

func near(a, b, tol float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= tol
}
