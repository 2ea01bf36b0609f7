package contour

import (
	"fmt"
	"image"

	"leaf-lesion-detector/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// FloodFill returns a copy of canvas with the 4-connected zero region around
// seed set to 255. If seed is already set nothing is filled.
func FloodFill(canvas *safe.Mat, seed image.Point) (*safe.Mat, error) {
	if err := safe.ValidateChannels(canvas, 1, "flood fill"); err != nil {
		return nil, err
	}

	rows, cols := canvas.Rows(), canvas.Cols()
	if err := safe.ValidateCoordinates(seed.Y, seed.X, rows, cols, "flood fill"); err != nil {
		return nil, err
	}

	pix := canvas.Bytes()
	if len(pix) != rows*cols {
		return nil, fmt.Errorf("canvas buffer has %d bytes, want %d", len(pix), rows*cols)
	}

	start := seed.Y*cols + seed.X
	if pix[start] == 0 {
		pix[start] = 255
		stack := []int{start}
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			x := i % cols
			if x > 0 && pix[i-1] == 0 {
				pix[i-1] = 255
				stack = append(stack, i-1)
			}
			if x < cols-1 && pix[i+1] == 0 {
				pix[i+1] = 255
				stack = append(stack, i+1)
			}
			if i >= cols && pix[i-cols] == 0 {
				pix[i-cols] = 255
				stack = append(stack, i-cols)
			}
			if i+cols < len(pix) && pix[i+cols] == 0 {
				pix[i+cols] = 255
				stack = append(stack, i+cols)
			}
		}
	}

	return safe.NewMatFromBytes(rows, cols, gocv.MatTypeCV8UC1, pix, canvas.Tag()+"_filled")
}
