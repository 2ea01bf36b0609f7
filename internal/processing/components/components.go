package components

import (
	"fmt"
	"image"

	"leaf-lesion-detector/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// Exterior is the label of the component touching the image border. Label
// 0 is the unselected background.
const Exterior int32 = 1

// LabelMap holds one connected-component label per pixel, row-major.
type LabelMap struct {
	Width  int
	Height int
	Count  int
	labels []int32
}

// Label assigns 8-connected component labels to the non-zero pixels of a
// binary mask. The mask is framed by a one-pixel foreground border before
// labeling, so everything connected to the image edge shares the Exterior
// label. Count includes the background label.
func Label(mask *safe.Mat) (*LabelMap, error) {
	if err := safe.ValidateChannels(mask, 1, "connected components"); err != nil {
		return nil, err
	}

	rows, cols := mask.Rows(), mask.Cols()

	framed := gocv.NewMatWithSize(rows+2, cols+2, gocv.MatTypeCV8UC1)
	defer framed.Close()
	framed.SetTo(gocv.NewScalar(255, 0, 0, 0))

	inner := framed.Region(image.Rect(1, 1, cols+1, rows+1))
	src := mask.GetMat()
	src.CopyTo(&inner)
	inner.Close()

	labels := gocv.NewMat()
	defer labels.Close()
	count := gocv.ConnectedComponents(framed, &labels)

	data, err := labels.DataPtrInt32()
	if err != nil {
		return nil, fmt.Errorf("label buffer: %w", err)
	}

	stride := cols + 2
	lm := &LabelMap{
		Width:  cols,
		Height: rows,
		Count:  count,
		labels: make([]int32, rows*cols),
	}
	for y := 0; y < rows; y++ {
		copy(lm.labels[y*cols:(y+1)*cols], data[(y+1)*stride+1:(y+1)*stride+1+cols])
	}

	return lm, nil
}

func (lm *LabelMap) at(x, y int) int32 {
	return lm.labels[y*lm.Width+x]
}

// CountWithin counts pixels of each label that are set in within.
func (lm *LabelMap) CountWithin(within *safe.Mat) (map[int32]int, error) {
	if err := safe.ValidateChannels(within, 1, "label counting"); err != nil {
		return nil, err
	}
	if within.Rows() != lm.Height || within.Cols() != lm.Width {
		return nil, fmt.Errorf("mask %dx%d does not match label map %dx%d",
			within.Cols(), within.Rows(), lm.Width, lm.Height)
	}

	pix := within.Bytes()
	if len(pix) != len(lm.labels) {
		return nil, fmt.Errorf("mask buffer has %d bytes, want %d", len(pix), len(lm.labels))
	}

	counts := make(map[int32]int)
	for i, v := range pix {
		if v != 0 {
			counts[lm.labels[i]]++
		}
	}
	return counts, nil
}

// Mask renders the pixels carrying any of keep as 255.
func (lm *LabelMap) Mask(keep map[int32]float64, tag string) (*safe.Mat, error) {
	buf := make([]byte, len(lm.labels))
	for i, label := range lm.labels {
		if _, ok := keep[label]; ok {
			buf[i] = 255
		}
	}
	return safe.NewMatFromBytes(lm.Height, lm.Width, gocv.MatTypeCV8UC1, buf, tag)
}
