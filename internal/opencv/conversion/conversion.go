package conversion

import (
	"fmt"
	"image"

	"leaf-lesion-detector/internal/opencv/safe"

	"gocv.io/x/gocv"
	xdraw "golang.org/x/image/draw"
)

// ConvertToGrayscale converts multi-channel images to single-channel grayscale
func ConvertToGrayscale(src *safe.Mat) (*safe.Mat, error) {
	if err := safe.ValidateMatForOperation(src, "grayscale conversion"); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	if src.Channels() == 1 {
		return src.Clone()
	}

	dst := gocv.NewMat()
	srcMat := src.GetMat()

	switch src.Channels() {
	case 3:
		gocv.CvtColor(srcMat, &dst, gocv.ColorBGRToGray)
	case 4:
		gocv.CvtColor(srcMat, &dst, gocv.ColorBGRAToGray)
	default:
		dst.Close()
		return nil, fmt.Errorf("unsupported channel count: %d", src.Channels())
	}

	return safe.Adopt(dst, src.Tag()+"_gray")
}

// ConvertBGRToHSV converts a BGR image to HSV with hue spread over the full
// 0-255 byte range, so hue shares the scale of saturation and value.
func ConvertBGRToHSV(src *safe.Mat) (*safe.Mat, error) {
	if err := safe.ValidateChannels(src, 3, "HSV conversion"); err != nil {
		return nil, err
	}

	dst := gocv.NewMat()
	gocv.CvtColor(src.GetMat(), &dst, gocv.ColorBGRToHSVFull)

	return safe.Adopt(dst, src.Tag()+"_hsv")
}

// MatToImage converts GoCV Mat to standard Go image
func MatToImage(src *safe.Mat) (image.Image, error) {
	if err := safe.ValidateMatForOperation(src, "Mat to image conversion"); err != nil {
		return nil, err
	}

	rows := src.Rows()
	cols := src.Cols()
	data := src.Bytes()

	switch src.Channels() {
	case 1:
		if len(data) != rows*cols {
			return nil, fmt.Errorf("unexpected buffer size %d for %dx%d gray Mat", len(data), cols, rows)
		}
		img := image.NewGray(image.Rect(0, 0, cols, rows))
		copy(img.Pix, data)
		return img, nil
	case 3:
		if len(data) != rows*cols*3 {
			return nil, fmt.Errorf("unexpected buffer size %d for %dx%d BGR Mat", len(data), cols, rows)
		}
		img := image.NewRGBA(image.Rect(0, 0, cols, rows))
		for i, j := 0, 0; i < len(data); i, j = i+3, j+4 {
			img.Pix[j] = data[i+2]
			img.Pix[j+1] = data[i+1]
			img.Pix[j+2] = data[i]
			img.Pix[j+3] = 255
		}
		return img, nil
	default:
		return nil, fmt.Errorf("unsupported channel count: %d", src.Channels())
	}
}

// ImageToMat converts standard Go image to a BGR GoCV Mat. Alpha is dropped
// without premultiplying non-premultiplied sources.
func ImageToMat(img image.Image, tag string) (*safe.Mat, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if err := safe.ValidateDimensions(width, height, "image to Mat conversion"); err != nil {
		return nil, err
	}

	// RGBA and NRGBA share the R, G, B, A byte layout. NRGBA colour bytes are
	// kept as stored so transparent pixels are not darkened.
	var pix []byte
	var stride int
	switch typedImg := img.(type) {
	case *image.RGBA:
		pix, stride = typedImg.Pix, typedImg.Stride
	case *image.NRGBA:
		pix, stride = typedImg.Pix, typedImg.Stride
	case *image.Gray:
		return grayImageToMat(typedImg, width, height, tag)
	default:
		rgba := image.NewRGBA(image.Rect(0, 0, width, height))
		xdraw.Draw(rgba, rgba.Bounds(), img, bounds.Min, xdraw.Src)
		pix, stride = rgba.Pix, rgba.Stride
	}

	buf := make([]byte, 0, width*height*3)
	for y := 0; y < height; y++ {
		row := pix[y*stride : y*stride+width*4]
		for x := 0; x < len(row); x += 4 {
			buf = append(buf, row[x+2], row[x+1], row[x])
		}
	}

	return safe.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, buf, tag)
}

// grayImageToMat expands a grayscale image into three identical BGR channels
func grayImageToMat(img *image.Gray, width, height int, tag string) (*safe.Mat, error) {
	buf := make([]byte, 0, width*height*3)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := img.GrayAt(x+img.Rect.Min.X, y+img.Rect.Min.Y).Y
			buf = append(buf, v, v, v)
		}
	}

	return safe.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, buf, tag)
}
