package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"leaf-lesion-detector/internal/config"
	"leaf-lesion-detector/internal/logger"
	"leaf-lesion-detector/internal/models"
	"leaf-lesion-detector/internal/opencv/conversion"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Loader decodes raster images into leaves.
type Loader struct {
	logger logger.Logger
	timing TimingTracker
}

func NewLoader(log logger.Logger, timing TimingTracker) *Loader {
	if log == nil {
		log = logger.NopLogger{}
	}
	if timing == nil {
		timing = nopTracker{}
	}
	return &Loader{logger: log, timing: timing}
}

// LoadFile reads and decodes path. backgroundKey is "light", "dark" or empty
// for automatic classification.
func (l *Loader) LoadFile(ctx context.Context, path, backgroundKey string) (*models.Leaf, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return l.LoadReader(ctx, name, f, backgroundKey)
}

func (l *Loader) LoadReader(ctx context.Context, name string, r io.Reader, backgroundKey string) (*models.Leaf, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	return l.LoadBytes(ctx, name, data, backgroundKey)
}

func (l *Loader) LoadBytes(ctx context.Context, name string, data []byte, backgroundKey string) (*models.Leaf, error) {
	tctx := l.timing.StartTiming(ctx, "load")
	defer l.timing.EndTiming(tctx)

	bg, err := config.ParseBackground(backgroundKey)
	if err != nil {
		return nil, err
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &models.InvalidImageError{Name: name, Reason: "decode failed", Err: err}
	}

	mat, err := conversion.ImageToMat(img, name)
	if err != nil {
		return nil, &models.InvalidImageError{Name: name, Reason: "unsupported pixel data", Err: err}
	}

	leaf := models.NewLeaf(name, mat)
	leaf.ForceBackground(bg)

	l.logger.Info("ImageLoader", "image loaded", map[string]interface{}{
		"name":       name,
		"format":     format,
		"width":      mat.Cols(),
		"height":     mat.Rows(),
		"size_bytes": len(data),
		"background": bg.String(),
	})

	return leaf, nil
}
