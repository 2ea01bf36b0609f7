package pipeline

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"leaf-lesion-detector/internal/logger"
	"leaf-lesion-detector/internal/models"
)

// Saver writes the images of a record as PNG files.
type Saver struct {
	logger logger.Logger
}

func NewSaver(log logger.Logger) *Saver {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Saver{logger: log}
}

// Save writes <key>_<kind>.png into dir for every image the record holds
// and returns the written paths.
func (s *Saver) Save(dir string, r *models.Record) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	images := []struct {
		kind string
		img  image.Image
	}{
		{"leaf", r.LeafMask},
		{"lesion", r.LesionMask},
		{"reference", r.ReferenceMask},
		{"composite", r.Composite},
	}

	var written []string
	for _, im := range images {
		if im.img == nil {
			continue
		}

		path := filepath.Join(dir, fmt.Sprintf("%s_%s.png", r.Key, im.kind))
		if err := writePNG(path, im.img); err != nil {
			s.logger.Error("ImageSaver", err, map[string]interface{}{
				"path": path,
			})
			return written, err
		}
		written = append(written, path)
	}

	s.logger.Debug("ImageSaver", "record images saved", map[string]interface{}{
		"key":   r.Key,
		"files": len(written),
	})
	return written, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}
