package capture

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"defectvision/internal/logging"

	"github.com/up-zero/gotool/imageutil"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

var ErrUnsupportedFormat = errors.New("unsupported image format")

// SupportedExtensions lists the raster formats offered in the open dialog.
var SupportedExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff"}

func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range SupportedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// LoadImage decodes path with the primary decoder and falls back to the
// registered image decoders when it fails.
func LoadImage(path string) (image.Image, error) {
	if !IsSupported(path) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}

	img, err := decodePrimary(path)
	if err != nil {
		logging.L().WithError(err).WithField("path", path).Debug("primary decoder failed, falling back")
		img, err = decodeFallback(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", path, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("read image %s: empty image", path)
	}

	return img, nil
}

func decodeFallback(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	return img, err
}

// SaveImage writes img next to its parent directories, creating them as needed.
// The encoder is chosen by extension.
func SaveImage(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}
	if err := imageutil.Save(path, img, 95); err != nil {
		return fmt.Errorf("save image %s: %w", path, err)
	}
	return nil
}

// ResultPath mirrors the source file name into resultsDir. Results are only
// written as JPEG or PNG, so other extensions become .png.
func ResultPath(src, resultsDir string) string {
	name := filepath.Base(src)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
	default:
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".png"
	}
	return filepath.Join(resultsDir, name)
}

// ListImages returns the supported images directly inside dir, sorted by name.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !IsSupported(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}
