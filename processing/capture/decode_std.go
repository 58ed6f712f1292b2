//go:build !gocv
// +build !gocv

package capture

import (
	"image"

	"github.com/up-zero/gotool/imageutil"
)

func decodePrimary(path string) (image.Image, error) {
	return imageutil.Open(path)
}
