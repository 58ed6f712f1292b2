//go:build gocv
// +build gocv

package capture

import (
	"errors"
	"image"

	"gocv.io/x/gocv"
)

// decodePrimary reads through OpenCV, which copes with more TIFF and BMP
// variants than the pure Go decoders.
func decodePrimary(path string) (image.Image, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	defer mat.Close()

	if mat.Empty() {
		return nil, errors.New("opencv could not decode image")
	}
	return mat.ToImage()
}
