package processing

import (
	"context"
	"errors"
	"image"

	"defectvision/internal/models"
)

var (
	ErrBusy             = errors.New("a detection is already running")
	ErrInvalidThreshold = errors.New("confidence threshold must be in (0, 1]")
	ErrNoImage          = errors.New("no image to inspect")
	ErrNotConnected     = errors.New("detector server is not connected")
	ErrClosed           = errors.New("detector is closed")
)

// Output is what a detector returns for one image. Annotated is a fresh image
// owned by the caller.
type Output struct {
	Detections []models.Detection
	Annotated  image.Image
}

// Detector runs inference on a single image. Implementations must be safe to
// call from a goroutine other than the one that created them.
type Detector interface {
	Detect(ctx context.Context, img image.Image, confidence float32) (*Output, error)
	Device() models.Device
	Close() error
}
