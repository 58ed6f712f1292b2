package processing

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"sync"
	"sync/atomic"
	"time"

	"defectvision/internal/logging"
	"defectvision/internal/models"

	"github.com/disintegration/imaging"
)

// Runner keeps at most one detection in flight and runs it on its own
// goroutine, so the caller's event loop never blocks on inference.
type Runner struct {
	det       Detector
	annotator *Annotator

	running atomic.Bool
	wg      sync.WaitGroup
}

func NewRunner(det Detector, ann *Annotator) *Runner {
	return &Runner{
		det:       det,
		annotator: ann,
	}
}

// Submit starts a detection and returns immediately. The returned channel
// receives exactly one result and is then closed. A second Submit while one
// is in flight is rejected with ErrBusy.
func (r *Runner) Submit(img image.Image, confidence float32) (<-chan models.DetectionResult, error) {
	if img == nil {
		return nil, ErrNoImage
	}
	if !(confidence > 0 && confidence <= 1) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidThreshold, confidence)
	}
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}

	req := models.DetectionRequest{
		Image:      imaging.Clone(img),
		Confidence: confidence,
	}
	done := make(chan models.DetectionResult, 1)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		res := r.execute(req)

		r.running.Store(false)
		done <- res
		close(done)
	}()

	return done, nil
}

// Busy reports whether a detection is in flight.
func (r *Runner) Busy() bool {
	return r.running.Load()
}

// Wait blocks until no detection is in flight.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) Device() models.Device {
	return r.det.Device()
}

func (r *Runner) execute(req models.DetectionRequest) (res models.DetectionResult) {
	start := time.Now()
	log := logging.L().WithField("device", r.det.Device()).WithField("confidence", req.Confidence)

	defer func() {
		if p := recover(); p != nil {
			res = r.failure(req, fmt.Errorf("detector panic: %v", p))
			log.WithError(res.Err).Error("detection failed")
		}
	}()

	out, err := r.det.Detect(context.Background(), req.Image, req.Confidence)
	if err != nil {
		log.WithError(err).Error("detection failed")
		return r.failure(req, err)
	}

	var (
		dets   []models.Detection
		canvas draw.Image
	)
	if out != nil {
		dets = out.Detections
		if out.Annotated != nil {
			canvas = drawable(out.Annotated)
		}
	}
	if canvas == nil {
		canvas = imaging.Clone(req.Image)
	}

	caption := models.DefectCaption(len(dets))
	r.annotator.Caption(canvas, caption, CaptionOK)

	log.WithField("defects", len(dets)).WithField("took", time.Since(start)).Info("detection finished")

	return models.DetectionResult{
		Annotated:   canvas,
		DefectCount: len(dets),
		Detections:  dets,
		Caption:     caption,
	}
}

func (r *Runner) failure(req models.DetectionRequest, err error) models.DetectionResult {
	return models.DetectionResult{
		Annotated: r.annotator.ErrorImage(req.Image, err),
		Caption:   models.ErrorCaption(err),
		Err:       err,
	}
}
