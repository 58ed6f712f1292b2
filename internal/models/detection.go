package models

import (
	"fmt"
	"image"
)

type Device string

const (
	DeviceCUDA   Device = "cuda"
	DeviceCPU    Device = "cpu"
	DeviceRemote Device = "remote"
)

func (d Device) IsGPU() bool {
	return d == DeviceCUDA
}

// Detection is a single defect box in original image pixels.
type Detection struct {
	ClassID int             `json:"class_id"`
	Label   string          `json:"label"`
	Score   float32         `json:"confidence"`
	Box     image.Rectangle `json:"-"`
}

// DetectionRequest is consumed exactly once by a runner.
type DetectionRequest struct {
	Image      image.Image
	Confidence float32
}

// DetectionResult is delivered once per request. On failure Annotated is a copy
// of the request image carrying the error text and Err is set.
type DetectionResult struct {
	Annotated   image.Image
	DefectCount int
	Detections  []Detection
	Caption     string
	Err         error
}

func (r DetectionResult) Failed() bool {
	return r.Err != nil
}

func DefectCaption(n int) string {
	return fmt.Sprintf("Defects: %d", n)
}

func ErrorCaption(err error) string {
	return fmt.Sprintf("Detection error: %v", err)
}
