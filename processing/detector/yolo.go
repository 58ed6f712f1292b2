package processing

import (
	"image"
	"sort"

	"defectvision/internal/models"

	"github.com/up-zero/gotool/imageutil"
)

var yoloStrides = []int{8, 16, 32}

// imageParams keeps what is needed to map model coordinates back to the source image.
type imageParams struct {
	origW, origH int
	scale        float32
}

type candidate struct {
	box     image.Rectangle
	score   float32
	classID int
}

// anchorCount is the number of prediction columns a YOLOv8 head emits for a square input.
func anchorCount(inputSize int) int {
	n := 0
	for _, s := range yoloStrides {
		side := inputSize / s
		n += side * side
	}
	return n
}

// preprocess scales img so its longer side equals inputSize, pads the rest with
// zeros and lays the pixels out as normalized CHW float32.
func preprocess(img image.Image, inputSize int) ([]float32, imageParams) {
	bounds := img.Bounds()
	params := imageParams{
		origW: bounds.Dx(),
		origH: bounds.Dy(),
	}

	params.scale = float32(inputSize) / float32(max(params.origW, params.origH))

	newW := min(inputSize, max(1, int(float32(params.origW)*params.scale)))
	newH := min(inputSize, max(1, int(float32(params.origH)*params.scale)))

	resized := imageutil.Resize(img, newW, newH)
	rb := resized.Bounds()

	plane := inputSize * inputSize
	data := make([]float32, 3*plane)
	for y := 0; y < newH; y++ {
		for x := 0; x < newW; x++ {
			r, g, b, _ := resized.At(rb.Min.X+x, rb.Min.Y+y).RGBA()

			idx := y*inputSize + x
			data[idx] = float32(r) / 65535.0
			data[plane+idx] = float32(g) / 65535.0
			data[2*plane+idx] = float32(b) / 65535.0
		}
	}

	return data, params
}

// decodeOutput reads a [1, 4+classes, anchors] YOLOv8 output laid out channel-major.
func decodeOutput(data []float32, numClasses, anchors int, conf float32, params imageParams) []candidate {
	var cands []candidate
	if len(data) < (4+numClasses)*anchors {
		return cands
	}

	frame := image.Rect(0, 0, params.origW, params.origH)
	for i := 0; i < anchors; i++ {
		best := float32(0)
		classID := -1
		for c := 0; c < numClasses; c++ {
			if score := data[(4+c)*anchors+i]; score > best {
				best = score
				classID = c
			}
		}
		if classID < 0 || best < conf {
			continue
		}

		cx := data[0*anchors+i]
		cy := data[1*anchors+i]
		w := data[2*anchors+i]
		h := data[3*anchors+i]

		box := image.Rect(
			int((cx-w/2)/params.scale),
			int((cy-h/2)/params.scale),
			int((cx+w/2)/params.scale),
			int((cy+h/2)/params.scale),
		).Intersect(frame)
		if box.Empty() {
			continue
		}

		cands = append(cands, candidate{
			box:     box,
			score:   best,
			classID: classID,
		})
	}
	return cands
}

// nms keeps the highest scoring box of every overlapping group of the same class.
func nms(cands []candidate, iouThresh float32) []candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].score > cands[j].score
	})

	keep := make([]candidate, 0, len(cands))
	suppressed := make([]bool, len(cands))

	for i := range cands {
		if suppressed[i] {
			continue
		}
		keep = append(keep, cands[i])

		for j := i + 1; j < len(cands); j++ {
			if suppressed[j] || cands[j].classID != cands[i].classID {
				continue
			}
			if computeIOU(cands[i].box, cands[j].box) > iouThresh {
				suppressed[j] = true
			}
		}
	}
	return keep
}

func computeIOU(r1, r2 image.Rectangle) float32 {
	inter := r1.Intersect(r2)
	if inter.Empty() {
		return 0
	}

	interArea := inter.Dx() * inter.Dy()
	union := r1.Dx()*r1.Dy() + r2.Dx()*r2.Dy() - interArea
	if union <= 0 {
		return 0
	}
	return float32(interArea) / float32(union)
}

func toDetections(cands []candidate, classes []string) []models.Detection {
	dets := make([]models.Detection, 0, len(cands))
	for _, c := range cands {
		dets = append(dets, models.Detection{
			ClassID: c.classID,
			Label:   className(classes, c.classID),
			Score:   c.score,
			Box:     c.box,
		})
	}
	return dets
}

func className(classes []string, id int) string {
	if id >= 0 && id < len(classes) {
		return classes[id]
	}
	return "defect"
}
