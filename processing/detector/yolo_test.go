package processing

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAnchorCount(t *testing.T) {
	require.Equal(t, 8400, anchorCount(640))
	require.Equal(t, 2100, anchorCount(320))
}

func TestPreprocess_ScalesLongSideAndPads(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	data, params := preprocess(img, 64)
	require.Len(t, data, 3*64*64)
	require.Equal(t, 200, params.origW)
	require.Equal(t, 100, params.origH)
	require.InDelta(t, 0.32, params.scale, 1e-6)

	// inside the resized area every channel is white
	require.InDelta(t, 1.0, data[0], 1e-3)
	require.InDelta(t, 1.0, data[64*64+10*64+10], 1e-3)
	// below the 32 resized rows the tensor is padding
	require.Zero(t, data[40*64+10])
	require.Zero(t, data[2*64*64+63*64+63])
}

func TestDecodeOutput(t *testing.T) {
	const (
		classes = 2
		anchors = 3
	)
	data := make([]float32, (4+classes)*anchors)
	set := func(ch, anchor int, v float32) { data[ch*anchors+anchor] = v }

	// anchor 0: below threshold
	set(0, 0, 10)
	set(1, 0, 10)
	set(2, 0, 4)
	set(3, 0, 4)
	set(4, 0, 0.2)

	// anchor 1: class 1 at 0.9
	set(0, 1, 32)
	set(1, 1, 16)
	set(2, 1, 16)
	set(3, 1, 8)
	set(4, 1, 0.1)
	set(5, 1, 0.9)

	// anchor 2: runs off the right edge
	set(0, 2, 95)
	set(1, 2, 20)
	set(2, 2, 20)
	set(3, 2, 10)
	set(4, 2, 0.7)

	params := imageParams{origW: 200, origH: 100, scale: 0.5}
	cands := decodeOutput(data, classes, anchors, 0.5, params)
	require.Len(t, cands, 2)

	require.Equal(t, 1, cands[0].classID)
	require.InDelta(t, 0.9, cands[0].score, 1e-6)
	require.Equal(t, image.Rect(48, 24, 80, 40), cands[0].box)

	require.Equal(t, 0, cands[1].classID)
	require.Equal(t, 200, cands[1].box.Max.X)

	require.Empty(t, decodeOutput(data[:5], classes, anchors, 0.5, params))
}

func TestDecodeOutput_DropsBoxesOutsideFrame(t *testing.T) {
	params := imageParams{origW: 100, origH: 100, scale: 1}

	// x 290..310 lies right of a 100px wide image
	outside := []float32{300, 50, 20, 20, 0.9}
	require.Empty(t, decodeOutput(outside, 1, 1, 0.5, params))

	// y -30..-10 lies above it
	above := []float32{50, -20, 20, 20, 0.9}
	require.Empty(t, decodeOutput(above, 1, 1, 0.5, params))

	straddling := []float32{95, 50, 20, 20, 0.9}
	cands := decodeOutput(straddling, 1, 1, 0.5, params)
	require.Len(t, cands, 1)
	require.Equal(t, image.Rect(85, 40, 100, 60), cands[0].box)
}

func TestNMS_SuppressesOverlapWithinClass(t *testing.T) {
	cands := []candidate{
		{box: image.Rect(0, 0, 100, 100), score: 0.6, classID: 0},
		{box: image.Rect(5, 5, 100, 100), score: 0.9, classID: 0},
		{box: image.Rect(0, 0, 100, 100), score: 0.8, classID: 1},
		{box: image.Rect(300, 300, 320, 320), score: 0.5, classID: 0},
	}

	kept := nms(cands, 0.7)
	require.Len(t, kept, 3)
	require.InDelta(t, 0.9, kept[0].score, 1e-6)
	require.Equal(t, 1, kept[1].classID)
	require.Equal(t, image.Rect(300, 300, 320, 320), kept[2].box)
}

func TestComputeIOU(t *testing.T) {
	a := image.Rect(0, 0, 10, 10)
	require.InDelta(t, 1.0, computeIOU(a, a), 1e-6)
	require.Zero(t, computeIOU(a, image.Rect(20, 20, 30, 30)))
	require.InDelta(t, 25.0/175.0, computeIOU(a, image.Rect(5, 5, 15, 15)), 1e-6)
}

func TestToDetections_LabelsFromClasses(t *testing.T) {
	dets := toDetections([]candidate{
		{box: image.Rect(1, 2, 3, 4), score: 0.5, classID: 1},
		{box: image.Rect(1, 2, 3, 4), score: 0.5, classID: 9},
	}, []string{"crazing", "inclusion"})

	require.Equal(t, "inclusion", dets[0].Label)
	require.Equal(t, "defect", dets[1].Label)
}
