package processing

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"sync"

	"defectvision/internal/logging"
	"defectvision/internal/models"

	"github.com/disintegration/imaging"
	"github.com/flopp/go-findfont"
	"github.com/up-zero/gotool/imageutil"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	captionX     = 10
	captionY     = 30
	captionSize  = 22
	labelSize    = 14
	boxThickness = 2
	labelPadding = 4
)

var (
	CaptionOK    = color.RGBA{G: 255, A: 255}
	CaptionError = color.RGBA{R: 255, A: 255}

	// same palette order as the ultralytics plotter for the first classes
	boxPalette = []color.RGBA{
		{R: 255, G: 56, B: 56, A: 255},
		{R: 255, G: 157, B: 151, A: 255},
		{R: 255, G: 112, B: 31, A: 255},
		{R: 255, G: 178, B: 29, A: 255},
		{R: 207, G: 210, B: 49, A: 255},
		{R: 72, G: 249, B: 10, A: 255},
		{R: 146, G: 204, B: 23, A: 255},
		{R: 61, G: 219, B: 134, A: 255},
	}

	systemFonts = []string{
		"DejaVuSans.ttf",
		"NotoSans-Regular.ttf",
		"Arial.ttf",
		"LiberationSans-Regular.ttf",
	}
)

// Annotator burns detection boxes and captions into images. Font faces are not
// safe for concurrent use, so drawing is serialized.
type Annotator struct {
	mu      sync.Mutex
	caption font.Face
	label   font.Face
}

// NewAnnotator loads fontPath, or the first known system font when fontPath is
// empty, and falls back to the built-in bitmap face when none is found.
func NewAnnotator(fontPath string) (*Annotator, error) {
	if fontPath == "" {
		for _, name := range systemFonts {
			if p, err := findfont.Find(name); err == nil {
				fontPath = p
				break
			}
		}
	}
	if fontPath == "" {
		logging.L().Debug("no system font found, using bitmap face")
		return NewBasicAnnotator(), nil
	}

	data, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("read font: %w", err)
	}
	ttf, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font %s: %w", fontPath, err)
	}

	caption, err := newFace(ttf, captionSize)
	if err != nil {
		return nil, err
	}
	label, err := newFace(ttf, labelSize)
	if err != nil {
		caption.Close()
		return nil, err
	}

	return &Annotator{caption: caption, label: label}, nil
}

// NewBasicAnnotator draws with the built-in 7x13 bitmap face.
func NewBasicAnnotator() *Annotator {
	return &Annotator{caption: basicfont.Face7x13, label: basicfont.Face7x13}
}

func newFace(f *opentype.Font, size float64) (font.Face, error) {
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create font face: %w", err)
	}
	return face, nil
}

// Caption draws text with its baseline at the top-left caption anchor.
func (a *Annotator) Caption(dst draw.Image, text string, c color.Color) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b := dst.Bounds()
	a.drawText(dst, a.caption, text, b.Min.X+captionX, b.Min.Y+captionY, c)
}

// Render returns a copy of img with every detection outlined and labelled.
func (a *Annotator) Render(img image.Image, dets []models.Detection) *image.RGBA {
	dst := image.NewRGBA(img.Bounds())
	draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Src)

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, det := range dets {
		col := boxPalette[0]
		if det.ClassID > 0 {
			col = boxPalette[det.ClassID%len(boxPalette)]
		}
		imageutil.DrawThickRectOutline(dst, det.Box, col, boxThickness)

		text := fmt.Sprintf("%s %.2f", det.Label, det.Score)
		width := font.MeasureString(a.label, text).Ceil()
		height := a.label.Metrics().Height.Ceil()

		top := det.Box.Min.Y - height - labelPadding
		if top < dst.Bounds().Min.Y {
			top = det.Box.Min.Y
		}
		bg := image.Rect(det.Box.Min.X, top, det.Box.Min.X+width+2*labelPadding, top+height+labelPadding)
		draw.Draw(dst, bg, image.NewUniform(col), image.Point{}, draw.Src)

		a.drawText(dst, a.label, text, bg.Min.X+labelPadding, bg.Max.Y-labelPadding, color.White)
	}

	return dst
}

// ErrorImage returns a copy of img with the error text burned in.
func (a *Annotator) ErrorImage(img image.Image, err error) *image.NRGBA {
	dst := imaging.Clone(img)
	a.Caption(dst, models.ErrorCaption(err), CaptionError)
	return dst
}

func (a *Annotator) drawText(dst draw.Image, face font.Face, text string, x, y int, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func (a *Annotator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.caption != nil {
		a.caption.Close()
	}
	if a.label != nil && a.label != a.caption {
		a.label.Close()
	}
}

// drawable returns img itself when it can be drawn on, otherwise a copy.
func drawable(img image.Image) draw.Image {
	if d, ok := img.(draw.Image); ok {
		return d
	}
	return imaging.Clone(img)
}
