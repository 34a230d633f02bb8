package videoio

import (
	"fmt"
	"image"
	"image/color"

	"github.com/teslashibe/go-firewatch/pkg/detection"
	"github.com/teslashibe/go-firewatch/pkg/pipeline"
	"gocv.io/x/gocv"
)

// Palette colors boxes by class ID. Colors are RGBA; gocv converts to BGR.
var Palette = []color.RGBA{
	{R: 255, G: 56, B: 56, A: 255},
	{R: 255, G: 157, B: 151, A: 255},
	{R: 255, G: 112, B: 31, A: 255},
	{R: 255, G: 178, B: 29, A: 255},
	{R: 207, G: 210, B: 49, A: 255},
	{R: 72, G: 249, B: 10, A: 255},
	{R: 146, G: 204, B: 23, A: 255},
	{R: 61, G: 219, B: 134, A: 255},
}

// Overlay draws boxes, labels and scores onto frames.
type Overlay struct {
	Thickness int
	FontScale float64
}

// NewOverlay returns an overlay with defaults scaled for 480p–1080p video.
func NewOverlay() *Overlay {
	return &Overlay{Thickness: 2, FontScale: 0.6}
}

// ColorFor returns the palette entry for a class ID.
func ColorFor(classID int) color.RGBA {
	if classID < 0 {
		classID = -classID
	}
	return Palette[classID%len(Palette)]
}

// Caption formats the text drawn above a box.
func Caption(d detection.Detection) string {
	return fmt.Sprintf("%s %.2f", d.Label, d.Confidence)
}

// Annotate implements pipeline.Annotator. The input frame is left untouched.
func (o *Overlay) Annotate(f pipeline.Frame, dets []detection.Detection) (pipeline.Frame, error) {
	if len(dets) == 0 {
		return f, nil
	}

	img, err := ToMat(f)
	if err != nil {
		return pipeline.Frame{}, err
	}
	defer img.Close()

	bounds := f.Bounds()
	for _, d := range dets {
		box := d.Box.Intersect(bounds)
		if box.Empty() {
			continue
		}
		c := ColorFor(d.ClassID)
		gocv.Rectangle(&img, box, c, o.Thickness)
		o.drawCaption(&img, box, Caption(d), c, bounds)
	}

	return FromMat(img)
}

// drawCaption puts white text on a filled tag above the box, or inside it
// when the box touches the top edge.
func (o *Overlay) drawCaption(img *gocv.Mat, box image.Rectangle, text string, c color.RGBA, bounds image.Rectangle) {
	size := gocv.GetTextSize(text, gocv.FontHersheySimplex, o.FontScale, 1)
	pad := 3

	top := box.Min.Y - size.Y - 2*pad
	if top < bounds.Min.Y {
		top = box.Min.Y
	}
	tag := image.Rect(box.Min.X, top, box.Min.X+size.X+2*pad, top+size.Y+2*pad).Intersect(bounds)

	gocv.Rectangle(img, tag, c, -1)
	gocv.PutText(img, text, image.Pt(tag.Min.X+pad, tag.Min.Y+size.Y+pad), gocv.FontHersheySimplex, o.FontScale, color.RGBA{R: 255, G: 255, B: 255, A: 255}, 1)
}

// EncodeJPEG compresses a frame for previews. Quality is 1–100.
func EncodeJPEG(f pipeline.Frame, quality int) ([]byte, error) {
	img, err := ToMat(f)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{int(gocv.IMWriteJpegQuality), quality})
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...), nil
}
