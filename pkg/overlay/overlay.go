package overlay

import (
	"image"
	"image/color"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/menta2k/ship-detector/pkg/types"
)

// ErrInvalidStyle is returned for a stroke thinner than one pixel
var ErrInvalidStyle = errors.New("overlay: thickness must be at least 1")

// Style controls how boxes are stroked
type Style struct {
	Color     color.NRGBA
	Thickness int
	// Label draws each box's index above its top-left corner
	Label bool
}

// DefaultStyle returns a 2px green stroke without labels
func DefaultStyle() Style {
	return Style{
		Color:     color.NRGBA{R: 0, G: 255, B: 0, A: 255},
		Thickness: 2,
	}
}

// DrawBoxes returns a copy of src with every box outlined, in sequence order.
// Each outline runs from (X,Y) to (X+Width,Y+Height) inclusive, so later boxes
// overwrite earlier ones where they cross. src is never modified.
func DrawBoxes(src image.Image, boxes []types.BoundingBox, style Style) (*image.NRGBA, error) {
	if err := types.CheckImage(src, ""); err != nil {
		return nil, err
	}
	if style.Thickness < 1 {
		return nil, errors.Wrapf(ErrInvalidStyle, "got %d", style.Thickness)
	}

	dst := imaging.Clone(src)
	for i, box := range boxes {
		drawRect(dst, box, style.Color, style.Thickness)
		if style.Label {
			drawLabel(dst, box, strconv.Itoa(i), style)
		}
	}
	return dst, nil
}

func drawRect(img *image.NRGBA, box types.BoundingBox, c color.NRGBA, thickness int) {
	x0, y0 := box.X, box.Y
	x1, y1 := box.X+box.Width, box.Y+box.Height

	// stroke centred on the outline
	lo := -(thickness - 1) / 2
	hi := thickness / 2
	for d := lo; d <= hi; d++ {
		drawHLine(img, y0+d, x0+lo, x1+hi, c)
		drawHLine(img, y1+d, x0+lo, x1+hi, c)
		drawVLine(img, x0+d, y0+lo, y1+hi, c)
		drawVLine(img, x1+d, y0+lo, y1+hi, c)
	}
}

func drawLabel(img *image.NRGBA, box types.BoundingBox, text string, style Style) {
	face := basicfont.Face7x13
	ascent := face.Metrics().Ascent.Ceil()

	y := box.Y - style.Thickness - 1
	if y-ascent < 0 {
		y = box.Y + style.Thickness + ascent + 1
	}
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(style.Color),
		Face: face,
		Dot:  fixed.P(box.X, y),
	}
	d.DrawString(text)
}

// drawHLine paints row y from x0 to x1 inclusive, clipped to the image
func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if y < 0 || y >= h {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 < 0 || x0 >= w {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if x1 >= w {
		x1 = w - 1
	}
	i := y*img.Stride + x0*4
	for x := x0; x <= x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

// drawVLine paints column x from y0 to y1 inclusive, clipped to the image
func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if x < 0 || x >= w {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 < 0 || y0 >= h {
		return
	}
	if y0 < 0 {
		y0 = 0
	}
	if y1 >= h {
		y1 = h - 1
	}
	i := y0*img.Stride + x*4
	for y := y0; y <= y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
