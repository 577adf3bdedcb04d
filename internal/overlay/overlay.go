// Package overlay renders the product caption onto preview frames.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/fairyhunter13/scan-kiosk/internal/model"
)

// Origin is the caption baseline position.
var Origin = image.Pt(10, 30)

var (
	textColor = color.RGBA{G: 0xff, A: 0xff}
	backColor = color.RGBA{A: 0xa0}
)

const pad = 4

// Renderer formats prices and draws captions. It is safe for concurrent use.
type Renderer struct {
	currency string
	printer  *message.Printer
	face     font.Face
}

// New returns a renderer that prefixes prices with currency.
func New(currency string) *Renderer {
	return &Renderer{
		currency: currency,
		printer:  message.NewPrinter(language.English),
		face:     basicfont.Face7x13,
	}
}

// FormatPrice renders an amount with thousands separators, e.g. "Rp2,500".
func (r *Renderer) FormatPrice(amount int64) string {
	return r.currency + r.printer.Sprintf("%d", amount)
}

// Caption is the single overlay line for p.
func (r *Renderer) Caption(p model.Product) string {
	return fmt.Sprintf("Name: %s | Category: %s | Price: %s", p.Name, p.Category, r.FormatPrice(p.UnitPrice))
}

// Draw writes text at Origin over a translucent backing box, clipped to dst.
func (r *Renderer) Draw(dst *image.RGBA, text string) {
	if text == "" {
		return
	}
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(textColor),
		Face: r.face,
		Dot:  fixed.P(Origin.X, Origin.Y),
	}
	m := r.face.Metrics()
	box := image.Rect(
		Origin.X-pad,
		Origin.Y-m.Ascent.Ceil()-pad,
		Origin.X+d.MeasureString(text).Ceil()+pad,
		Origin.Y+m.Descent.Ceil()+pad,
	).Intersect(dst.Bounds())
	draw.Draw(dst, box, image.NewUniform(backColor), image.Point{}, draw.Over)
	d.DrawString(text)
}

// Annotate draws p's caption on dst.
func (r *Renderer) Annotate(dst *image.RGBA, p model.Product) {
	r.Draw(dst, r.Caption(p))
}
