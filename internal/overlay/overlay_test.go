package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/scan-kiosk/internal/model"
)

func TestFormatPrice(t *testing.T) {
	r := New("Rp")
	assert.Equal(t, "Rp2,500", r.FormatPrice(2500))
	assert.Equal(t, "Rp1,250,000", r.FormatPrice(1250000))
	assert.Equal(t, "Rp0", r.FormatPrice(0))
	assert.Equal(t, "$999", New("$").FormatPrice(999))
}

func TestCaption(t *testing.T) {
	r := New("Rp")
	got := r.Caption(model.Product{Name: "Soap", Category: "Toiletries", UnitPrice: 2500})
	assert.Equal(t, "Name: Soap | Category: Toiletries | Price: Rp2,500", got)
}

func TestDrawMarksOnlyCaptionArea(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	white := color.RGBA{0xff, 0xff, 0xff, 0xff}
	draw.Draw(img, img.Bounds(), image.NewUniform(white), image.Point{}, draw.Src)

	New("Rp").Draw(img, "Name: Soap")

	assert.NotEqual(t, white, img.RGBAAt(Origin.X, Origin.Y-5), "caption area changed")
	assert.Equal(t, white, img.RGBAAt(300, 300), "rest of frame untouched")
	assert.Equal(t, white, img.RGBAAt(2, 2))

	green := 0
	for x := Origin.X; x < Origin.X+70; x++ {
		for y := Origin.Y - 13; y < Origin.Y+3; y++ {
			if img.RGBAAt(x, y) == textColor {
				green++
			}
		}
	}
	assert.Positive(t, green, "glyphs drawn in caption colour")
}

func TestDrawClipsToSmallFrames(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	assert.NotPanics(t, func() {
		New("Rp").Draw(img, "Name: A very long product name that overflows")
	})
	before := image.NewRGBA(img.Rect)
	New("Rp").Draw(before, "")
	assert.Equal(t, make([]byte, len(before.Pix)), before.Pix)
}
