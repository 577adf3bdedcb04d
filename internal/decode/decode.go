// Package decode locates and reads barcodes and QR codes in frames.
package decode

import (
	"image"
	"strings"

	"github.com/go-faster/errors"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// Detection is one symbol found in a frame.
type Detection struct {
	Code     string
	Format   string
	Position image.Point
}

// Decoder finds symbols in an image. No symbols is not an error.
type Decoder interface {
	Decode(img image.Image) ([]Detection, error)
}

// ErrUnknownFormat is returned for symbology names the decoder does not know.
var ErrUnknownFormat = errors.New("unknown symbology")

var upcean = map[string]gozxing.BarcodeFormat{
	"ean13": gozxing.BarcodeFormat_EAN_13,
	"ean8":  gozxing.BarcodeFormat_EAN_8,
	"upca":  gozxing.BarcodeFormat_UPC_A,
	"upce":  gozxing.BarcodeFormat_UPC_E,
}

// ZXing decodes with gozxing readers.
type ZXing struct {
	readers []gozxing.Reader
	hints   map[gozxing.DecodeHintType]interface{}
}

// NewZXing returns a decoder for the named symbologies: ean13, ean8, upca,
// upce, code128, code39 and qr. Names are case-insensitive.
func NewZXing(formats []string) (*ZXing, error) {
	var (
		retail  []gozxing.BarcodeFormat
		readers []gozxing.Reader
		qr      bool
	)
	seen := map[string]bool{}
	for _, f := range formats {
		name := strings.ToLower(strings.TrimSpace(f))
		if seen[name] {
			continue
		}
		seen[name] = true
		if bf, ok := upcean[name]; ok {
			retail = append(retail, bf)
			continue
		}
		switch name {
		case "code128":
			readers = append(readers, oned.NewCode128Reader())
		case "code39":
			readers = append(readers, oned.NewCode39Reader())
		case "qr":
			qr = true
		default:
			return nil, errors.Wrapf(ErrUnknownFormat, "%q", f)
		}
	}
	if len(retail) == 0 && len(readers) == 0 && !qr {
		return nil, errors.New("no symbologies enabled")
	}

	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	z := &ZXing{hints: hints}
	if qr {
		z.readers = append(z.readers, qrcode.NewQRCodeReader())
	}
	if len(retail) > 0 {
		z.readers = append(z.readers, oned.NewMultiFormatUPCEANReader(map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_POSSIBLE_FORMATS: retail,
		}))
	}
	z.readers = append(z.readers, readers...)
	return z, nil
}

// Decode runs every enabled reader over img. Each reader contributes at most
// one detection; a code found by two readers is reported once.
func (z *ZXing) Decode(img image.Image) ([]Detection, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, errors.Wrap(err, "binarize frame")
	}
	var out []Detection
	for _, r := range z.readers {
		res, err := r.Decode(bmp, z.hints)
		r.Reset()
		if err != nil || res == nil {
			continue
		}
		code := res.GetText()
		if code == "" || contains(out, code) {
			continue
		}
		out = append(out, Detection{
			Code:     code,
			Format:   res.GetBarcodeFormat().String(),
			Position: position(res.GetResultPoints()),
		})
	}
	return out, nil
}

func contains(ds []Detection, code string) bool {
	for _, d := range ds {
		if d.Code == code {
			return true
		}
	}
	return false
}

// position returns the top-left corner of the result points' bounding box.
func position(points []gozxing.ResultPoint) image.Point {
	var (
		pt    image.Point
		found bool
	)
	for _, p := range points {
		if p == nil {
			continue
		}
		x, y := int(p.GetX()), int(p.GetY())
		if !found {
			pt, found = image.Pt(x, y), true
			continue
		}
		pt.X, pt.Y = min(pt.X, x), min(pt.Y, y)
	}
	return pt
}

// Func adapts a function to Decoder.
type Func func(img image.Image) ([]Detection, error)

// Decode calls f.
func (f Func) Decode(img image.Image) ([]Detection, error) { return f(img) }
