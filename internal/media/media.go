// Package media turns uploaded or generated pictures into the renditions
// Playforge serves: a cropped master plus a ladder of smaller sizes, each
// as JPEG and WebP.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder
	"math"
	"mime"
	"net/http"
	"strings"

	"github.com/chai2010/webp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder
)

const (
	// MasterMaxSide bounds the longer side of the stored master.
	MasterMaxSide = 1600
	JPEGQuality   = 82
	WebPQuality   = 72
)

// Size is one step of the variant ladder.
type Size struct {
	Name string
	Px   int
}

// Ladder lists the variants rendered from a master, smallest first. Sizes
// larger than the master are skipped, never upscaled.
var Ladder = []Size{
	{Name: "thumb", Px: 320},
	{Name: "card", Px: 640},
	{Name: "hero", Px: 1280},
}

// Aspect is a crop shape a master is snapped to.
type Aspect struct {
	Name  string
	Ratio float64 // width / height
}

// Aspects are the shapes game cards render in: landscape cabinets, square
// tiles, and portrait phone games.
var Aspects = []Aspect{
	{Name: "wide", Ratio: 16.0 / 9.0},
	{Name: "square", Ratio: 1},
	{Name: "tall", Ratio: 9.0 / 16.0},
}

// Errors returned by Decode. Callers map them to user-facing validation
// messages.
var (
	ErrNotImage     = errors.New("not an image")
	ErrUnsupported  = errors.New("unsupported image format")
	ErrTypeMismatch = errors.New("declared content type does not match image data")
)

var formatMIME = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
}

// Decode sniffs and decodes data. When declared names an image type it must
// agree with the sniffed one; image/jpg is accepted as an alias.
func Decode(data []byte, declared string) (image.Image, string, error) {
	if _, ok := sniffedFormat(http.DetectContentType(data)); !ok {
		return nil, "", ErrNotImage
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	mimeType, ok := formatMIME[format]
	if !ok {
		return nil, "", ErrUnsupported
	}
	if d := canonicalType(declared); strings.HasPrefix(d, "image/") && d != mimeType {
		return nil, "", ErrTypeMismatch
	}
	return img, format, nil
}

func sniffedFormat(contentType string) (string, bool) {
	ct := canonicalType(contentType)
	for format, m := range formatMIME {
		if m == ct {
			return format, true
		}
	}
	return "", false
}

func canonicalType(ct string) string {
	if ct == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(ct); err == nil {
		ct = parsed
	}
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "image/jpg" {
		return "image/jpeg"
	}
	return ct
}

// NearestAspect returns the aspect closest to w:h and the centred crop
// rectangle that achieves it.
func NearestAspect(w, h int) (Aspect, image.Rectangle) {
	if w <= 0 || h <= 0 {
		return Aspect{Name: "free"}, image.Rect(0, 0, max(w, 0), max(h, 0))
	}
	ratio := float64(w) / float64(h)

	best := Aspects[0]
	for _, a := range Aspects[1:] {
		// Compare in log space so 2:1 and 1:2 are equally far from square.
		if math.Abs(math.Log(ratio/a.Ratio)) < math.Abs(math.Log(ratio/best.Ratio)) {
			best = a
		}
	}

	cw, ch := w, h
	if ratio > best.Ratio {
		cw = max(int(math.Round(float64(h)*best.Ratio)), 1)
	} else {
		ch = max(int(math.Round(float64(w)/best.Ratio)), 1)
	}
	x, y := (w-cw)/2, (h-ch)/2
	return best, image.Rect(x, y, x+cw, y+ch)
}

// Master crops src to its nearest aspect, flattens transparency onto
// white and bounds it to MasterMaxSide.
func Master(src image.Image) (image.Image, Aspect) {
	b := src.Bounds()
	aspect, crop := NearestAspect(b.Dx(), b.Dy())
	crop = crop.Add(b.Min)

	flat := image.NewRGBA(image.Rect(0, 0, crop.Dx(), crop.Dy()))
	draw.Draw(flat, flat.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(flat, flat.Bounds(), src, crop.Min, draw.Over)

	return Fit(flat, MasterMaxSide), aspect
}

// Fit scales src down so neither side exceeds maxSide.
func Fit(src image.Image, maxSide int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxSide && h <= maxSide {
		return src
	}
	scale := float64(maxSide) / float64(max(w, h))
	dst := image.NewRGBA(image.Rect(0, 0, max(int(float64(w)*scale), 1), max(int(float64(h)*scale), 1)))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)
	return dst
}

// Fits reports whether the ladder step is worth rendering for a master of
// the given bounds.
func (s Size) Fits(master image.Rectangle) bool {
	return master.Dx() >= s.Px || master.Dy() >= s.Px
}

// Format is an output encoding.
type Format struct {
	Ext         string
	ContentType string
	encode      func(image.Image) ([]byte, error)
}

// Encode renders img in f.
func (f Format) Encode(img image.Image) ([]byte, error) {
	return f.encode(img)
}

var (
	JPEG = Format{Ext: "jpg", ContentType: "image/jpeg", encode: func(img image.Image) ([]byte, error) {
		var buf bytes.Buffer
		err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality})
		return buf.Bytes(), err
	}}
	WebP = Format{Ext: "webp", ContentType: "image/webp", encode: func(img image.Image) ([]byte, error) {
		var buf bytes.Buffer
		err := webp.Encode(&buf, img, &webp.Options{Quality: WebPQuality})
		return buf.Bytes(), err
	}}
)

// Formats are the encodings every rendition is stored in.
var Formats = []Format{WebP, JPEG}

// SizeName maps a pixel size back to its ladder name.
func SizeName(px int) string {
	for _, s := range Ladder {
		if s.Px == px {
			return s.Name
		}
	}
	return "custom"
}
