// Package preprocess prepares page photographs for text recognition.
package preprocess

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// Options controls the normalization transform. Start from DefaultOptions:
// a zero Contrast or Midpoint takes the default, but the cutoffs are used as
// given, so a zero BlackCutoff disables the black clamp.
type Options struct {
	// Contrast is the factor applied around Midpoint after grayscale conversion.
	Contrast float64
	// Midpoint is the gray level left unchanged by the contrast stretch.
	Midpoint float64
	// WhiteCutoff: levels above it become pure white.
	WhiteCutoff uint8
	// BlackCutoff: levels below it become pure black.
	BlackCutoff uint8
}

// DefaultOptions returns the stock normalization settings.
func DefaultOptions() Options {
	return Options{
		Contrast:    1.5,
		Midpoint:    128,
		WhiteCutoff: 200,
		BlackCutoff: 100,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Contrast == 0 {
		o.Contrast = d.Contrast
	}
	if o.Midpoint == 0 {
		o.Midpoint = d.Midpoint
	}
	return o
}

// Normalize converts img to high-contrast grayscale with DefaultOptions.
func Normalize(img image.Image) *image.NRGBA {
	return DefaultOptions().Normalize(img)
}

// Normalize returns a new image of the same size as img in which every pixel
// is replaced by its contrast-stretched gray level, with near-white and
// near-black levels pushed to the extremes. Alpha is preserved. The input is
// never modified.
func (o Options) Normalize(img image.Image) *image.NRGBA {
	o = o.withDefaults()
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		v := o.Level(c.R, c.G, c.B)
		return color.NRGBA{R: v, G: v, B: v, A: c.A}
	})
}

// Level computes the output gray level for one pixel.
func (o Options) Level(r, g, b uint8) uint8 {
	o = o.withDefaults()

	// Explicit conversions round each product and keep the compiler from
	// fusing them into FMA instructions.
	gray := roundHalfUp(float64(0.299*float64(r)) + float64(0.587*float64(g)) + float64(0.114*float64(b)))
	enhanced := roundHalfUp(float64((gray-o.Midpoint)*o.Contrast) + o.Midpoint)
	enhanced = math.Max(0, math.Min(255, enhanced))

	v := uint8(enhanced)
	switch {
	case v > o.WhiteCutoff:
		return 255
	case v < o.BlackCutoff:
		return 0
	default:
		return v
	}
}

func roundHalfUp(v float64) float64 {
	return math.Floor(v + 0.5)
}
