package preprocess

import (
	"image"
	"image/color"
)

// DefaultBlankThreshold is the white-pixel ratio at which a page counts as blank.
const DefaultBlankThreshold = 0.99

// IsBlank reports whether img is mostly white. Every 4th pixel in each
// direction is sampled; a zero-area image is blank.
func IsBlank(img image.Image, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultBlankThreshold
	}

	bounds := img.Bounds()
	if bounds.Empty() {
		return true
	}

	white, sampled := 0, 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y += 4 {
		for x := bounds.Min.X; x < bounds.Max.X; x += 4 {
			gray := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			if gray.Y > 240 {
				white++
			}
			sampled++
		}
	}

	return float64(white)/float64(sampled) >= threshold
}
