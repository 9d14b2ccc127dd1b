package processor

import (
	"sync"

	"github.com/gouthamgo/privascan/internal/config"
	"github.com/gouthamgo/privascan/internal/preprocess"
	"github.com/gouthamgo/privascan/internal/recognize"
	"github.com/gouthamgo/privascan/internal/textclean"
)

// NormalizerOptions converts the profile's preprocessing section. Unset
// values fall back to preprocess.DefaultOptions.
func NormalizerOptions(p *config.Profile) preprocess.Options {
	o := preprocess.DefaultOptions()
	if p.Preprocess.Contrast > 0 {
		o.Contrast = p.Preprocess.Contrast
	}
	if v := p.Preprocess.WhiteCutoff; v != nil {
		o.WhiteCutoff = uint8(*v)
	}
	if v := p.Preprocess.BlackCutoff; v != nil {
		o.BlackCutoff = uint8(*v)
	}
	return o
}

// Thresholds converts the profile's cleaning section. Unset values fall
// back to textclean.DefaultThresholds.
func Thresholds(p *config.Profile) textclean.Thresholds {
	t := textclean.DefaultThresholds()
	if v := p.Cleaning.ShortWordRatio; v != nil {
		t.ShortWordRatio = *v
	}
	if v := p.Cleaning.AlphaRatio; v != nil {
		t.AlphaRatio = *v
	}
	if v := p.Cleaning.MinAvgWordLength; v != nil {
		t.MinAvgWordLength = *v
	}
	return t
}

// RecognizeOptions overlays the profile's OCR section on base.
func RecognizeOptions(base recognize.Options, p *config.Profile) recognize.Options {
	if p.OCR.Language != "" {
		base.Language = p.OCR.Language
	}
	if p.OCR.PageSegMode > 0 {
		base.PageSegMode = p.OCR.PageSegMode
	}
	return base
}

type filterKey struct {
	shortWordRatio   float64
	alphaRatio       float64
	minAvgWordLength float64
}

var filters sync.Map // filterKey -> *textclean.Filter

// FilterForProfile returns the text filter for p, or nil when the profile
// disables cleaning. Filters are shared between profiles with equal
// thresholds.
func FilterForProfile(p *config.Profile) *textclean.Filter {
	if !p.Cleaning.Enabled {
		return nil
	}

	t := Thresholds(p)
	key := filterKey{t.ShortWordRatio, t.AlphaRatio, t.MinAvgWordLength}
	if f, ok := filters.Load(key); ok {
		return f.(*textclean.Filter)
	}
	f, _ := filters.LoadOrStore(key, textclean.New(textclean.WithThresholds(t)))
	return f.(*textclean.Filter)
}
