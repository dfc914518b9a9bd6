// Package visual holds the view-facing rendering parameters: the
// cache-relevant VisualKey tuple and the full set of parameters the
// Pixel Composer needs to draw a waveform column by column.
package visual

import (
	"image/color"

	"github.com/hsluv/hsluv-go"
)

// Shape selects between a full min/max waveform and a rectified
// (absolute-value, bottom-aligned) one.
type Shape int

const (
	Normal Shape = iota
	Rectified
)

// Key is the subset of a view's parameters that participates in cache
// equality and invalidation: channel, height, amplitude scale, and
// fill color. Two cache entries are only ever compared for the
// subset/eviction relation when their Keys are equal.
type Key struct {
	Channel   int
	Height    int
	Amplitude float64
	FillColor color.RGBA
}

// Params is the full set of visual parameters the Pixel Composer
// consumes. Params.Key() extracts the cache-relevant subset.
type Params struct {
	Channel   int
	Height    int
	Amplitude float64

	Shape         Shape
	Logscaled     bool
	GradientDepth float64

	// AmplitudeAboveAxis independently scales the upper half of a
	// Normal-shape waveform; 1.0 leaves it unchanged. Carried over
	// from Ardour's WaveView::_amplitude_above_axis.
	AmplitudeAboveAxis float64

	ShowZeroLine bool
	ClipLevel    float64 // already multiplied by region amplitude

	FillColor    color.RGBA
	OutlineColor color.RGBA
	ClipColor    color.RGBA
	ZeroColor    color.RGBA

	// ShowClipIndicator mirrors the global
	// show-waveform-clipping toggle.
	ShowClipIndicator bool
}

// Key extracts the cache-relevant tuple from a full Params value.
func (p Params) Key() Key {
	return Key{
		Channel:   p.Channel,
		Height:    p.Height,
		Amplitude: p.Amplitude,
		FillColor: p.FillColor,
	}
}

// DefaultPalette returns a perceptually-even set of fill/outline/clip/
// zero colors generated with HSLuv, used whenever a caller builds
// Params without specifying explicit colors. Hue is the only knob a
// caller needs to turn to get a self-consistent palette.
func DefaultPalette(hue float64) (fill, outline, clip, zero color.RGBA) {
	fill = hsluvRGBA(hue, 70, 55)
	outline = hsluvRGBA(hue, 20, 85)
	clip = hsluvRGBA(0, 90, 50)
	zero = hsluvRGBA(hue, 10, 40)
	return
}

func hsluvRGBA(h, s, l float64) color.RGBA {
	r, g, b := hsluv.HsluvToRGB(h, s, l)
	clamp := func(v float64) uint8 {
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		return uint8(v*255.0 + 0.5)
	}
	return color.RGBA{R: clamp(r), G: clamp(g), B: clamp(b), A: 255}
}
