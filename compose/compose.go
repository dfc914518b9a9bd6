// Package compose implements the Pixel Composer: a pure function from
// a peak array and a set of visual parameters to a finished raster
// image. It is the heaviest single component in the pipeline (the
// per-column math runs once per rendered image column) so the hot
// arithmetic is done in float32 via chewxy/math32, and the four mask
// layers are composited onto the output using phrozen/blend rather
// than hand-rolled alpha math.
package compose

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/chewxy/math32"
	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/phrozen/blend"

	"github.com/audiowave/wavecore/peaks"
	"github.com/audiowave/wavecore/visual"
)

const (
	logLowerDB = -192.0
	logUpperDB = 0.0
	logCurve   = 8.0
)

// logMeter compresses a linear amplitude coefficient into [0,1] using
// the same log-meter curve Ardour calls alt_log_meter: 20*log10(p) run
// through a -192..0 dB windowed power curve.
func logMeter(p float32) float32 {
	if p <= 0 {
		return 0
	}
	db := 20 * math32.Log10(p)
	if db < logLowerDB {
		return 0
	}
	return math32.Pow(float32((db-logLowerDB)/(logUpperDB-logLowerDB)), logCurve)
}

// lineTips holds the derived per-column geometry used to draw and
// mask a single waveform column.
type lineTips struct {
	top, bot, spread float32
	clipMax, clipMin bool
}

// yExtent maps a signed amplitude fraction s in [-1,1] to an integral
// row within the image, matching WaveView::y_extent: Rectified aligns
// to the bottom, Normal rounds away from the zero line so the drawn
// extent always grows from the midline.
func yExtent(s float32, height int, rectified bool) float32 {
	h := float32(height)
	if rectified {
		return math32.Floor((1 - s) * (h - 2))
	}
	var pos float32
	if s < 0 {
		pos = math32.Ceil((1 - s) * 0.5 * (h - 4))
	} else {
		pos = math32.Floor((1 - s) * 0.5 * (h - 4))
	}
	if pos < 0 {
		pos = 0
	}
	if max := h - 4; pos > max {
		pos = max
	}
	return pos
}

func computeTips(pk []peaks.Peak, p visual.Params) []lineTips {
	n := len(pk)
	tips := make([]lineTips, n)
	clipLevel := float32(p.ClipLevel)
	height := p.Height

	if p.Shape == visual.Rectified {
		for i := 0; i < n; i++ {
			tips[i].bot = float32(height) - 1
			amp := math32.Max(math32.Abs(pk[i].Max), math32.Abs(pk[i].Min))
			var s float32
			if p.Logscaled {
				s = logMeter(amp)
				tips[i].top = yExtent(s, height, true)
				tips[i].spread = s * (float32(height) - 1)
			} else {
				tips[i].top = yExtent(amp, height, true)
				tips[i].spread = amp * (float32(height) - 2)
			}
			if pk[i].Max >= clipLevel {
				tips[i].clipMax = true
			}
			if -pk[i].Min >= clipLevel {
				tips[i].clipMin = true
			}
		}
		return tips
	}

	aboveAxis := float32(p.AmplitudeAboveAxis)
	for i := 0; i < n; i++ {
		if pk[i].Max >= clipLevel {
			tips[i].clipMax = true
		}
		if -pk[i].Min >= clipLevel {
			tips[i].clipMin = true
		}

		top := pk[i].Max * aboveAxis
		bot := pk[i].Min

		if p.Logscaled {
			top = signedLogMeter(top)
			bot = signedLogMeter(bot)
		}

		tips[i].top = yExtent(top, height, false)
		tips[i].bot = height1Minus(yExtent(-bot, height, false), height)
		tips[i].spread = tips[i].bot - tips[i].top
	}
	return tips
}

// signedLogMeter applies the log-meter curve while preserving sign,
// matching the Normal/logscaled branch of WaveView::draw_image.
func signedLogMeter(v float32) float32 {
	switch {
	case v > 0:
		return logMeter(v)
	case v < 0:
		return -logMeter(-v)
	default:
		return 0
	}
}

// height1Minus mirrors the original's "round_to_lower_edge" bottom
// computation: yExtent(-bot) gives the mirrored row, which is then
// reflected back across the vertical midline implied by
// yExtent(top,...).
func height1Minus(mirrored float32, height int) float32 {
	return float32(height) - 4 - mirrored
}

// Request is the subset of cancellation state the composer polls.
// Implementations are expected to wrap an atomic flag.
type Request interface {
	ShouldStop() bool
}

// Render draws the ARGB image for a column of peaks under the given
// visual parameters. It returns (nil, false) if the request is
// cancelled at any of the three checkpoints called out in the spec:
// immediately after LineTips computation, after mask drawing, and
// after gradient construction.
func Render(pk []peaks.Peak, p visual.Params, req Request) (*image.NRGBA, bool) {
	n := len(pk)
	height := p.Height

	tips := computeTips(pk, p)

	if req.ShouldStop() {
		return nil, false
	}

	wave := image.NewAlpha(image.Rect(0, 0, n, height))
	outline := image.NewAlpha(image.Rect(0, 0, n, height))
	clip := image.NewAlpha(image.Rect(0, 0, n, height))
	zero := image.NewAlpha(image.Rect(0, 0, n, height))

	clipHeight := math32.Min(7, math32.Ceil(float32(height)*0.05))

	if p.Shape == visual.Rectified {
		drawRectified(wave, outline, clip, tips, p, clipHeight)
	} else {
		drawNormal(wave, outline, clip, zero, tips, p, clipHeight)
	}

	if req.ShouldStop() {
		return nil, false
	}

	wavePaint := buildWavePaint(p)

	if req.ShouldStop() {
		return nil, false
	}

	out := image.NewNRGBA(image.Rect(0, 0, n, height))
	out = compositeOver(out, wave, wavePaint)
	out = compositeOver(out, outline, solid(p.OutlineColor))
	out = compositeOver(out, clip, solid(p.ClipColor))
	out = compositeOver(out, zero, solid(p.ZeroColor))

	return out, true
}

func setPixel(mask *image.Alpha, x, y int) {
	b := mask.Bounds()
	if x < b.Min.X || x >= b.Max.X || y < b.Min.Y || y >= b.Max.Y {
		return
	}
	mask.SetAlpha(x, y, color.Alpha{A: 255})
}

func setColumn(mask *image.Alpha, x, y0, y1 int) {
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	for y := y0; y <= y1; y++ {
		setPixel(mask, x, y)
	}
}

func drawRectified(wave, outline, clip *image.Alpha, tips []lineTips, p visual.Params, clipHeight float32) {
	for i, t := range tips {
		if t.spread >= 1 {
			setColumn(wave, i, int(t.top), int(t.bot))
		}
		if p.ShowClipIndicator && t.clipMax {
			length := math32.Min(clipHeight, math32.Ceil(t.spread+0.5))
			setColumn(clip, i, int(t.top), int(t.top+length))
		} else {
			setPixel(outline, i, int(t.top))
		}
	}
}

func drawNormal(wave, outline, clip, zero *image.Alpha, tips []lineTips, p visual.Params, clipHeight float32) {
	height2 := (float32(p.Height) - 4) * 0.5

	for i, t := range tips {
		drawOutlineAsWave := false

		if t.spread >= 2 {
			setColumn(wave, i, int(t.top), int(t.bot))
		}

		if i > 0 {
			prev := tips[i-1]
			if prev.top+2 < t.top {
				mid := (t.bot + prev.top) / 2
				setColumn(wave, i-1, int(prev.top), int(mid))
				setColumn(wave, i, int(mid), int(t.top))
			} else if prev.bot > t.bot+2 {
				mid := (t.top + prev.bot) / 2
				setColumn(wave, i-1, int(prev.bot), int(mid))
				setColumn(wave, i, int(mid), int(t.bot))
			}
		}

		if t.spread >= 5 && p.ShowZeroLine {
			setPixel(zero, i, int(math32.Floor(height2)))
		}

		if t.spread > 1 {
			if p.ShowClipIndicator && t.clipMin {
				sign := float32(1)
				if t.bot > height2 {
					sign = -1
				}
				length := sign * math32.Min(clipHeight, math32.Ceil(t.spread+0.5))
				setColumn(clip, i, int(t.bot), int(t.bot+length))
			} else {
				setPixel(outline, i, int(t.bot))
			}
		} else {
			drawOutlineAsWave = true
			if t.clipMin {
				tips[i].clipMax = true
			}
		}

		if p.ShowClipIndicator && tips[i].clipMax {
			sign := float32(1)
			if t.top > height2 {
				sign = -1
			}
			length := sign * math32.Min(clipHeight, math32.Ceil(t.spread+0.5))
			setColumn(clip, i, int(t.top), int(t.top+length))
		} else if drawOutlineAsWave {
			setPixel(wave, i, int(t.top))
		} else {
			setPixel(outline, i, int(t.top))
		}
	}
}

// layerPaint produces the per-pixel color used to fill a mask layer.
// For the wave layer with a nonzero gradient depth it varies by row;
// every other layer (and a zero-depth wave layer) is a flat color.
type layerPaint func(x, y, height int) color.RGBA

func solid(c color.RGBA) layerPaint {
	return func(x, y, height int) color.RGBA { return c }
}

func buildWavePaint(p visual.Params) layerPaint {
	if p.GradientDepth <= 0 {
		return solid(p.FillColor)
	}

	var stops [3]float64
	if p.Shape == visual.Rectified {
		stops = [3]float64{0.1, 0.3, 0.9}
	} else {
		stops = [3]float64{0.1, 0.5, 0.9}
	}

	mid := colorful.Color{
		R: float64(p.FillColor.R) / 255,
		G: float64(p.FillColor.G) / 255,
		B: float64(p.FillColor.B) / 255,
	}
	h, s, v := mid.Hsv()
	v *= 1 - p.GradientDepth
	edge := colorful.Hsv(h, s, v)

	return func(x, y, height int) color.RGBA {
		t := float64(y) / float64(height-1)
		var c colorful.Color
		switch {
		case t <= stops[0]:
			c = edge
		case t >= stops[2]:
			c = edge
		case t <= stops[1]:
			frac := (t - stops[0]) / (stops[1] - stops[0])
			c = edge.BlendHcl(mid, frac).Clamped()
		default:
			frac := (t - stops[1]) / (stops[2] - stops[1])
			c = mid.BlendHcl(edge, frac).Clamped()
		}
		r, g, b := c.Clamped().RGB255()
		return color.RGBA{R: r, G: g, B: b, A: p.FillColor.A}
	}
}

// compositeOver paints mask onto dst using paint as the color source
// and blend.Normal to perform the straight-alpha "mask then fill"
// step described in the spec, instead of hand-rolled alpha blending.
func compositeOver(dst *image.NRGBA, mask *image.Alpha, paint layerPaint) *image.NRGBA {
	b := mask.Bounds()
	layer := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			a := mask.AlphaAt(x, y).A
			if a == 0 {
				continue
			}
			c := paint(x, y, b.Dy())
			layer.SetNRGBA(x, y, color.NRGBA{R: c.R, G: c.G, B: c.B, A: a})
		}
	}
	blended := image.NewNRGBA(b)
	draw.Draw(blended, b, blend.Normal(dst, layer), b.Min, draw.Src)
	return blended
}
