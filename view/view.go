// Package view implements the per-displayed-region View described in
// §3/§4.4: it owns the current visual parameters, the latest request
// handle, and the currently held image, and it is the only component
// that talks to both the cache and the request queue.
package view

import (
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/audiowave/wavecore/cache"
	"github.com/audiowave/wavecore/peaks"
	"github.com/audiowave/wavecore/visual"
	"github.com/audiowave/wavecore/worker"
)

// Rect is a window-space rectangle, following the Canvas's
// coordinate convention (§6): X0,Y0 is the top-left corner.
type Rect struct {
	X0, Y0, X1, Y1 float64
}

func (r Rect) Width() float64  { return r.X1 - r.X0 }
func (r Rect) Height() float64 { return r.Y1 - r.Y0 }
func (r Rect) Empty() bool     { return r.X1 <= r.X0 || r.Y1 <= r.Y0 }

// Intersect returns the overlap of r and o, and whether it is
// non-empty.
func (r Rect) Intersect(o Rect) (Rect, bool) {
	out := Rect{
		X0: math.Max(r.X0, o.X0),
		Y0: math.Max(r.Y0, o.Y0),
		X1: math.Min(r.X1, o.X1),
		Y1: math.Min(r.Y1, o.Y1),
	}
	return out, !out.Empty()
}

// Dispatcher marshals a callback onto the GUI/render thread. A real
// canvas toolkit's idle-add/invoke-later primitive implements this;
// Immediate (below) is enough for tests and for single-threaded
// callers.
type Dispatcher interface {
	Dispatch(func())
}

// Immediate runs callbacks synchronously. Only safe when nothing else
// touches the View concurrently.
type Immediate struct{}

func (Immediate) Dispatch(f func()) { f() }

// Canvas is the subset of the embedding canvas/scene-graph framework
// this module needs (§6): the width used to size the ~2x-view-width
// render request, and a way to ask for a repaint.
type Canvas interface {
	VisibleWidth() int
	Redraw()
}

// Blit describes the single compositing operation Render wants
// performed: draw Image at window coordinates (X, Y).
type Blit struct {
	Image *image.NRGBA
	X, Y  float64
}

// View is a single displayed waveform region.
type View struct {
	region   peaks.Region
	cache    *cache.Cache
	queue    *worker.Queue
	canvas   Canvas
	style    *Style
	dispatch Dispatcher

	// reqMu guards currentRequest: it is read by the worker goroutine
	// (via CurrentRequest, part of worker.Requestor) and written by
	// the GUI thread, so unlike the rest of View's fields it needs
	// its own lock rather than relying on single-threaded GUI access.
	reqMu          sync.Mutex
	currentRequest *worker.Request

	currentImage *image.NRGBA
	imageOffset  float64

	channel            int
	samplesPerPixel    float64
	height             int
	shape              visual.Shape
	logscaled          bool
	gradientDepth      float64
	amplitudeAboveAxis float64
	showZero           bool
	showClipIndicator  bool
	clipLevelCoeff     float64 // coefficient, pre-region-amplitude

	fillColor, outlineColor, clipColor, zeroColor color.RGBA

	shapeIndependent         bool
	logscaledIndependent     bool
	gradientDepthIndependent bool

	regionStart int64
	startShift  float64

	originX, originY float64

	bboxDirty bool
}

// New creates a View over region, sharing cache, queue, style and
// canvas with every other view in the process, per the "singleton
// service value" design note.
func New(region peaks.Region, c *cache.Cache, q *worker.Queue, canvas Canvas, style *Style, dispatch Dispatcher) *View {
	fill, outline, clip, zero := visual.DefaultPalette(210)
	v := &View{
		region:             region,
		cache:              c,
		queue:              q,
		canvas:             canvas,
		style:              style,
		dispatch:           dispatch,
		height:             64,
		amplitudeAboveAxis: 1.0,
		fillColor:          fill,
		outlineColor:       outline,
		clipColor:          clip,
		zeroColor:          zero,
		regionStart:        region.Start(),
		bboxDirty:          true,
	}
	v.shape = style.GlobalShape()
	v.logscaled = style.GlobalLogscaled()
	v.gradientDepth = style.GlobalGradientDepth()
	v.showClipIndicator = style.GlobalShowClipIndicator()
	v.clipLevelCoeff = style.ClipLevel()

	region.OnGainChanged(v.GainChanged)
	region.OnResized(v.RegionResized)
	style.subscribe(v)

	return v
}

// Destroy tears the view down: cancels any in-flight request and
// removes the view from the request queue's pending set, satisfying
// the (a)-(d) protocol of §4.3 so the worker can never observe a
// dangling view after this returns. It also unsubscribes from global
// style broadcasts. Go's garbage collector, not a refcount, reclaims
// the View and its Request once nothing references them any more —
// the "weak back-reference" the spec describes is realized here as
// explicit deregistration rather than a literal weak pointer.
func (v *View) Destroy() {
	v.cancelMyRenderRequest()
	v.style.unsubscribe(v)
}

// CurrentRequest implements worker.Requestor.
func (v *View) CurrentRequest() *worker.Request {
	v.reqMu.Lock()
	defer v.reqMu.Unlock()
	return v.currentRequest
}

// NotifyImageReady implements worker.Requestor: it is called from the
// worker goroutine and marshals onto the GUI thread via the
// dispatcher, matching §5's "thread-safe one-shot signal."
func (v *View) NotifyImageReady() {
	v.dispatch.Dispatch(func() {
		v.canvas.Redraw()
	})
}

func (v *View) sourceHandle() peaks.SourceHandle {
	return v.region.Source(v.channel)
}

func (v *View) visualKey() visual.Key {
	return visual.Key{
		Channel:   v.channel,
		Height:    v.height,
		Amplitude: v.region.ScaleAmplitude(),
		FillColor: v.fillColor,
	}
}

func (v *View) params() visual.Params {
	return visual.Params{
		Channel:            v.channel,
		Height:             v.height,
		Amplitude:          v.region.ScaleAmplitude(),
		Shape:              v.shape,
		Logscaled:          v.logscaled,
		GradientDepth:      v.gradientDepth,
		AmplitudeAboveAxis: v.amplitudeAboveAxis,
		ShowZeroLine:       v.showZero,
		ClipLevel:          v.clipLevelCoeff * v.region.ScaleAmplitude(),
		FillColor:          v.fillColor,
		OutlineColor:       v.outlineColor,
		ClipColor:          v.clipColor,
		ZeroColor:          v.zeroColor,
		ShowClipIndicator:  v.showClipIndicator,
	}
}

func (v *View) regionLength() int64 {
	return v.region.Length() - (v.regionStart - v.region.Start())
}

func (v *View) regionEnd() int64 {
	return v.regionStart + v.regionLength()
}

// SetOrigin sets the view's window-space origin, as if it were the
// result of the canvas's item_to_window transform for this view's
// item coordinate (0,0).
func (v *View) SetOrigin(x, y float64) {
	v.originX, v.originY = x, y
}

// Render implements §4.4 step by step. It returns a Blit the caller
// (the embedding canvas) should composite, or ok=false if nothing is
// ready yet — a repaint will be scheduled via Canvas.Redraw once the
// asynchronous render completes.
func (v *View) Render(area Rect) (Blit, bool) {
	if v.samplesPerPixel == 0 {
		return Blit{}, false
	}

	self := Rect{
		X0: v.originX, Y0: v.originY,
		X1: v.originX + float64(v.regionLength())/v.samplesPerPixel,
		Y1: v.originY + float64(v.height),
	}

	draw, ok := self.Intersect(area)
	if !ok {
		return Blit{}, false
	}

	drawStart := math.Floor(draw.X0)
	drawEnd := math.Floor(draw.X1)

	imageStart := drawStart - self.X0
	imageEnd := drawEnd - self.X0

	sampleStart := v.regionStart + int64(imageStart*v.samplesPerPixel)
	sampleEnd := v.regionStart + int64(imageEnd*v.samplesPerPixel)
	if e := v.regionEnd(); sampleEnd > e {
		sampleEnd = e
	}

	if v.currentImage == nil {
		v.acquireImage(sampleStart, sampleEnd)
	}
	if v.currentImage == nil {
		return Blit{}, false
	}

	x := self.X0 + v.imageOffset
	y := self.Y0

	if v.startShift != 0 && sampleStart == v.regionStart && self.X0 == draw.X0 {
		x += v.startShift
	}

	return Blit{Image: v.currentImage, X: math.Round(x), Y: math.Round(y)}, true
}

// acquireImage implements §4.2's get_image: first check whether the
// view's own current request has completed (publishing it into the
// cache if so), otherwise look the range up in the cache, otherwise
// enqueue a new request.
func (v *View) acquireImage(start, end int64) {
	req := v.CurrentRequest()
	if req != nil {
		if img, _, actualStart, actualEnd, done := req.TakeImage(); done && !req.ShouldStop() {
			v.currentImage = img
			// Same pixel offset a later cache hit on this entry reports.
			v.imageOffset = float64(actualStart-v.regionStart) / v.samplesPerPixel

			key := v.visualKey()
			v.cache.Insert(v.sourceHandle(), key, actualStart, actualEnd, img)
			v.cache.Consolidate(v.sourceHandle(), key)

			v.clearCurrentRequest()
			return
		}
	}
	v.clearCurrentRequest()

	key := v.visualKey()
	if entry, offset, ok := v.cache.Lookup(v.sourceHandle(), key, start, end, v.regionStart, v.samplesPerPixel); ok {
		v.currentImage = entry.Image
		v.imageOffset = offset
		return
	}

	v.sendRequest(start, end)
}

func (v *View) sendRequest(start, end int64) {
	req := &worker.Request{
		Region:          v.region,
		Channel:         v.channel,
		Start:           start,
		End:             end,
		Width:           v.canvas.VisibleWidth(),
		Params:          v.params(),
		SamplesPerPixel: v.samplesPerPixel,
	}

	v.reqMu.Lock()
	previous := v.currentRequest
	v.currentRequest = req
	v.reqMu.Unlock()

	v.queue.Send(v, previous)
}

func (v *View) clearCurrentRequest() {
	v.reqMu.Lock()
	v.currentRequest = nil
	v.reqMu.Unlock()
}

// cancelMyRenderRequest implements the cancellation protocol of
// §4.3: set cancel, take the queue lock, erase self from the pending
// set, drop the request.
func (v *View) cancelMyRenderRequest() {
	req := v.CurrentRequest()

	if req != nil {
		req.Cancel()
	}
	v.queue.Cancel(v)
	v.clearCurrentRequest()
}

func (v *View) invalidateImageCache() {
	v.cancelMyRenderRequest()
	v.currentImage = nil
	v.imageOffset = 0
	v.cache.Invalidate(v.sourceHandle(), v.visualKey())
}

// endVisualChange schedules a repaint after a visual-parameter
// mutation, mirroring WaveView::end_visual_change.
func (v *View) endVisualChange() { v.canvas.Redraw() }

// --- property mutations (§4.4) ---

func (v *View) SetSamplesPerPixel(spp float64) {
	if spp == v.samplesPerPixel {
		return
	}
	v.invalidateImageCache()
	v.samplesPerPixel = spp
	v.bboxDirty = true
}

func (v *View) SetHeight(h int) {
	if h == v.height {
		return
	}
	v.invalidateImageCache()
	v.height = h
	v.bboxDirty = true
}

func (v *View) SetChannel(ch int) {
	if ch == v.channel {
		return
	}
	v.invalidateImageCache()
	v.channel = ch
	v.bboxDirty = true
}

func (v *View) SetShape(s visual.Shape) {
	if s == v.shape {
		return
	}
	v.invalidateImageCache()
	v.shape = s
	v.endVisualChange()
}

func (v *View) SetLogscaled(yn bool) {
	if yn == v.logscaled {
		return
	}
	v.invalidateImageCache()
	v.logscaled = yn
	v.endVisualChange()
}

func (v *View) SetGradientDepth(depth float64) {
	if depth == v.gradientDepth {
		return
	}
	v.invalidateImageCache()
	v.gradientDepth = depth
	v.endVisualChange()
}

func (v *View) SetFillColor(c color.RGBA) {
	if c == v.fillColor {
		return
	}
	v.invalidateImageCache()
	v.fillColor = c
	v.endVisualChange()
}

func (v *View) SetOutlineColor(c color.RGBA) {
	if c == v.outlineColor {
		return
	}
	v.invalidateImageCache()
	v.outlineColor = c
	v.endVisualChange()
}

func (v *View) SetClipColor(c color.RGBA) {
	if c == v.clipColor {
		return
	}
	v.invalidateImageCache()
	v.clipColor = c
	v.endVisualChange()
}

func (v *View) SetZeroColor(c color.RGBA) {
	if c == v.zeroColor {
		return
	}
	v.invalidateImageCache()
	v.zeroColor = c
	v.endVisualChange()
}

func (v *View) SetShowZeroLine(yn bool) {
	if yn == v.showZero {
		return
	}
	v.invalidateImageCache()
	v.showZero = yn
	v.endVisualChange()
}

func (v *View) SetAmplitudeAboveAxis(a float64) {
	if a == v.amplitudeAboveAxis {
		return
	}
	v.invalidateImageCache()
	v.amplitudeAboveAxis = a
	v.endVisualChange()
}

func (v *View) SetRegionStart(start int64) {
	if start == v.regionStart {
		return
	}
	v.regionStart = start
	v.bboxDirty = true
}

func (v *View) SetStartShift(px float64) {
	if px < 0 {
		return
	}
	v.startShift = px
}

func (v *View) SetShapeIndependent(yn bool)         { v.shapeIndependent = yn }
func (v *View) SetLogscaledIndependent(yn bool)     { v.logscaledIndependent = yn }
func (v *View) SetGradientDepthIndependent(yn bool) { v.gradientDepthIndependent = yn }

// GainChanged is registered with the region (§6: "Emits a signal on
// gain change") and re-reads the region's scale_amplitude, which
// participates in the VisualKey.
func (v *View) GainChanged() {
	v.invalidateImageCache()
}

// RegionResized is registered with the region (§6: "... and on
// resize").
func (v *View) RegionResized() {
	v.regionStart = v.region.Start()
	v.bboxDirty = true
}

// handleVisualPropertyChange adopts any non-independent global
// property and replays the normal property-mutation flow, per
// §4.4's "Global mutations."
func (v *View) handleVisualPropertyChange() {
	changed := false

	if !v.shapeIndependent && v.shape != v.style.GlobalShape() {
		v.shape = v.style.GlobalShape()
		changed = true
	}
	if !v.logscaledIndependent && v.logscaled != v.style.GlobalLogscaled() {
		v.logscaled = v.style.GlobalLogscaled()
		changed = true
	}
	if !v.gradientDepthIndependent && v.gradientDepth != v.style.GlobalGradientDepth() {
		v.gradientDepth = v.style.GlobalGradientDepth()
		changed = true
	}

	if changed {
		v.invalidateImageCache()
		v.endVisualChange()
	}
}

func (v *View) handleClipLevelChange() {
	v.clipLevelCoeff = v.style.ClipLevel()
	v.showClipIndicator = v.style.GlobalShowClipIndicator()
	v.invalidateImageCache()
	v.endVisualChange()
}

// BoundingBox reports the view's current extent in item coordinates,
// recomputing it if a property mutation marked it dirty.
func (v *View) BoundingBox() Rect {
	return Rect{X0: 0, Y0: 0, X1: float64(v.regionLength()) / v.samplesPerPixel, Y1: float64(v.height)}
}
