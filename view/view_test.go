package view

import (
	"image"
	"image/color"
	"testing"

	"github.com/audiowave/wavecore/cache"
	"github.com/audiowave/wavecore/peaks"
	"github.com/audiowave/wavecore/visual"
	"github.com/audiowave/wavecore/worker"
)

type fakeSource struct{ id string }

func (f *fakeSource) SourceID() string { return f.id }

type fakeRegion struct {
	src       *fakeSource
	start     int64
	length    int64
	amplitude float64
	gainCBs   []func()
	resizeCBs []func()
}

func newFakeRegion() *fakeRegion {
	return &fakeRegion{src: &fakeSource{"src"}, start: 0, length: 100000, amplitude: 1.0}
}

func (r *fakeRegion) Source(int) peaks.SourceHandle { return r.src }
func (r *fakeRegion) Start() int64                  { return r.start }
func (r *fakeRegion) Length() int64                 { return r.length }
func (r *fakeRegion) ScaleAmplitude() float64       { return r.amplitude }
func (r *fakeRegion) OnGainChanged(f func())        { r.gainCBs = append(r.gainCBs, f) }
func (r *fakeRegion) OnResized(f func())            { r.resizeCBs = append(r.resizeCBs, f) }

func (r *fakeRegion) setGain(a float64) {
	r.amplitude = a
	for _, cb := range r.gainCBs {
		cb()
	}
}

type fakeCanvas struct {
	width   int
	redraws int
}

func (c *fakeCanvas) VisibleWidth() int { return c.width }
func (c *fakeCanvas) Redraw()           { c.redraws++ }

func newTestView(t *testing.T) (*View, *fakeRegion, *fakeCanvas, *cache.Cache, *worker.Queue) {
	t.Helper()
	region := newFakeRegion()
	c := cache.New()
	q := worker.NewQueue()
	canvas := &fakeCanvas{width: 500}
	style := NewStyle()

	v := New(region, c, q, canvas, style, Immediate{})
	v.SetHeight(64)
	v.SetSamplesPerPixel(10.0)
	return v, region, canvas, c, q
}

func TestRenderWithNoSamplesPerPixelReturnsNotOK(t *testing.T) {
	region := newFakeRegion()
	c := cache.New()
	q := worker.NewQueue()
	canvas := &fakeCanvas{width: 500}
	v := New(region, c, q, canvas, NewStyle(), Immediate{})

	if _, ok := v.Render(Rect{X0: 0, Y0: 0, X1: 500, Y1: 64}); ok {
		t.Fatal("Render should report not-ok before SetSamplesPerPixel is ever called")
	}
}

func TestRenderEnqueuesRequestOnColdCache(t *testing.T) {
	v, _, _, _, q := newTestView(t)
	defer v.Destroy()

	if _, ok := v.Render(Rect{X0: 0, Y0: 0, X1: 500, Y1: 64}); ok {
		t.Fatal("expected the first render to have no image ready yet")
	}
	if d := q.Depth(); d != 1 {
		t.Fatalf("expected one pending request after a cold render, got depth %d", d)
	}
}

func TestDestroyCancelsAndRemovesFromQueue(t *testing.T) {
	v, _, _, _, q := newTestView(t)

	v.Render(Rect{X0: 0, Y0: 0, X1: 500, Y1: 64})
	if d := q.Depth(); d != 1 {
		t.Fatalf("expected a pending request before Destroy, got %d", d)
	}

	v.Destroy()
	if d := q.Depth(); d != 0 {
		t.Fatalf("expected Destroy to remove the view from the pending set, got depth %d", d)
	}
	if req := v.CurrentRequest(); req != nil {
		t.Fatal("expected Destroy to clear currentRequest")
	}
}

func TestGainChangeInvalidatesCachedImage(t *testing.T) {
	v, region, _, _, _ := newTestView(t)
	defer v.Destroy()

	v.currentImage = fakeImage()
	region.setGain(2.0)

	if v.currentImage != nil {
		t.Fatal("expected a gain change to invalidate the currently held image")
	}
}

func TestSetShapeTriggersRedrawAndInvalidation(t *testing.T) {
	v, _, canvas, _, _ := newTestView(t)
	defer v.Destroy()

	v.currentImage = fakeImage()
	before := canvas.redraws

	v.SetShape(visual.Rectified)

	if v.currentImage != nil {
		t.Fatal("SetShape should invalidate the cached image")
	}
	if canvas.redraws <= before {
		t.Fatal("SetShape should schedule a redraw via endVisualChange")
	}
}

func TestIndependentViewIgnoresGlobalStyleChange(t *testing.T) {
	v, _, _, _, _ := newTestView(t)
	defer v.Destroy()

	v.SetShapeIndependent(true)
	originalShape := v.shape

	v.style.SetGlobalShape(visual.Rectified)

	if v.shape != originalShape {
		t.Fatal("an independent view should not adopt a global shape change")
	}
}

func TestNonIndependentViewAdoptsGlobalStyleChange(t *testing.T) {
	v, _, _, _, _ := newTestView(t)
	defer v.Destroy()

	v.style.SetGlobalShape(visual.Rectified)

	if v.shape != visual.Rectified {
		t.Fatal("a non-independent view should adopt the new global shape")
	}
}

func TestSetFillColorInvalidatesAndRedraws(t *testing.T) {
	v, _, canvas, _, _ := newTestView(t)
	defer v.Destroy()

	v.currentImage = fakeImage()
	before := canvas.redraws
	v.SetFillColor(color.RGBA{R: 1, G: 2, B: 3, A: 255})

	if v.currentImage != nil {
		t.Fatal("SetFillColor should invalidate the cached image")
	}
	if canvas.redraws <= before {
		t.Fatal("SetFillColor should schedule a redraw")
	}
}

func fakeImage() *image.NRGBA { return image.NewNRGBA(image.Rect(0, 0, 1, 1)) }
