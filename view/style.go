package view

import (
	"math"
	"sync"

	"github.com/audiowave/wavecore/visual"
)

// Style is the process-wide set of global visual properties described
// in §3/§4.4: a shared singleton, not a package-level global, passed
// explicitly to every View so tests can construct an isolated one.
// Global mutations broadcast to every subscribed View, which adopts
// the new value unless it has been marked independent for that
// property.
type Style struct {
	mu sync.Mutex

	shape             visual.Shape
	logscaled         bool
	gradientDepth     float64
	showClipIndicator bool
	clipLevel         float64 // coefficient, e.g. 0.98853

	subscribers map[*View]struct{}
}

// NewStyle returns a Style with Ardour's defaults: Normal shape, no
// log scaling, a 0.6 gradient depth, clipping indication on, and a
// clip level of -0.1dBFS (coefficient 0.98853) to account for
// inter-sample interpolation that might clip before the discrete
// samples themselves reach full scale.
func NewStyle() *Style {
	return &Style{
		shape:             visual.Normal,
		gradientDepth:     0.6,
		showClipIndicator: true,
		clipLevel:         0.98853,
		subscribers:       make(map[*View]struct{}),
	}
}

func dBToCoefficient(dB float64) float64 {
	return math.Pow(10, dB/20)
}

func (s *Style) subscribe(v *View)   { s.mu.Lock(); s.subscribers[v] = struct{}{}; s.mu.Unlock() }
func (s *Style) unsubscribe(v *View) { s.mu.Lock(); delete(s.subscribers, v); s.mu.Unlock() }

func (s *Style) GlobalShape() visual.Shape {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shape
}

func (s *Style) GlobalLogscaled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logscaled
}

func (s *Style) GlobalGradientDepth() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gradientDepth
}

func (s *Style) GlobalShowClipIndicator() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.showClipIndicator
}

func (s *Style) ClipLevel() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clipLevel
}

func (s *Style) snapshotSubscribers() []*View {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*View, 0, len(s.subscribers))
	for v := range s.subscribers {
		out = append(out, v)
	}
	return out
}

// SetGlobalShape sets the global shape and broadcasts
// VisualPropertiesChanged to every subscriber.
func (s *Style) SetGlobalShape(shape visual.Shape) {
	s.mu.Lock()
	changed := shape != s.shape
	s.shape = shape
	s.mu.Unlock()
	if changed {
		s.broadcastVisualPropertiesChanged()
	}
}

func (s *Style) SetGlobalLogscaled(yn bool) {
	s.mu.Lock()
	changed := yn != s.logscaled
	s.logscaled = yn
	s.mu.Unlock()
	if changed {
		s.broadcastVisualPropertiesChanged()
	}
}

func (s *Style) SetGlobalGradientDepth(depth float64) {
	s.mu.Lock()
	changed := depth != s.gradientDepth
	s.gradientDepth = depth
	s.mu.Unlock()
	if changed {
		s.broadcastVisualPropertiesChanged()
	}
}

// SetGlobalShowWaveformClipping toggles whether clip indicators are
// drawn at all; like SetClipLevel this emits ClipLevelChanged rather
// than VisualPropertiesChanged, matching WaveView::set_global_show_waveform_clipping.
func (s *Style) SetGlobalShowWaveformClipping(yn bool) {
	s.mu.Lock()
	changed := yn != s.showClipIndicator
	s.showClipIndicator = yn
	s.mu.Unlock()
	if changed {
		s.broadcastClipLevelChanged()
	}
}

// SetClipLevel sets the clip level from a dBFS value, converting to a
// linear coefficient, and emits ClipLevelChanged.
func (s *Style) SetClipLevel(dB float64) {
	coeff := dBToCoefficient(dB)
	s.mu.Lock()
	changed := coeff != s.clipLevel
	s.clipLevel = coeff
	s.mu.Unlock()
	if changed {
		s.broadcastClipLevelChanged()
	}
}

func (s *Style) broadcastVisualPropertiesChanged() {
	for _, v := range s.snapshotSubscribers() {
		v.handleVisualPropertyChange()
	}
}

func (s *Style) broadcastClipLevelChanged() {
	for _, v := range s.snapshotSubscribers() {
		v.handleClipLevelChange()
	}
}
