// Package synth provides a synthetic peaks.Reader backed by an
// in-memory generated waveform, for exercising the view/cache/worker
// pipeline without a real audio engine. ReadPeaks is a plain min/max
// reduction of the generated samples; the FFT/window building blocks
// of mjibson/go-dsp are used only by SpectralEnvelope.
package synth

import (
	"fmt"
	"math"
	"sync"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"

	"github.com/audiowave/wavecore/peaks"
)

// Handle identifies one generated source channel, comparable by
// pointer identity as peaks.SourceHandle requires.
type Handle struct {
	name string
}

func (h *Handle) SourceID() string { return h.name }

// Source is a synthetic multi-channel audio source: each channel is a
// sum of sine partials, generated in full by NewChannel and kept in
// memory, so ReadPeaks never regenerates samples.
type Source struct {
	mu         sync.Mutex
	sampleRate float64
	channels   [][]float32
	handles    []*Handle
}

// Partial is one sinusoidal component of a generated channel.
type Partial struct {
	FreqHz, Amplitude, PhaseRad float64
}

// NewChannel synthesizes nSamples of audio from partials at
// sampleRate and returns its handle.
func (s *Source) NewChannel(name string, sampleRate float64, nSamples int, partials []Partial) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sampleRate = sampleRate
	buf := make([]float32, nSamples)
	for i := range buf {
		t := float64(i) / sampleRate
		var v float64
		for _, p := range partials {
			v += p.Amplitude * math.Sin(2*math.Pi*p.FreqHz*t+p.PhaseRad)
		}
		buf[i] = float32(v)
	}

	h := &Handle{name: name}
	s.channels = append(s.channels, buf)
	s.handles = append(s.handles, h)
	return h
}

// SpectralEnvelope runs the generated channel through a windowed FFT
// and returns its log power spectrum, grounded directly on
// FFTProcessor/PowerSpectrumProcessor's math. cmd/wavedemo only logs
// the number of bins; the waveform renderer does not use it.
func (s *Source) SpectralEnvelope(channel int, size int) ([]float64, error) {
	s.mu.Lock()
	buf := s.channels[channel]
	s.mu.Unlock()
	if size > len(buf) {
		size = len(buf)
	}

	fx := make([]float64, size)
	for i := range fx {
		fx[i] = float64(buf[i])
	}
	window.Apply(fx, window.Hamming)

	spectrum := fft.FFTReal(fx)
	px := make([]float64, len(spectrum))
	for i, c := range spectrum {
		px[i] = math.Log(1 + real(c)*real(c)+imag(c)*imag(c))
	}
	return px, nil
}

// ReadPeaks implements peaks.Reader by min/max-reducing runs of the
// generated buffer. samplesPerPixel is accepted for interface
// conformance; the reduction width is derived from count/len(dest)
// instead, matching how a real decimated-peaks store would compute it.
func (s *Source) ReadPeaks(dest []peaks.Peak, start int64, count int64, channel int, samplesPerPixel float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if channel < 0 || channel >= len(s.channels) {
		return fmt.Errorf("synth: no such channel %d", channel)
	}
	buf := s.channels[channel]
	n := len(dest)
	if n == 0 || count <= 0 {
		return nil
	}

	samplesPerPeak := float64(count) / float64(n)
	for i := 0; i < n; i++ {
		lo := start + int64(float64(i)*samplesPerPeak)
		hi := start + int64(float64(i+1)*samplesPerPeak)
		if hi <= lo {
			hi = lo + 1
		}
		dest[i] = reduceRange(buf, lo, hi)
	}
	return nil
}

func reduceRange(buf []float32, lo, hi int64) peaks.Peak {
	if lo < 0 {
		lo = 0
	}
	if hi > int64(len(buf)) {
		hi = int64(len(buf))
	}
	if lo >= hi {
		return peaks.Peak{}
	}
	min, max := buf[lo], buf[lo]
	for _, v := range buf[lo:hi] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return peaks.Peak{Min: min, Max: max}
}

// Region adapts a single generated channel into a peaks.Region whose
// gain and extent change only through SetGain/Resize rather than a
// live audio engine.
type Region struct {
	source  *Source
	handle  *Handle
	channel int
	start   int64
	length  int64

	mu        sync.Mutex
	amplitude float64
	onGain    []func()
	onResize  []func()
}

// NewRegion wraps channel of source as a Region starting at start for
// length samples, at unity amplitude.
func NewRegion(source *Source, channel int, start, length int64) *Region {
	return &Region{
		source:    source,
		handle:    source.handles[channel],
		channel:   channel,
		start:     start,
		length:    length,
		amplitude: 1.0,
	}
}

func (r *Region) Source(channel int) peaks.SourceHandle { return r.handle }
func (r *Region) Start() int64                          { return r.start }
func (r *Region) Length() int64                         { return r.length }

func (r *Region) ScaleAmplitude() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.amplitude
}

func (r *Region) OnGainChanged(f func()) {
	r.mu.Lock()
	r.onGain = append(r.onGain, f)
	r.mu.Unlock()
}

func (r *Region) OnResized(f func()) {
	r.mu.Lock()
	r.onResize = append(r.onResize, f)
	r.mu.Unlock()
}

// SetGain changes the region's amplitude scale and fires every
// registered gain callback, as a real mixer control would.
func (r *Region) SetGain(amplitude float64) {
	r.mu.Lock()
	r.amplitude = amplitude
	cbs := append([]func(){}, r.onGain...)
	r.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

// Resize changes the region's start/length and fires every registered
// resize callback.
func (r *Region) Resize(start, length int64) {
	r.mu.Lock()
	r.start, r.length = start, length
	cbs := append([]func(){}, r.onResize...)
	r.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}
