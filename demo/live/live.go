// Package live provides a peaks.Reader backed by a real portaudio
// input stream, ported from the teacher's audio/stream.go and
// audio/device.go: portaudio.OpenDefaultStream feeding a channel of
// float32 blocks, here accumulated into a ring buffer that ReadPeaks
// reduces on demand instead of being forwarded down a processing
// pipeline.
package live

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync"
	"text/template"

	"github.com/gordonklaus/portaudio"

	"github.com/audiowave/wavecore/peaks"
)

// Config mirrors the teacher's audio.Config: block size, channel
// count and sample rate for the opened stream.
type Config struct {
	BlockSize  int
	Channels   int
	SampleRate float64
}

var deviceTmpl = template.Must(template.New("").Parse(
	`{{. | len}} host APIs: {{range .}}
	Name:                   {{.Name}}
	{{if .DefaultInputDevice}}Default input device:   {{.DefaultInputDevice.Name}}{{end}}
{{end}}`,
))

// PrintDevices logs the available portaudio host APIs, unchanged from
// the teacher's helper of the same purpose.
func PrintDevices() {
	hs, err := portaudio.HostApis()
	if err != nil {
		log.Printf("live: enumerating host APIs: %v", err)
		return
	}
	buf := bytes.NewBuffer(nil)
	if err := deviceTmpl.Execute(buf, hs); err != nil {
		log.Printf("live: %v", err)
		return
	}
	log.Println(buf.String())
}

// Handle identifies the live input device as a peaks.SourceHandle.
type Handle struct{ name string }

func (h *Handle) SourceID() string { return h.name }

// Source streams from the default audio input device into a capped
// ring buffer and serves ReadPeaks from it. Unlike demo/synth it does
// not hold the whole recording in memory: samples older than the
// buffer's capacity are overwritten, so a view asking for a range that
// has already scrolled out returns an error rather than stale data.
type Source struct {
	handle *Handle
	cfg    Config

	mu       sync.Mutex
	ring     []float32
	written  int64 // total samples ever written
	capacity int64

	errc <-chan error
}

// Open starts streaming from the default input device under ctx and
// returns a Source good for capacity samples of backlog.
func Open(ctx context.Context, name string, cfg Config, capacity int64) (*Source, error) {
	out, errc := newStream(ctx, &cfg)

	s := &Source{
		handle:   &Handle{name: name},
		cfg:      cfg,
		ring:     make([]float32, capacity),
		capacity: capacity,
		errc:     errc,
	}

	go func() {
		for block := range out {
			s.append(block)
		}
	}()

	return s, nil
}

func (s *Source) append(block []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range block {
		s.ring[s.written%s.capacity] = v
		s.written++
	}
}

// Err drains the stream's error channel without blocking; it returns
// nil unless the stream has failed.
func (s *Source) Err() error {
	select {
	case err := <-s.errc:
		return err
	default:
		return nil
	}
}

// Handle returns the source's SourceHandle, for building a peaks.Region.
func (s *Source) Handle() peaks.SourceHandle { return s.handle }

// ReadPeaks reduces [start, start+count) of the ring buffer into
// len(dest) peaks. It returns an error if any part of the requested
// range has already been overwritten, matching a real scrolling
// capture buffer's behavior rather than silently returning zeros.
func (s *Source) ReadPeaks(dest []peaks.Peak, start int64, count int64, channel int, samplesPerPixel float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	end := start + count
	oldest := s.written - s.capacity
	if oldest < 0 {
		oldest = 0
	}
	if start < oldest {
		return fmt.Errorf("live: requested range [%d,%d) has scrolled out (oldest available %d)", start, end, oldest)
	}
	if end > s.written {
		end = s.written
	}

	n := len(dest)
	if n == 0 || end <= start {
		return nil
	}
	samplesPerPeak := float64(end-start) / float64(n)

	for i := 0; i < n; i++ {
		lo := start + int64(float64(i)*samplesPerPeak)
		hi := start + int64(float64(i+1)*samplesPerPeak)
		if hi <= lo {
			hi = lo + 1
		}
		if hi > end {
			hi = end
		}
		dest[i] = s.reduceRange(lo, hi)
	}
	return nil
}

// Region adapts a live Source into a peaks.Region whose length grows
// as the capture proceeds. Gain is fixed at unity; a live capture has
// no resize/gain control surface, so OnGainChanged/OnResized register
// callbacks that are simply never fired.
type Region struct {
	source *Source
}

// NewRegion wraps source as a Region covering everything captured so
// far, starting at sample 0.
func NewRegion(source *Source) *Region {
	return &Region{source: source}
}

func (r *Region) Source(int) peaks.SourceHandle { return r.source.handle }
func (r *Region) Start() int64                  { return 0 }

func (r *Region) Length() int64 {
	r.source.mu.Lock()
	defer r.source.mu.Unlock()
	if r.source.written > r.source.capacity {
		return r.source.capacity
	}
	return r.source.written
}

func (r *Region) ScaleAmplitude() float64 { return 1.0 }
func (r *Region) OnGainChanged(func())    {}
func (r *Region) OnResized(func())        {}

func (s *Source) reduceRange(lo, hi int64) peaks.Peak {
	if lo >= hi {
		return peaks.Peak{}
	}
	min := s.ring[lo%s.capacity]
	max := min
	for i := lo; i < hi; i++ {
		v := s.ring[i%s.capacity]
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return peaks.Peak{Min: min, Max: max}
}

// newStream opens the default input stream and forwards blocks on a
// channel, adapted from the teacher's audio.NewSource: same
// OpenDefaultStream/Start/Read loop, generalized from chan []float32
// to honor ctx cancellation the same way.
func newStream(ctx context.Context, cfg *Config) (<-chan []float32, <-chan error) {
	out := make(chan []float32)
	errc := make(chan error, 1)
	done := ctx.Done()

	go func() {
		defer close(out)

		portaudio.Initialize()
		defer portaudio.Terminate()

		in := make([]float32, cfg.BlockSize)

		stream, err := portaudio.OpenDefaultStream(cfg.Channels, 0, cfg.SampleRate, cfg.BlockSize, in)
		if err != nil {
			errc <- fmt.Errorf("live: opening stream: %w", err)
			return
		}
		defer stream.Close()
		if err := stream.Start(); err != nil {
			errc <- fmt.Errorf("live: starting stream: %w", err)
			return
		}

		for {
			select {
			case <-done:
				return
			default:
			}

			if err := stream.Read(); err != nil {
				errc <- fmt.Errorf("live: reading stream: %w", err)
				return
			}

			block := make([]float32, len(in))
			copy(block, in)

			select {
			case out <- block:
			case <-done:
				return
			}
		}
	}()

	return out, errc
}
