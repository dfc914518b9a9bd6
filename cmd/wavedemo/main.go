// Wavedemo wires a peaks.Reader (synthetic, or a live capture device
// with -source=live) through the cache, worker and view packages and
// serves the introspection dashboard over HTTP, exercising the whole
// asynchronous render pipeline end to end without a real canvas
// toolkit attached.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/golang/glog"

	"github.com/audiowave/wavecore/cache"
	"github.com/audiowave/wavecore/demo/live"
	"github.com/audiowave/wavecore/demo/synth"
	"github.com/audiowave/wavecore/introspect"
	"github.com/audiowave/wavecore/peaks"
	"github.com/audiowave/wavecore/remote"
	"github.com/audiowave/wavecore/view"
	"github.com/audiowave/wavecore/visual"
	"github.com/audiowave/wavecore/worker"
)

var (
	sourceKind = flag.String("source", "synth", `peaks.Reader backend: "synth" (default) or "live"`)
	sampleRate = flag.Float64("sample-rate", 44100, "source sample rate")
	seconds    = flag.Int("seconds", 10, "length of synthetic audio, in seconds")
	width      = flag.Int("width", 1200, "canvas width in pixels")
	height     = flag.Int("height", 128, "view height in pixels")

	httpAddr = flag.String("http", ":6060", "address to serve the introspection dashboard on")
	mqttURL  = flag.String("mqtt", "", "broker URL for the remote style bridge, e.g. tcp://localhost:1883")
)

// fixedCanvas is a non-interactive view.Canvas used when no real
// canvas toolkit is attached: VisibleWidth is fixed by flag, and
// Redraw just logs, the way a headless render harness would.
type fixedCanvas struct{ width int }

func (c fixedCanvas) VisibleWidth() int { return c.width }
func (c fixedCanvas) Redraw()           { glog.V(1).Info("wavedemo: redraw requested") }

func main() {
	flag.Parse()
	defer glog.Flush()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reader peaks.Reader
	var region peaks.Region
	var displaySamples int

	switch *sourceKind {
	case "live":
		cfg := live.Config{BlockSize: 1024, Channels: 1, SampleRate: *sampleRate}
		capacity := int64(*sampleRate) * int64(*seconds)
		src, err := live.Open(ctx, "live-input", cfg, capacity)
		if err != nil {
			log.Fatalf("wavedemo: opening live source: %v", err)
		}
		reader = src
		region = live.NewRegion(src)
		displaySamples = int(capacity)
	case "synth":
		src := &synth.Source{}
		nSamples := int(*sampleRate) * *seconds
		src.NewChannel("demo-osc", *sampleRate, nSamples, []synth.Partial{
			{FreqHz: 220, Amplitude: 0.6},
			{FreqHz: 440, Amplitude: 0.25},
			{FreqHz: 880, Amplitude: 0.1},
		})
		if envelope, err := src.SpectralEnvelope(0, 1024); err != nil {
			glog.Warningf("wavedemo: computing spectral envelope: %v", err)
		} else {
			glog.V(1).Infof("wavedemo: synth spectral envelope has %d bins", len(envelope))
		}
		reader = src
		region = synth.NewRegion(src, 0, 0, int64(nSamples))
		displaySamples = nSamples
	default:
		log.Fatalf("wavedemo: unknown -source %q, want \"synth\" or \"live\"", *sourceKind)
	}

	c := cache.New()
	q := worker.NewQueue()
	w := worker.New(q, c, reader)
	go w.Run()
	defer func() {
		q.Stop()
		w.Wait()
	}()

	style := view.NewStyle()
	fill, outline, clip, zero := visual.DefaultPalette(210)

	v := view.New(region, c, q, fixedCanvas{width: *width}, style, view.Immediate{})
	v.SetHeight(*height)
	v.SetSamplesPerPixel(float64(displaySamples) / float64(*width))
	v.SetFillColor(fill)
	v.SetOutlineColor(outline)
	v.SetClipColor(clip)
	v.SetZeroColor(zero)
	v.SetShowZeroLine(true)
	defer v.Destroy()

	if _, ok := v.Render(view.Rect{X0: 0, Y0: 0, X1: float64(*width), Y1: float64(*height)}); !ok {
		glog.V(1).Info("wavedemo: initial render pending, worker dispatched")
	}

	dash, err := introspect.New(c, q)
	if err != nil {
		log.Fatalf("wavedemo: building introspection server: %v", err)
	}

	if *mqttURL != "" {
		bridge, err := remote.New(style, remote.Config{Broker: *mqttURL, ClientID: "wavedemo"})
		if err != nil {
			log.Fatalf("wavedemo: connecting remote bridge: %v", err)
		}
		defer bridge.Close()
	}

	srv := &http.Server{Addr: *httpAddr, Handler: dash.Handler()}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	glog.Infof("wavedemo: serving introspection dashboard on %s", *httpAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("wavedemo: http server: %v", err)
	}

	time.Sleep(time.Millisecond)
}
