package worker

import (
	"sync"
	"testing"
	"time"

	"github.com/audiowave/wavecore/cache"
	"github.com/audiowave/wavecore/peaks"
	"github.com/audiowave/wavecore/visual"
)

type fakeSource struct{ id string }

func (f *fakeSource) SourceID() string { return f.id }

type fakeRegion struct {
	src    *fakeSource
	start  int64
	length int64
}

func (r *fakeRegion) Source(int) peaks.SourceHandle { return r.src }
func (r *fakeRegion) Start() int64                  { return r.start }
func (r *fakeRegion) Length() int64                 { return r.length }
func (r *fakeRegion) ScaleAmplitude() float64       { return 1.0 }
func (r *fakeRegion) OnGainChanged(func())          {}
func (r *fakeRegion) OnResized(func())              {}

type fakeReader struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeReader) ReadPeaks(dest []peaks.Peak, start, count int64, channel int, spp float64) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for i := range dest {
		dest[i] = peaks.Peak{Min: -0.1, Max: 0.1}
	}
	return nil
}

type fakeRequestor struct {
	mu    sync.Mutex
	req   *Request
	ready chan struct{}
}

func newFakeRequestor() *fakeRequestor {
	return &fakeRequestor{ready: make(chan struct{}, 1)}
}

func (f *fakeRequestor) CurrentRequest() *Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.req
}

func (f *fakeRequestor) setRequest(r *Request) {
	f.mu.Lock()
	f.req = r
	f.mu.Unlock()
}

func (f *fakeRequestor) NotifyImageReady() {
	select {
	case f.ready <- struct{}{}:
	default:
	}
}

func testParams() visual.Params {
	fill, outline, clip, zero := visual.DefaultPalette(210)
	return visual.Params{
		Height: 64, FillColor: fill, OutlineColor: outline,
		ClipColor: clip, ZeroColor: zero, ClipLevel: 1.0,
	}
}

func TestQueuePopBlocksUntilSend(t *testing.T) {
	q := NewQueue()
	requestor := newFakeRequestor()

	done := make(chan struct{})
	go func() {
		r, ok := q.pop()
		if !ok || r != requestor {
			t.Error("pop did not return the sent requestor")
		}
		close(done)
	}()

	time.Sleep(10 * time.Millisecond) // give pop a chance to block first
	q.Send(requestor, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pop never returned after Send")
	}
}

func TestQueueCancelRemovesFromPendingSet(t *testing.T) {
	q := NewQueue()
	requestor := newFakeRequestor()

	q.Send(requestor, nil)
	if d := q.Depth(); d != 1 {
		t.Fatalf("got depth %d, want 1", d)
	}
	q.Cancel(requestor)
	if d := q.Depth(); d != 0 {
		t.Fatalf("got depth %d after Cancel, want 0", d)
	}
}

func TestQueueStopUnblocksPop(t *testing.T) {
	q := NewQueue()
	done := make(chan struct{})
	go func() {
		if _, ok := q.pop(); ok {
			t.Error("pop should report !ok after Stop")
		}
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	q.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pop never unblocked after Stop")
	}
}

func TestWorkerGeneratesImageAndNotifies(t *testing.T) {
	q := NewQueue()
	c := cache.New()
	reader := &fakeReader{}
	w := New(q, c, reader)
	go w.Run()
	defer func() {
		q.Stop()
		w.Wait()
	}()

	region := &fakeRegion{src: &fakeSource{"a"}, start: 0, length: 10000}
	requestor := newFakeRequestor()
	req := &Request{
		Region: region, Channel: 0,
		Start: 1000, End: 2000, Width: 500,
		Params: testParams(), SamplesPerPixel: 2.0,
	}
	requestor.setRequest(req)
	q.Send(requestor, nil)

	select {
	case <-requestor.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never notified image ready")
	}

	img, _, _, _, ok := req.TakeImage()
	if !ok || img == nil {
		t.Fatal("expected a completed image on the request")
	}
}

func TestWorkerSkipsCancelledRequestBeforeGenerating(t *testing.T) {
	q := NewQueue()
	c := cache.New()
	reader := &fakeReader{}
	w := New(q, c, reader)
	go w.Run()
	defer func() {
		q.Stop()
		w.Wait()
	}()

	region := &fakeRegion{src: &fakeSource{"a"}, start: 0, length: 10000}
	requestor := newFakeRequestor()
	req := &Request{
		Region: region, Channel: 0,
		Start: 0, End: 1000, Width: 500,
		Params: testParams(), SamplesPerPixel: 1.0,
	}
	req.Cancel()
	requestor.setRequest(req)
	q.Send(requestor, nil)

	select {
	case <-requestor.ready:
		t.Fatal("worker should not notify for a pre-cancelled request")
	case <-time.After(100 * time.Millisecond):
	}

	reader.mu.Lock()
	calls := reader.calls
	reader.mu.Unlock()
	if calls != 0 {
		t.Fatalf("worker read peaks %d times for a pre-cancelled request, want 0", calls)
	}
}

func TestWorkerLogsReadFailureAndProducesNoImage(t *testing.T) {
	q := NewQueue()
	c := cache.New()
	reader := &fakeReader{err: errReadFailed}
	w := New(q, c, reader)
	go w.Run()
	defer func() {
		q.Stop()
		w.Wait()
	}()

	region := &fakeRegion{src: &fakeSource{"fail-src"}, start: 0, length: 10000}
	requestor := newFakeRequestor()
	req := &Request{
		Region: region, Channel: 0,
		Start: 0, End: 1000, Width: 500,
		Params: testParams(), SamplesPerPixel: 1.0,
	}
	requestor.setRequest(req)
	q.Send(requestor, nil)

	select {
	case <-requestor.ready:
		t.Fatal("worker should not notify when the peak read fails")
	case <-time.After(100 * time.Millisecond):
	}

	if _, _, _, _, ok := req.TakeImage(); ok {
		t.Fatal("no image should be set after a failed read")
	}
}

type readErr string

func (e readErr) Error() string { return string(e) }

var errReadFailed = readErr("boom")
