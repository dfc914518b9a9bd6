// Package worker implements the single background render worker and
// its deduplicating request queue (§4.3), using the plain
// sync.Mutex/sync.Cond discipline the spec calls for rather than a
// channel pipeline — this is the one place this module departs from
// the teacher's channel-heavy audio pipelines, because the spec's
// queue needs a requestor *set* (at most one outstanding request per
// view, superseded in place) which a channel cannot express directly.
package worker

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/audiowave/wavecore/cache"
	"github.com/audiowave/wavecore/compose"
	"github.com/audiowave/wavecore/peaks"
	"github.com/audiowave/wavecore/visual"
)

// Request is a single pending or in-flight draw request, shared
// between its originating requestor and the worker. The cancel flag is
// set atomically; the worker polls it, it is never used to unwind via
// panic/recover.
type Request struct {
	Region          peaks.Region
	Channel         int
	Start           int64
	End             int64
	Width           int
	Params          visual.Params
	SamplesPerPixel float64

	cancelled atomic.Bool

	mu                     sync.Mutex
	Image                  *image.NRGBA
	ImageOffset            float64
	ActualStart, ActualEnd int64
}

// ShouldStop reports whether the request has been cancelled. It
// implements compose.Request.
func (r *Request) ShouldStop() bool {
	return r.cancelled.Load()
}

// Cancel marks the request cancelled. Best-effort: the worker polls
// this at fixed checkpoints, it does not interrupt in-flight work.
func (r *Request) Cancel() {
	r.cancelled.Store(true)
}

// TakeImage atomically reads and clears the completed image, if any,
// so a view can adopt a request's result exactly once.
func (r *Request) TakeImage() (*image.NRGBA, float64, int64, int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Image == nil {
		return nil, 0, 0, 0, false
	}
	img, off, s, e := r.Image, r.ImageOffset, r.ActualStart, r.ActualEnd
	r.Image = nil
	return img, off, s, e, true
}

func (r *Request) setResult(img *image.NRGBA, offset float64, start, end int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Image = img
	r.ImageOffset = offset
	r.ActualStart = start
	r.ActualEnd = end
}

// Requestor is implemented by a view: it privately owns its current
// request and is notified on the GUI-serialized channel when a render
// completes.
type Requestor interface {
	CurrentRequest() *Request
	NotifyImageReady()
}

// Queue is the shared request_queue_lock/request_cond discipline: a
// set of pending requestor identities plus the quit flag, guarded by
// a single mutex.
type Queue struct {
	mu         sync.Mutex
	cond       *sync.Cond
	pending    map[Requestor]struct{}
	shouldQuit bool
}

// NewQueue returns an empty request queue.
func NewQueue() *Queue {
	q := &Queue{pending: make(map[Requestor]struct{})}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Send enqueues requestor, cancelling any previous request the caller
// already stored on it. The caller is expected to have set the new
// Request on the requestor before calling Send. Send never blocks on
// the worker.
func (q *Queue) Send(r Requestor, previous *Request) {
	if previous != nil {
		previous.Cancel()
	}

	q.mu.Lock()
	q.pending[r] = struct{}{}
	q.mu.Unlock()

	q.cond.Signal()
}

// Cancel removes r from the pending set, fencing against a worker pop
// that might otherwise observe it after it has been torn down. This
// is the (b)-(c) half of the cancellation protocol in §4.3; the
// caller is responsible for (a) setting the request's cancel flag
// before calling this and (d) dropping its own reference afterward.
func (q *Queue) Cancel(r Requestor) {
	q.mu.Lock()
	delete(q.pending, r)
	q.mu.Unlock()
}

// Stop signals the worker to exit after finishing any in-flight
// request, and wakes it if it is waiting on an empty queue.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.shouldQuit = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Depth reports the number of pending requestors, for the
// introspection dashboard.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// pop waits for a non-empty queue or shouldQuit, then removes and
// returns one requestor (order among a set is unspecified, matching
// the bare-set semantics of the original C++).
func (q *Queue) pop() (Requestor, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) == 0 && !q.shouldQuit {
		q.cond.Wait()
	}
	if q.shouldQuit {
		return nil, false
	}
	for r := range q.pending {
		delete(q.pending, r)
		return r, true
	}
	return nil, false
}

// Worker is the single background rendering thread. It owns a
// reference to the image cache only insofar as generate() needs to
// log a once-per-source peak-read failure; the cache insertion itself
// happens on the view side, in view.acquireImage, per §4.4.
type Worker struct {
	queue  *Queue
	cache  *cache.Cache
	reader peaks.Reader

	wg sync.WaitGroup
}

// New returns a worker bound to queue, cache and reader. Call Run in
// its own goroutine, and Stop+Wait to shut it down.
func New(q *Queue, c *cache.Cache, r peaks.Reader) *Worker {
	return &Worker{queue: q, cache: c, reader: r}
}

// Run is the worker's main loop: pop a requestor, snapshot its
// current request, generate an image for it, and repeat until Stop is
// called. Per the spec's Open Question, this loops until quit rather
// than breaking after one iteration.
func (w *Worker) Run() {
	w.wg.Add(1)
	defer w.wg.Done()

	for {
		requestor, ok := w.queue.pop()
		if !ok {
			return
		}

		req := requestor.CurrentRequest()
		if req == nil || req.ShouldStop() {
			continue
		}

		w.generate(requestor, req)
	}
}

// Wait blocks until Run has returned.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// generate implements §4.3 step by step: compute the ~2x-view-width
// sample range centered on the request, read that many peaks, render
// them, and notify the requestor — unless cancelled at any of the
// four checkpoints (entry, post-tips, post-masks, post-gradient; the
// last three are inside compose.Render).
func (w *Worker) generate(requestor Requestor, req *Request) {
	if req.ShouldStop() {
		return
	}

	region := req.Region
	regionStart := region.Start()
	regionEnd := regionStart + region.Length()

	center := req.Start + (req.End-req.Start)/2
	imageSamples := int64(float64(req.Width) * req.SamplesPerPixel)

	sampleStart := regionStart
	if c := center - imageSamples; c > sampleStart {
		sampleStart = c
	}
	sampleEnd := regionEnd
	if c := center + imageSamples; c < sampleEnd {
		sampleEnd = c
	}

	nPeaks := int(roundDiv(sampleEnd-sampleStart, req.SamplesPerPixel))
	if nPeaks <= 0 {
		return
	}

	buf := make([]peaks.Peak, nPeaks)
	if err := w.reader.ReadPeaks(buf, sampleStart, sampleEnd-sampleStart, req.Channel, req.SamplesPerPixel); err != nil {
		// Peak-read failure is treated as cancelled for display
		// purposes (§7): no image is produced, and it is logged
		// at most once per source.
		w.cache.LogReadFailureOnce(region.Source(req.Channel), err)
		return
	}

	if req.ShouldStop() {
		return
	}

	imageOffset := float64(req.Start - sampleStart)

	img, ok := compose.Render(buf, req.Params, req)
	if !ok {
		glog.V(1).Infof("worker: render cancelled for %s", safeSourceID(region, req.Channel))
		return
	}

	req.setResult(img, imageOffset, sampleStart, sampleEnd)

	glog.V(1).Infof("worker: image ready for %s [%d..%d]", safeSourceID(region, req.Channel), sampleStart, sampleEnd)
	requestor.NotifyImageReady()
}

func safeSourceID(region peaks.Region, channel int) string {
	src := region.Source(channel)
	if src == nil {
		return fmt.Sprintf("channel %d", channel)
	}
	return src.SourceID()
}

func roundDiv(samples int64, spp float64) int64 {
	if spp == 0 {
		return 0
	}
	f := float64(samples) / spp
	if f < 0 {
		return int64(f - 0.5)
	}
	return int64(f + 0.5)
}
