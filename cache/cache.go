// Package cache implements the process-wide image cache described in
// §3/§4.2: a map from audio source to an insertion-ordered list of
// cached images, with subset consolidation and FIFO eviction above a
// high-water mark. All mutation goes through a single exclusive lock,
// following the embedded-mutex idiom the teacher uses in
// audio/util/ringbuffer.go.
package cache

import (
	"image"
	"sync"

	"github.com/golang/glog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/audiowave/wavecore/peaks"
	"github.com/audiowave/wavecore/visual"
)

// HighWater is the per-VisualKey cache retention threshold.
const HighWater = 2

// Entry is one cached image: a visual key, the sample range it
// covers, the image itself, and its insertion sequence number (used
// to pick the oldest entry of a group during the FIFO trim).
type Entry struct {
	Key        visual.Key
	Start, End int64
	Image      *image.NRGBA
	order      uint64
}

// Stats is a snapshot of cache activity, exposed to the introspect
// package for the debug dashboard.
type Stats struct {
	Hits, Misses, Evictions, Consolidations int64
}

// Cache is the process-wide image cache. The zero value is not usable;
// construct with New.
type Cache struct {
	mu       sync.Mutex
	entries  map[peaks.SourceHandle][]Entry
	seq      uint64
	loggedRF map[peaks.SourceHandle]bool // peak-read failures already logged

	hitSeries, missSeries     []float64
	evictions, consolidations int64
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{
		entries:  make(map[peaks.SourceHandle][]Entry),
		loggedRF: make(map[peaks.SourceHandle]bool),
	}
}

// Lookup returns the first entry for source whose Key matches key and
// whose sample range [Start,End] encloses [start,end], along with the
// blit offset in pixels: (entry.Start-regionStart)/spp.
func (c *Cache) Lookup(source peaks.SourceHandle, key visual.Key, start, end int64, regionStart int64, samplesPerPixel float64) (Entry, float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries[source] {
		if e.Key != key {
			continue
		}
		if start >= e.Start && end <= e.End {
			c.recordLookup(true)
			offset := float64(e.Start-regionStart) / samplesPerPixel
			return e, offset, true
		}
	}
	c.recordLookup(false)
	return Entry{}, 0, false
}

func (c *Cache) recordLookup(hit bool) {
	if hit {
		c.hitSeries = append(c.hitSeries, 1)
		c.missSeries = append(c.missSeries, 0)
	} else {
		c.hitSeries = append(c.hitSeries, 0)
		c.missSeries = append(c.missSeries, 1)
	}
}

// Insert appends entry to the tail of source's list. The caller is
// responsible for calling Consolidate next; Insert never evicts on
// its own.
func (c *Cache) Insert(source peaks.SourceHandle, key visual.Key, start, end int64, img *image.NRGBA) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	c.entries[source] = append(c.entries[source], Entry{
		Key: key, Start: start, End: end, Image: img, order: c.seq,
	})
}

// Consolidate removes, within the (source,key) group, any entry whose
// range is fully contained by another entry's range, then trims the
// group FIFO-style down to HighWater entries beyond whatever other
// VisualKey groups exist for the same source.
func (c *Cache) Consolidate(source peaks.SourceHandle, key visual.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consolidateLocked(source, key)
}

func (c *Cache) consolidateLocked(source peaks.SourceHandle, key visual.Key) {
	list := c.entries[source]
	if len(list) == 0 {
		return
	}

	// list is in insertion order. Scan forward: for each matching
	// entry, any later matching entry whose range it fully contains
	// is a subset and is dropped. An earlier entry is never removed
	// on account of a later, larger one.
	drop := make([]bool, len(list))
	for i := range list {
		if list[i].Key != key || drop[i] {
			continue
		}
		for j := i + 1; j < len(list); j++ {
			if list[j].Key != key || drop[j] {
				continue
			}
			if list[j].Start >= list[i].Start && list[j].End <= list[i].End {
				drop[j] = true
			}
		}
	}

	kept := make([]Entry, 0, len(list))
	removed := 0
	for i := range list {
		if drop[i] {
			removed++
			continue
		}
		kept = append(kept, list[i])
	}
	if removed > 0 {
		c.consolidations++
		glog.V(2).Infof("cache: consolidated %d subset entries for %s", removed, source.SourceID())
	}

	other := 0
	for _, e := range kept {
		if e.Key != key {
			other++
		}
	}

	// FIFO trim: repeatedly remove the matching entry with the lowest
	// insertion sequence number until the group is within bounds.
	for groupCount(kept, key) > HighWater+other {
		idx := oldestIndex(kept, key)
		kept = append(kept[:idx], kept[idx+1:]...)
		c.evictions++
		glog.V(2).Infof("cache: evicted oldest entry for %s (FIFO over high water)", source.SourceID())
	}

	c.entries[source] = kept
	if len(c.entries[source]) == 0 {
		delete(c.entries, source)
	}
}

func groupCount(list []Entry, key visual.Key) int {
	n := 0
	for _, e := range list {
		if e.Key == key {
			n++
		}
	}
	return n
}

func oldestIndex(list []Entry, key visual.Key) int {
	idx := -1
	for i, e := range list {
		if e.Key != key {
			continue
		}
		if idx == -1 || e.order < list[idx].order {
			idx = i
		}
	}
	return idx
}

// Invalidate removes every entry matching key for source, leaving
// other VisualKey groups (which may be in active use by other views)
// untouched.
func (c *Cache) Invalidate(source peaks.SourceHandle, key visual.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.entries[source]
	if len(list) == 0 {
		return
	}
	kept := list[:0:0]
	for _, e := range list {
		if e.Key == key {
			continue
		}
		kept = append(kept, e)
	}
	if len(kept) == 0 {
		delete(c.entries, source)
	} else {
		c.entries[source] = kept
	}
}

// LogReadFailureOnce logs a peak-read failure for source at most once
// for the lifetime of the cache, per §7 "Logged once per source."
func (c *Cache) LogReadFailureOnce(source peaks.SourceHandle, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loggedRF[source] {
		return
	}
	c.loggedRF[source] = true
	glog.Errorf("peak read failed for source %s: %v", source.SourceID(), err)
}

// Stats returns a snapshot of hit/miss/eviction/consolidation counts,
// including the mean hit rate over the recorded lookup history,
// computed with gonum/floats and gonum/stat the way the introspection
// debug server reports it.
func (c *Cache) Stats() (Stats, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hits := int64(floats.Sum(c.hitSeries))
	misses := int64(floats.Sum(c.missSeries))

	var hitRate float64
	if len(c.hitSeries) > 0 {
		hitRate = stat.Mean(c.hitSeries, nil)
	}

	return Stats{
		Hits:           hits,
		Misses:         misses,
		Evictions:      c.evictions,
		Consolidations: c.consolidations,
	}, hitRate
}

// GroupSize returns the number of entries currently cached for
// (source, key); used by tests to check the HighWater invariant.
func (c *Cache) GroupSize(source peaks.SourceHandle, key visual.Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return groupCount(c.entries[source], key)
}
