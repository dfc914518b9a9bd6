package cache

import (
	"image"
	"testing"

	"github.com/audiowave/wavecore/visual"
)

type fakeSource struct{ id string }

func (f *fakeSource) SourceID() string { return f.id }

func TestLookupMissOnEmptyCache(t *testing.T) {
	c := New()
	src := &fakeSource{"a"}
	key := visual.Key{Channel: 0, Height: 64}

	if _, _, ok := c.Lookup(src, key, 0, 100, 0, 1.0); ok {
		t.Fatal("expected miss on empty cache")
	}
}

func TestInsertThenLookupHits(t *testing.T) {
	c := New()
	src := &fakeSource{"a"}
	key := visual.Key{Channel: 0, Height: 64}
	img := image.NewNRGBA(image.Rect(0, 0, 10, 64))

	c.Insert(src, key, 0, 1000, img)

	entry, _, ok := c.Lookup(src, key, 100, 200, 0, 1.0)
	if !ok {
		t.Fatal("expected hit for a range enclosed by the inserted entry")
	}
	if entry.Image != img {
		t.Fatal("returned entry does not reference the inserted image")
	}
}

func TestLookupMissWhenRangeNotEnclosed(t *testing.T) {
	c := New()
	src := &fakeSource{"a"}
	key := visual.Key{Channel: 0, Height: 64}
	img := image.NewNRGBA(image.Rect(0, 0, 10, 64))

	c.Insert(src, key, 0, 1000, img)

	if _, _, ok := c.Lookup(src, key, 900, 1100, 0, 1.0); ok {
		t.Fatal("expected miss for a range extending past the cached entry")
	}
}

func TestConsolidateDropsSubsetEntries(t *testing.T) {
	c := New()
	src := &fakeSource{"a"}
	key := visual.Key{Channel: 0, Height: 64}

	c.Insert(src, key, 0, 1000, image.NewNRGBA(image.Rect(0, 0, 1, 1)))
	c.Insert(src, key, 100, 200, image.NewNRGBA(image.Rect(0, 0, 1, 1))) // subset of the first
	c.Consolidate(src, key)

	if n := c.GroupSize(src, key); n != 1 {
		t.Fatalf("expected consolidation to drop the subset entry, got %d entries", n)
	}
}

func TestConsolidateNeverDropsTheLargerEarlierEntry(t *testing.T) {
	c := New()
	src := &fakeSource{"a"}
	key := visual.Key{Channel: 0, Height: 64}

	c.Insert(src, key, 0, 1000, image.NewNRGBA(image.Rect(0, 0, 1, 1)))
	c.Insert(src, key, 100, 200, image.NewNRGBA(image.Rect(0, 0, 1, 1)))
	c.Consolidate(src, key)

	_, _, ok := c.Lookup(src, key, 500, 600, 0, 1.0)
	if !ok {
		t.Fatal("the larger, earlier entry should survive consolidation")
	}
}

func TestFIFOEvictionAboveHighWater(t *testing.T) {
	c := New()
	src := &fakeSource{"a"}
	key := visual.Key{Channel: 0, Height: 64}

	// Three disjoint ranges: none is a subset of another, so only the
	// FIFO high-water trim can reduce the group below three entries.
	c.Insert(src, key, 0, 100, image.NewNRGBA(image.Rect(0, 0, 1, 1)))
	c.Consolidate(src, key)
	c.Insert(src, key, 200, 300, image.NewNRGBA(image.Rect(0, 0, 1, 1)))
	c.Consolidate(src, key)
	c.Insert(src, key, 400, 500, image.NewNRGBA(image.Rect(0, 0, 1, 1)))
	c.Consolidate(src, key)

	if n := c.GroupSize(src, key); n != HighWater {
		t.Fatalf("expected group trimmed to HighWater=%d, got %d", HighWater, n)
	}

	if _, _, ok := c.Lookup(src, key, 0, 100, 0, 1.0); ok {
		t.Fatal("the oldest entry should have been evicted first")
	}
}

func TestInvalidateRemovesOnlyMatchingKey(t *testing.T) {
	c := New()
	src := &fakeSource{"a"}
	keyA := visual.Key{Channel: 0, Height: 64}
	keyB := visual.Key{Channel: 1, Height: 64}

	c.Insert(src, keyA, 0, 100, image.NewNRGBA(image.Rect(0, 0, 1, 1)))
	c.Insert(src, keyB, 0, 100, image.NewNRGBA(image.Rect(0, 0, 1, 1)))

	c.Invalidate(src, keyA)

	if _, _, ok := c.Lookup(src, keyA, 0, 50, 0, 1.0); ok {
		t.Fatal("keyA entries should have been invalidated")
	}
	if _, _, ok := c.Lookup(src, keyB, 0, 50, 0, 1.0); !ok {
		t.Fatal("keyB entries should be untouched by invalidating keyA")
	}
}

func TestStatsTracksHitsAndMisses(t *testing.T) {
	c := New()
	src := &fakeSource{"a"}
	key := visual.Key{Channel: 0, Height: 64}
	c.Insert(src, key, 0, 1000, image.NewNRGBA(image.Rect(0, 0, 1, 1)))

	c.Lookup(src, key, 100, 200, 0, 1.0) // hit
	c.Lookup(src, key, 900, 2000, 0, 1.0) // miss

	stats, hitRate := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("got hits=%d misses=%d, want 1 and 1", stats.Hits, stats.Misses)
	}
	if hitRate != 0.5 {
		t.Fatalf("got hit rate %v, want 0.5", hitRate)
	}
}

func TestLogReadFailureOnceLogsOnlyOnce(t *testing.T) {
	c := New()
	src := &fakeSource{"a"}

	// Calling twice should not panic or double-count; there is no
	// externally observable counter for log calls, so this exercises
	// the guard for races/panics only.
	c.LogReadFailureOnce(src, errTest)
	c.LogReadFailureOnce(src, errTest)
}

var errTest = testErr("boom")

type testErr string

func (e testErr) Error() string { return string(e) }
