package dedup

import (
	"testing"
	"time"
)

func TestIsDuplicateWithinTTL(t *testing.T) {
	t.Parallel()
	d := New(StrategyHash, 50*time.Millisecond, 100)

	e := Event{Token: "tok1", Kind: "book", Hash: "abc"}
	if d.IsDuplicate(e) {
		t.Fatal("first sighting should not be a duplicate")
	}
	if !d.IsDuplicate(e) {
		t.Fatal("second sighting within ttl should be a duplicate")
	}
}

func TestIsDuplicateExpiresAfterTTL(t *testing.T) {
	t.Parallel()
	d := New(StrategyHash, 20*time.Millisecond, 100)

	e := Event{Token: "tok1", Kind: "book", Hash: "abc"}
	d.IsDuplicate(e)
	time.Sleep(30 * time.Millisecond)
	if d.IsDuplicate(e) {
		t.Fatal("entry should have expired past ttl")
	}
}

func TestTimestampStrategyIgnoresHash(t *testing.T) {
	t.Parallel()
	d := New(StrategyTimestamp, time.Second, 100)

	a := Event{Token: "tok1", Kind: "book", Hash: "h1", Timestamp: "1000"}
	b := Event{Token: "tok1", Kind: "book", Hash: "h2", Timestamp: "1000"}
	d.IsDuplicate(a)
	if !d.IsDuplicate(b) {
		t.Fatal("same token/kind/timestamp should be a duplicate regardless of hash")
	}
}

func TestContentStrategyDistinguishesPayload(t *testing.T) {
	t.Parallel()
	d := New(StrategyContent, time.Second, 100)

	a := Event{Token: "tok1", Kind: "book", Content: "bids=[0.5]"}
	b := Event{Token: "tok1", Kind: "book", Content: "bids=[0.6]"}
	d.IsDuplicate(a)
	if d.IsDuplicate(b) {
		t.Fatal("different content should not be flagged as duplicate")
	}
}

func TestCapacityEviction(t *testing.T) {
	t.Parallel()
	d := New(StrategyHash, time.Minute, 2)

	d.IsDuplicate(Event{Token: "a", Hash: "1"})
	d.IsDuplicate(Event{Token: "b", Hash: "2"})
	d.IsDuplicate(Event{Token: "c", Hash: "3"})

	if d.CacheSize() != 2 {
		t.Fatalf("cache size = %d, want 2 after capacity eviction", d.CacheSize())
	}
	// oldest ("a") should have been evicted, so it is no longer a duplicate
	if d.IsDuplicate(Event{Token: "a", Hash: "1"}) {
		t.Fatal("evicted entry should not be reported as duplicate")
	}
}

func TestGCRemovesExpiredEntries(t *testing.T) {
	t.Parallel()
	d := New(StrategyHash, 10*time.Millisecond, 100)
	d.IsDuplicate(Event{Token: "a", Hash: "1"})
	time.Sleep(20 * time.Millisecond)
	d.GC()
	if d.CacheSize() != 0 {
		t.Fatalf("cache size after gc = %d, want 0", d.CacheSize())
	}
}
