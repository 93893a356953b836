package raftstore

import (
	"go.etcd.io/etcd/raft/raftpb"
)

// entryCacheCapacity and entryCacheShrinkThreshold are spec.md §4.2's
// bounds: the cache never grows past 1023 entries, and is reallocated
// smaller once it drops below 64 so a long-lived region doesn't keep the
// high-water-mark backing array forever.
const (
	entryCacheCapacity        = 1023
	entryCacheShrinkThreshold = 64
)

// entryCache is the bounded in-memory deque of recently-appended Raft
// entries described in spec.md §3/§4.2: it lets the raft library re-read
// just-replicated entries without a round trip to the raft backend.
type entryCache struct {
	entries []raftpb.Entry
}

func newEntryCache() *entryCache {
	return &entryCache{}
}

func (c *entryCache) firstIndex() (uint64, bool) {
	if len(c.entries) == 0 {
		return 0, false
	}
	return c.entries[0].Index, true
}

func (c *entryCache) lastIndex() (uint64, bool) {
	if len(c.entries) == 0 {
		return 0, false
	}
	return c.entries[len(c.entries)-1].Index, true
}

// append adds entries to the cache, truncating any cached tail that
// overlaps the new entries' start index (a leader or follower can receive
// a rewritten suffix after a term change), then evicting the oldest
// entries if the result would exceed entryCacheCapacity.
func (c *entryCache) append(entries []raftpb.Entry) {
	if len(entries) == 0 {
		return
	}
	first := entries[0].Index
	if last, ok := c.lastIndex(); ok && first <= last {
		if first <= c.entries[0].Index {
			c.entries = c.entries[:0]
		} else {
			c.entries = c.entries[:first-c.entries[0].Index]
		}
	}
	c.entries = append(c.entries, entries...)
	if over := len(c.entries) - entryCacheCapacity; over > 0 {
		c.entries = append([]raftpb.Entry{}, c.entries[over:]...)
	}
}

// compactTo drops every cached entry below idx, reallocating the backing
// slice once the cache shrinks under entryCacheShrinkThreshold so log GC
// actually reclaims memory instead of just sliding a window.
func (c *entryCache) compactTo(idx uint64) {
	first, ok := c.firstIndex()
	if !ok || idx <= first {
		return
	}
	last, _ := c.lastIndex()
	if idx > last {
		c.entries = nil
		return
	}
	remaining := c.entries[idx-first:]
	if len(remaining) < entryCacheShrinkThreshold {
		c.entries = append([]raftpb.Entry{}, remaining...)
		return
	}
	c.entries = remaining
}

func (c *entryCache) clear() {
	c.entries = nil
}

// fetch returns the cached entries in [lo, hi), assuming the caller has
// already established lo >= the cache's first index.
func (c *entryCache) fetch(lo, hi uint64) []raftpb.Entry {
	first, ok := c.firstIndex()
	if !ok {
		return nil
	}
	start := lo - first
	end := hi - first
	if start > uint64(len(c.entries)) {
		return nil
	}
	if end > uint64(len(c.entries)) {
		end = uint64(len(c.entries))
	}
	return c.entries[start:end]
}
