package core

import (
	"MarginLedger/internal/observability"
	"container/list"
	"fmt"
)

// IdempotencyChecker deduplicates operations in two tiers: an in-memory LRU
// of recent keys, then the operation log. Both tiers remember the sequence a
// key was committed at.
type IdempotencyChecker struct {
	lru       *IdempotencyLRU
	dbChecker DBIdempotencyChecker
	metrics   *observability.Metrics
}

// DBIdempotencyChecker looks a key up in the durable operation log and
// returns the sequence it was logged at.
type DBIdempotencyChecker interface {
	LookupSequence(opType string, idempotencyKey string) (int64, bool, error)
}

// IdempotencyEntry is a remembered key and the sequence it committed at.
type IdempotencyEntry struct {
	Key      string `json:"key"`
	Sequence int64  `json:"sequence"`
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   metrics,
	}
}

// CompositeKey is the form keys take in the LRU and in snapshots.
func CompositeKey(opType, key string) string {
	return fmt.Sprintf("%s:%s", opType, key)
}

// Lookup checks the LRU, then the operation log, and returns the original
// sequence of a duplicate. A failed log lookup is treated as not-duplicate
// so a database outage cannot stall the core.
func (ic *IdempotencyChecker) Lookup(opType string, idempotencyKey string) (int64, bool) {
	ck := CompositeKey(opType, idempotencyKey)
	if seq, ok := ic.lru.Get(ck); ok {
		ic.record(opType, "lru")
		return seq, true
	}
	if ic.dbChecker == nil {
		return 0, false
	}

	seq, isDup, err := ic.dbChecker.LookupSequence(opType, idempotencyKey)
	if err != nil {
		if ic.metrics != nil {
			ic.metrics.IdempotencyTier2Errors.Inc()
		}
		return 0, false
	}
	if isDup {
		ic.record(opType, "postgres")
		ic.lru.Add(ck, seq)
	}
	return seq, isDup
}

func (ic *IdempotencyChecker) record(opType, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(opType, tier).Inc()
	}
}

// MarkProcessed remembers a key committed at sequence.
func (ic *IdempotencyChecker) MarkProcessed(opType string, idempotencyKey string, sequence int64) {
	ic.lru.Add(CompositeKey(opType, idempotencyKey), sequence)
	if ic.metrics != nil {
		ic.metrics.IdempotencyLRUSize.Set(float64(ic.lru.Size()))
	}
}

// Entries returns the remembered keys, oldest first.
func (ic *IdempotencyChecker) Entries() []IdempotencyEntry {
	return ic.lru.Entries()
}

// Warm loads entries, oldest first, so the newest stay resident.
func (ic *IdempotencyChecker) Warm(entries []IdempotencyEntry) {
	ic.lru.Warm(entries)
	if ic.metrics != nil {
		ic.metrics.IdempotencyLRUSize.Set(float64(ic.lru.Size()))
	}
}

// IdempotencyLRU is a bounded recency map of composite keys to sequences.
// Not safe for concurrent use; the core's mutex serializes access.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Get returns a key's sequence and promotes it.
func (lru *IdempotencyLRU) Get(key string) (int64, bool) {
	elem, ok := lru.cache[key]
	if !ok {
		return 0, false
	}
	lru.lruList.MoveToFront(elem)
	return elem.Value.(IdempotencyEntry).Sequence, true
}

func (lru *IdempotencyLRU) Add(key string, sequence int64) {
	if elem, ok := lru.cache[key]; ok {
		lru.lruList.MoveToFront(elem)
		return
	}
	lru.cache[key] = lru.lruList.PushFront(IdempotencyEntry{Key: key, Sequence: sequence})
	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem == nil {
		return
	}
	lru.lruList.Remove(elem)
	delete(lru.cache, elem.Value.(IdempotencyEntry).Key)
	lru.evictions++
}

// Warm inserts entries in order without promoting ones already present.
func (lru *IdempotencyLRU) Warm(entries []IdempotencyEntry) {
	for _, e := range entries {
		if _, ok := lru.cache[e.Key]; ok {
			continue
		}
		lru.cache[e.Key] = lru.lruList.PushFront(e)
		if lru.lruList.Len() > lru.capacity {
			lru.evictOldest()
		}
	}
}

// Entries lists the entries from least to most recently used.
func (lru *IdempotencyLRU) Entries() []IdempotencyEntry {
	out := make([]IdempotencyEntry, 0, lru.lruList.Len())
	for e := lru.lruList.Back(); e != nil; e = e.Prev() {
		out = append(out, e.Value.(IdempotencyEntry))
	}
	return out
}

func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}
