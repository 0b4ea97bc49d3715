// Package store holds the twin's records in memory: one Table per resource
// kind, each minting its own prefixed ids, plus a Clock that admin requests
// can move forward.
package store

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// row is a stored record and the order it was first written in.
type row[T any] struct {
	seq  uint64
	item T
}

// Table is a concurrency-safe set of records of type T keyed by id. Reads
// return records in the order they were first written.
type Table[T any] struct {
	mu     sync.RWMutex
	rows   map[string]row[T]
	prefix string
	ids    uint64 // last id minted by NextID
	seq    uint64 // last write sequence
}

// NewTable returns an empty table minting ids like "sia_000001".
func NewTable[T any](prefix string) *Table[T] {
	return &Table[T]{rows: map[string]row[T]{}, prefix: prefix}
}

// NextID mints the next id for this table.
func (t *Table[T]) NextID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ids++
	return fmt.Sprintf("%s_%06d", t.prefix, t.ids)
}

// Set writes item under id. Overwriting keeps the record's position.
func (t *Table[T]) Set(id string, item T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rows[id]
	if !ok {
		t.seq++
		r.seq = t.seq
	}
	r.item = item
	t.rows[id] = r
}

// Get returns the record stored under id.
func (t *Table[T]) Get(id string) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rows[id]
	return r.item, ok
}

// Delete removes id and reports whether it was present.
func (t *Table[T]) Delete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[id]; !ok {
		return false
	}
	delete(t.rows, id)
	return true
}

// Update runs fn on the record under id with the table locked, so
// concurrent handlers cannot interleave a read-modify-write. It returns the
// updated record, or false if id is unknown.
func (t *Table[T]) Update(id string, fn func(item *T)) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rows[id]
	if !ok {
		var zero T
		return zero, false
	}
	fn(&r.item)
	t.rows[id] = r
	return r.item, true
}

// Len returns the number of records.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// ordered returns the ids in write order. Callers hold the lock.
func (t *Table[T]) ordered() []string {
	ids := make([]string, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return t.rows[ids[i]].seq < t.rows[ids[j]].seq })
	return ids
}

// Find returns the oldest record matching match.
func (t *Table[T]) Find(match func(T) bool) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, id := range t.ordered() {
		if item := t.rows[id].item; match(item) {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// Where returns every record matching match, oldest first.
func (t *Table[T]) Where(match func(T) bool) []T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []T
	for _, id := range t.ordered() {
		if item := t.rows[id].item; match(item) {
			out = append(out, item)
		}
	}
	return out
}

// IDsWhere returns the ids of the records matching match, oldest first.
func (t *Table[T]) IDsWhere(match func(T) bool) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for _, id := range t.ordered() {
		if match(t.rows[id].item) {
			out = append(out, id)
		}
	}
	return out
}

// Reset empties the table and restarts its ids.
func (t *Table[T]) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = map[string]row[T]{}
	t.ids, t.seq = 0, 0
}

// Snapshot copies the records into a map for the admin state endpoint.
func (t *Table[T]) Snapshot() map[string]T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]T, len(t.rows))
	for id, r := range t.rows {
		out[id] = r.item
	}
	return out
}

// LoadSnapshot replaces the records with snapshot. Loaded records are
// ordered by id, and NextID continues after the highest loaded id that
// carries this table's prefix.
func (t *Table[T]) LoadSnapshot(snapshot map[string]T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	t.rows = make(map[string]row[T], len(snapshot))
	t.ids, t.seq = 0, 0
	for _, id := range ids {
		t.seq++
		t.rows[id] = row[T]{seq: t.seq, item: snapshot[id]}
		if n, ok := t.idNumber(id); ok && n > t.ids {
			t.ids = n
		}
	}
}

func (t *Table[T]) idNumber(id string) (uint64, bool) {
	rest, ok := strings.CutPrefix(id, t.prefix+"_")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(rest, 10, 64)
	return n, err == nil
}

// Clock is the twin's notion of now: wall time plus an offset that admin
// requests advance to expire codes and sessions without waiting.
type Clock struct {
	mu     sync.RWMutex
	offset time.Duration
}

// NewClock returns a clock running at wall time.
func NewClock() *Clock {
	return &Clock{}
}

func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Now().Add(c.offset)
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

// Reset returns the clock to wall time.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = 0
}

func (c *Clock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}
