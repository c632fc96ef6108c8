// Package detect decides whether a dashboard needs a new render by comparing
// the fingerprint of its inputs with the fingerprint of the last committed
// artifact.
package detect

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/dashrender/internal/entity"
	"git.home.luguber.info/inful/dashrender/internal/layout"
)

// Fingerprint identifies the render inputs of one dashboard.
type Fingerprint string

// Short returns a prefix suitable for logs.
func (f Fingerprint) Short() string {
	if len(f) > 12 {
		return string(f[:12])
	}
	return string(f)
}

// Compute hashes the layout fingerprint together with the values of the bound
// entities. Only values participate: timestamps never reach the renderer, so
// equal fingerprints imply identical output. Entities absent from the
// snapshot hash differently from entities reported as unavailable.
func Compute(layoutFP layout.Fingerprint, bindings []string, snap entity.Snapshot) Fingerprint {
	ids := slices.Clone(bindings)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	h := sha256.New()
	w := func(parts ...string) {
		for _, p := range parts {
			h.Write([]byte(p))
			h.Write([]byte{0})
		}
		h.Write([]byte{'\n'})
	}
	w("layout", string(layoutFP))
	for _, id := range ids {
		st, ok := snap.Get(id)
		if !ok {
			w("entity", id, "missing")
			continue
		}
		w("entity", id, st.Value.Canonical())
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// Record describes the last committed artifact of a dashboard.
type Record struct {
	Fingerprint Fingerprint
	ContentHash string
	ObservedAt  time.Time
	CommittedAt time.Time
}

// Table holds the last committed record per dashboard. Each dashboard owns
// its own atomic slot; there is no table-wide lock.
type Table struct {
	slots sync.Map // dashboard ID -> *atomic.Pointer[Record]
}

// NewTable creates an empty table.
func NewTable() *Table { return &Table{} }

func (t *Table) slot(id string) *atomic.Pointer[Record] {
	if v, ok := t.slots.Load(id); ok {
		return v.(*atomic.Pointer[Record])
	}
	v, _ := t.slots.LoadOrStore(id, new(atomic.Pointer[Record]))
	return v.(*atomic.Pointer[Record])
}

// Load returns the record for id.
func (t *Table) Load(id string) (Record, bool) {
	v, ok := t.slots.Load(id)
	if !ok {
		return Record{}, false
	}
	rec := v.(*atomic.Pointer[Record]).Load()
	if rec == nil {
		return Record{}, false
	}
	return *rec, true
}

// Store replaces the record for id.
func (t *Table) Store(id string, rec Record) {
	t.slot(id).Store(&rec)
}

// Delete forgets id.
func (t *Table) Delete(id string) {
	t.slots.Delete(id)
}

// Range calls fn for every recorded dashboard until fn returns false.
func (t *Table) Range(fn func(id string, rec Record) bool) {
	t.slots.Range(func(k, v any) bool {
		rec := v.(*atomic.Pointer[Record]).Load()
		if rec == nil {
			return true
		}
		return fn(k.(string), *rec)
	})
}

// Detector answers whether a candidate fingerprint warrants a render.
type Detector struct {
	table *Table
}

// New creates a detector over table.
func New(table *Table) *Detector {
	return &Detector{table: table}
}

// Table returns the underlying last-committed table.
func (d *Detector) Table() *Table { return d.table }

// ShouldRender reports whether candidate differs from the last committed
// fingerprint of id. A dashboard with no committed artifact always renders.
func (d *Detector) ShouldRender(id string, candidate Fingerprint) bool {
	rec, ok := d.table.Load(id)
	return !ok || rec.Fingerprint != candidate
}
