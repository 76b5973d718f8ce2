package store

import (
	"fmt"
	"sort"

	"github.com/ledgerforge/chain/pkg/types"
)

// Entity is the constraint every stored row must satisfy: a stable
// identity and a deep-copy constructor so the undo log can snapshot
// pre-mutation state without aliasing.
type Entity[T any] interface {
	EntityID() types.ID
	Clone() T
}

// Index is a secondary ordering over a table's rows, maintained as a
// sorted slice of instance numbers. Determinism requirement from spec
// §4.1: "where two entries compare equal on the sort key, the
// identity breaks the tie" — callers must fold ID.Less into Less.
type Index[T any] struct {
	name string
	less func(a, b T) bool
	ids  []uint64 // sorted by less(row[ids[i]], row[ids[i+1]])
}

// Table is a generic identity-indexed, undo-tracked collection for one
// entity kind.
type Table[T Entity[T]] struct {
	kind    types.Kind
	stack   *SavepointStack
	next    uint64
	rows    map[uint64]T
	indexes map[string]*Index[T]
	uniques map[string]func(T) (key string, ok bool)
	seen    map[string]map[string]uint64 // uniqueName -> key -> instance
}

// NewTable constructs an empty table bound to the database's shared
// savepoint stack.
func NewTable[T Entity[T]](kind types.Kind, stack *SavepointStack) *Table[T] {
	return &Table[T]{
		kind:    kind,
		stack:   stack,
		rows:    make(map[uint64]T),
		indexes: make(map[string]*Index[T]),
		uniques: make(map[string]func(T) (string, bool)),
		seen:    make(map[string]map[string]uint64),
	}
}

// AddIndex registers a secondary ordering, rebuilt from current rows.
func (t *Table[T]) AddIndex(name string, less func(a, b T) bool) {
	idx := &Index[T]{name: name, less: less}
	for id := range t.rows {
		idx.ids = append(idx.ids, id)
	}
	sort.Slice(idx.ids, func(i, j int) bool {
		return less(t.rows[idx.ids[i]], t.rows[idx.ids[j]])
	})
	t.indexes[name] = idx
}

// AddUnique registers a uniqueness constraint: keyFn returns the
// uniqueness key for a row (ok=false skips the constraint for that row).
func (t *Table[T]) AddUnique(name string, keyFn func(T) (string, bool)) {
	t.uniques[name] = keyFn
	t.seen[name] = make(map[string]uint64)
	for id, row := range t.rows {
		if key, ok := keyFn(row); ok {
			t.seen[name][key] = id
		}
	}
}

func (t *Table[T]) insertIndexes(id uint64, row T) {
	for _, idx := range t.indexes {
		pos := sort.Search(len(idx.ids), func(i int) bool {
			return idx.less(row, t.rows[idx.ids[i]])
		})
		idx.ids = append(idx.ids, 0)
		copy(idx.ids[pos+1:], idx.ids[pos:])
		idx.ids[pos] = id
	}
	for name, keyFn := range t.uniques {
		if key, ok := keyFn(row); ok {
			t.seen[name][key] = id
		}
	}
}

func (t *Table[T]) removeIndexes(id uint64, row T) {
	for _, idx := range t.indexes {
		for i, v := range idx.ids {
			if v == id {
				idx.ids = append(idx.ids[:i], idx.ids[i+1:]...)
				break
			}
		}
	}
	for name, keyFn := range t.uniques {
		if key, ok := keyFn(row); ok {
			delete(t.seen[name], key)
		}
	}
}

// Create allocates a new identity, applies init, and checks every
// registered uniqueness constraint. On failure, no row is created
// (spec §4.1: "A failed operation leaves the savepoint consistent").
func (t *Table[T]) Create(init func(id types.ID) T) (T, error) {
	var zero T
	instance := t.next
	id, err := types.NewID(t.kind, instance)
	if err != nil {
		return zero, err
	}
	row := init(id)
	if row.EntityID() != id {
		return zero, fmt.Errorf("store: Create init must set id %s on the row", id)
	}
	for name, keyFn := range t.uniques {
		if key, ok := keyFn(row); ok {
			if _, exists := t.seen[name][key]; exists {
				return zero, fmt.Errorf("store: uniqueness violation on %s: key %q already present", name, key)
			}
		}
	}

	t.next++
	t.rows[instance] = row
	t.insertIndexes(instance, row)

	t.stack.record(func() {
		delete(t.rows, instance)
		t.removeIndexes(instance, row)
		t.next--
	})
	return row, nil
}

// Get returns the row for id, if present.
func (t *Table[T]) Get(id types.ID) (T, bool) {
	row, ok := t.rows[id.Instance]
	return row, ok
}

// MustGet panics if id is absent; use only where existence was
// already established by the caller (e.g. resolving a just-validated
// reference within the same evaluator).
func (t *Table[T]) MustGet(id types.ID) T {
	row, ok := t.Get(id)
	if !ok {
		panic(fmt.Sprintf("store: MustGet(%s): no such row", id))
	}
	return row
}

// Modify applies mutator in place and records the pre-mutation clone
// for undo. Fails if id is unknown.
func (t *Table[T]) Modify(id types.ID, mutator func(*T)) error {
	row, ok := t.rows[id.Instance]
	if !ok {
		return fmt.Errorf("store: Modify(%s): no such row", id)
	}
	before := row.Clone()
	t.removeIndexes(id.Instance, row)

	// Mutate an independent clone, never the stored pointer in place —
	// callers elsewhere may still hold a *T from an earlier Get/Create
	// within the same savepoint, and it must keep reading the
	// pre-mutation value (spec §4.1: "references held across
	// transactional savepoints are not valid — only identities are").
	mutated := row.Clone()
	mutator(&mutated)
	if mutated.EntityID() != id {
		t.insertIndexes(id.Instance, row)
		return fmt.Errorf("store: Modify must not change entity id")
	}
	t.rows[id.Instance] = mutated
	t.insertIndexes(id.Instance, mutated)

	t.stack.record(func() {
		t.removeIndexes(id.Instance, t.rows[id.Instance])
		t.rows[id.Instance] = before
		t.insertIndexes(id.Instance, before)
	})
	return nil
}

// Remove deletes a row. Fails if id is unknown.
func (t *Table[T]) Remove(id types.ID) error {
	row, ok := t.rows[id.Instance]
	if !ok {
		return fmt.Errorf("store: Remove(%s): no such row", id)
	}
	delete(t.rows, id.Instance)
	t.removeIndexes(id.Instance, row)

	t.stack.record(func() {
		t.rows[id.Instance] = row
		t.insertIndexes(id.Instance, row)
	})
	return nil
}

// Len returns the number of rows currently present.
func (t *Table[T]) Len() int { return len(t.rows) }

// All calls fn for every row in unspecified (map) order; callers that
// need determinism must use Sorted with a registered index instead.
func (t *Table[T]) All(fn func(T) bool) {
	for _, row := range t.rows {
		if !fn(row) {
			return
		}
	}
}

// First returns the first row in indexName's order (its O(1)
// "best price" peek — the store-index analogue of the teacher's
// bidHeap/askHeap Peek()).
func (t *Table[T]) First(indexName string, fn func(T) bool) (T, bool) {
	idx, ok := t.indexes[indexName]
	if !ok {
		panic(fmt.Sprintf("store: no such index %q on kind %s", indexName, t.kind))
	}
	for _, id := range idx.ids {
		row := t.rows[id]
		if fn == nil || fn(row) {
			return row, true
		}
	}
	var zero T
	return zero, false
}

// Sorted iterates rows in the order of a registered secondary index.
func (t *Table[T]) Sorted(indexName string, fn func(T) bool) {
	idx, ok := t.indexes[indexName]
	if !ok {
		panic(fmt.Sprintf("store: no such index %q on kind %s", indexName, t.kind))
	}
	for _, id := range idx.ids {
		if !fn(t.rows[id]) {
			return
		}
	}
}

// Find looks up a row by the key of a registered uniqueness constraint.
func (t *Table[T]) Find(uniqueName, key string) (T, bool) {
	var zero T
	m, ok := t.seen[uniqueName]
	if !ok {
		panic(fmt.Sprintf("store: no such unique index %q on kind %s", uniqueName, t.kind))
	}
	instance, ok := m[key]
	if !ok {
		return zero, false
	}
	return t.rows[instance], true
}

// NextInstance previews the identity Create would assign next,
// without allocating it. Used by tests asserting dense identity
// assignment.
func (t *Table[T]) NextInstance() uint64 { return t.next }

// Load inserts row at its own identity outside the undo log and
// advances next past it, for restoring a durable snapshot into a
// freshly constructed (empty, no open savepoint) table (spec §6
// "the core assumes a provider that can save a consistent snapshot at
// any commit boundary and restore it"). Callers must Load every row
// before any Begin/Create on the table.
func (t *Table[T]) Load(row T) {
	instance := row.EntityID().Instance
	t.rows[instance] = row
	t.insertIndexes(instance, row)
	if instance >= t.next {
		t.next = instance + 1
	}
}
