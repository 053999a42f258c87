package session

import (
	"github.com/emirpasic/gods/maps/treemap"

	"github.com/skycoin/mdp/pkg/protocol"
)

// objTable keeps values keyed by object id in windowed id order. Every live
// id must lie within 2^31 of every other for the order to hold.
type objTable struct {
	m *treemap.Map
}

func newObjTable() *objTable {
	return &objTable{m: treemap.NewWith(func(a, b interface{}) int {
		return protocol.CompareIDs(a.(uint32), b.(uint32))
	})}
}

func (t *objTable) put(id uint32, v interface{}) { t.m.Put(id, v) }

func (t *objTable) get(id uint32) (interface{}, bool) { return t.m.Get(id) }

func (t *objTable) remove(id uint32) { t.m.Remove(id) }

func (t *objTable) len() int { return t.m.Size() }

func (t *objTable) empty() bool { return t.m.Empty() }

// first returns the lowest id entry.
func (t *objTable) first() (uint32, interface{}, bool) {
	k, v := t.m.Min()
	if k == nil {
		return 0, nil, false
	}
	return k.(uint32), v, true
}

// last returns the highest id entry.
func (t *objTable) last() (uint32, interface{}, bool) {
	k, v := t.m.Max()
	if k == nil {
		return 0, nil, false
	}
	return k.(uint32), v, true
}

// each walks entries in ascending id order until fn returns false. fn must
// not modify the table.
func (t *objTable) each(fn func(id uint32, v interface{}) bool) {
	it := t.m.Iterator()
	for it.Next() {
		if !fn(it.Key().(uint32), it.Value()) {
			return
		}
	}
}

// reverse walks entries in descending id order until fn returns false.
func (t *objTable) reverse(fn func(id uint32, v interface{}) bool) {
	it := t.m.Iterator()
	for it.End(); it.Prev(); {
		if !fn(it.Key().(uint32), it.Value()) {
			return
		}
	}
}

// ids returns every id in ascending order.
func (t *objTable) ids() []uint32 {
	keys := t.m.Keys()
	out := make([]uint32, len(keys))
	for i, k := range keys {
		out[i] = k.(uint32)
	}
	return out
}
