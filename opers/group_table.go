package opers

import (
	"bytes"

	"github.com/flintdb/flint/common"
)

const (
	groupTableInitialSlots = 256 // must be a power of two
	groupTableMaxLoad      = 0.6
)

type groupSlot struct {
	hash  uint64
	key   []byte
	state *aggState
	used  bool
}

// groupTable is an open-addressed hash table from encoded grouping key to
// accumulator state. Sized as a power of two, linear probing. It is only
// ever accessed from the single goroutine executing its partition.
type groupTable struct {
	slots        []groupSlot
	numEntries   int
	growAt       int
	retainedSize int64
}

func newGroupTable() *groupTable {
	t := &groupTable{}
	t.reset()
	return t
}

func (t *groupTable) reset() {
	t.slots = make([]groupSlot, groupTableInitialSlots)
	t.numEntries = 0
	growAt := groupTableMaxLoad * float64(groupTableInitialSlots)
	t.growAt = int(growAt)
	t.retainedSize = 0
}

// getOrCreate returns the state for the key, creating it with create() on
// first occurrence. The key bytes are copied on insert, callers can reuse
// the buffer.
func (t *groupTable) getOrCreate(key []byte, create func() *aggState) *aggState {
	hash := common.DefaultHash(key)
	mask := uint64(len(t.slots) - 1)
	pos := hash & mask
	for {
		slot := &t.slots[pos]
		if !slot.used {
			keyCopy := common.ByteSliceCopy(key)
			state := create()
			*slot = groupSlot{hash: hash, key: keyCopy, state: state, used: true}
			t.numEntries++
			t.retainedSize += int64(len(keyCopy)) + state.retainedSize()
			if t.numEntries >= t.growAt {
				t.grow()
			}
			return state
		}
		if slot.hash == hash && bytes.Equal(slot.key, key) {
			return slot.state
		}
		pos = (pos + 1) & mask
	}
}

func (t *groupTable) grow() {
	newSlots := make([]groupSlot, 2*len(t.slots))
	mask := uint64(len(newSlots) - 1)
	for i := range t.slots {
		slot := &t.slots[i]
		if !slot.used {
			continue
		}
		pos := slot.hash & mask
		for newSlots[pos].used {
			pos = (pos + 1) & mask
		}
		newSlots[pos] = *slot
	}
	t.slots = newSlots
	t.growAt = int(groupTableMaxLoad * float64(len(newSlots)))
}

// forEach visits entries in unspecified order.
func (t *groupTable) forEach(f func(key []byte, state *aggState) error) error {
	for i := range t.slots {
		slot := &t.slots[i]
		if !slot.used {
			continue
		}
		if err := f(slot.key, slot.state); err != nil {
			return err
		}
	}
	return nil
}
