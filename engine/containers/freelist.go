package containers

import "fmt"

// FreeList hands out integer handles in [0, capacity). Released handles are
// reused before fresh ones, most recently released first. Not safe for
// concurrent use.
type FreeList struct {
	free     []uint32
	inUse    []bool
	capacity uint32
}

func NewFreeList(capacity uint32) *FreeList {
	fl := &FreeList{
		free:     make([]uint32, 0, capacity),
		inUse:    make([]bool, capacity),
		capacity: capacity,
	}
	// Push in reverse so the lowest handle is handed out first.
	for i := capacity; i > 0; i-- {
		fl.free = append(fl.free, i-1)
	}
	return fl
}

// Acquire returns a free handle, or false if every handle is taken.
func (fl *FreeList) Acquire() (uint32, bool) {
	if len(fl.free) == 0 {
		return 0, false
	}
	id := fl.free[len(fl.free)-1]
	fl.free = fl.free[:len(fl.free)-1]
	fl.inUse[id] = true
	return id, true
}

// Release makes id available again.
func (fl *FreeList) Release(id uint32) error {
	if id >= fl.capacity {
		return fmt.Errorf("freelist release: id '%d' out of range (max=%d). Nothing was done", id, fl.capacity)
	}
	if !fl.inUse[id] {
		return fmt.Errorf("freelist release: id '%d' is not in use. Nothing was done", id)
	}
	fl.inUse[id] = false
	fl.free = append(fl.free, id)
	return nil
}

func (fl *FreeList) InUse(id uint32) bool {
	return id < fl.capacity && fl.inUse[id]
}

// Available returns the number of handles that can still be acquired.
func (fl *FreeList) Available() int {
	return len(fl.free)
}

func (fl *FreeList) Capacity() uint32 {
	return fl.capacity
}
