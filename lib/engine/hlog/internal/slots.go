package internal

import (
	"math/bits"
	"sync"
)

// maxPooledClass is the largest size class (1 << maxPooledClass bytes) kept for reuse
const maxPooledClass = 20

// SlotPool hands out value slots by power of two size class.
// Slots must only be returned once no reader can reference them any more.
type SlotPool struct {
	classes [maxPooledClass + 1]sync.Pool
}

func sizeClass(size int) int {
	if size <= 1 {
		return 0
	}
	return bits.Len(uint(size - 1))
}

// Get returns a slot of exactly size bytes. Its contents are undefined.
func (p *SlotPool) Get(size int) []byte {
	c := sizeClass(size)
	if c > maxPooledClass {
		return make([]byte, size)
	}
	if v := p.classes[c].Get(); v != nil {
		return (*(v.(*[]byte)))[:size]
	}
	return make([]byte, size, 1<<c)
}

// Put makes a slot available for reuse. It reports whether the slot was pooled.
func (p *SlotPool) Put(slot []byte) bool {
	if cap(slot) == 0 {
		return false
	}
	c := sizeClass(cap(slot))
	if c > maxPooledClass || cap(slot) != 1<<c {
		return false
	}
	slot = slot[:cap(slot)]
	p.classes[c].Put(&slot)
	return true
}
