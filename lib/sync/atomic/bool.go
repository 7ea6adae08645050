package atomic

import "sync/atomic"

// Boolean is a boolean value, all actions of it is atomic
type Boolean uint32

// Get reads the value atomically
func (b *Boolean) Get() bool {
	return atomic.LoadUint32((*uint32)(b)) != 0
}

// Set writes the value atomically
func (b *Boolean) Set(v bool) {
	atomic.StoreUint32((*uint32)(b), toUint32(v))
}

// CompareAndSwap sets the value to new only if it currently equals old.
// It reports whether the swap happened.
func (b *Boolean) CompareAndSwap(old, new bool) bool {
	return atomic.CompareAndSwapUint32((*uint32)(b), toUint32(old), toUint32(new))
}

func toUint32(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}
