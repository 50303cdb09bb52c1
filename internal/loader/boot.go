package loader

import "sync"

// BootContext holds the entry point of the last loaded image for the
// lifetime of the monitor.
type BootContext struct {
	mu     sync.Mutex
	entry  uint32
	loaded bool
}

// SetEntry records a loaded image's entry point.
func (b *BootContext) SetEntry(entry uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entry = entry
	b.loaded = true
}

// Entry returns the recorded entry point, if any.
func (b *BootContext) Entry() (uint32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entry, b.loaded
}

// Reset forgets the recorded entry point.
func (b *BootContext) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entry = 0
	b.loaded = false
}
