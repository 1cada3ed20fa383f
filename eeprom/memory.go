package eeprom

import "sync"

// DefaultSize matches the 64 KiB EEPROM on the Activity Board.
const DefaultSize = 1 << 16

// Memory is a Store kept in RAM.
type Memory struct {
	mu   sync.RWMutex
	data []byte
}

// NewMemory returns a zeroed in-memory store of size bytes.
func NewMemory(size int) *Memory {
	return &Memory{data: make([]byte, size)}
}

// Size returns the number of addressable bytes.
func (m *Memory) Size() int {
	return len(m.data)
}

// Read fills p from the bytes starting at addr.
func (m *Memory) Read(addr int, p []byte) error {
	if err := checkRange(m, addr, len(p)); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	copy(p, m.data[addr:])
	return nil
}

// Write copies p into the store starting at addr.
func (m *Memory) Write(addr int, p []byte) error {
	if err := checkRange(m, addr, len(p)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(m.data[addr:], p)
	return nil
}

// Bytes returns a copy of the whole store.
func (m *Memory) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}
