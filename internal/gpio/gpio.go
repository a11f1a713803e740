// Package gpio drives output lines for the relay board.
package gpio

import (
	"fmt"
	"sync"
)

// Driver sets output line levels.
type Driver interface {
	// Set drives line high or low.
	Set(line int, high bool) error
	Close() error
}

// Memory is an in-memory Driver that records the last level of each line.
type Memory struct {
	mu     sync.Mutex
	levels map[int]bool
	fail   map[int]error
}

// NewMemory creates a Memory driver with the given lines set high.
func NewMemory(lines []int) *Memory {
	m := &Memory{levels: make(map[int]bool), fail: make(map[int]error)}
	for _, l := range lines {
		m.levels[l] = true
	}
	return m
}

// Set records the level of line.
func (m *Memory) Set(line int, high bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[line]; err != nil {
		return fmt.Errorf("set line %d: %w", line, err)
	}
	m.levels[line] = high
	return nil
}

// Level returns the recorded level of line and whether it was ever set.
func (m *Memory) Level(line int) (high bool, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	high, ok = m.levels[line]
	return high, ok
}

// FailLine makes subsequent writes to line return err. A nil err clears it.
func (m *Memory) FailLine(line int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, line)
		return
	}
	m.fail[line] = err
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
