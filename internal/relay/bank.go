// Package relay owns the logical state of the four relay channels.
//
// The board is active-low: a relay that is on has its pin driven low.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nuclearlighters/airbox/internal/gpio"
)

// Count is the number of relay channels.
const Count = 4

// ErrInvalidIndex is returned for a relay index outside [0, Count).
var ErrInvalidIndex = errors.New("invalid relay index")

// Snapshot is the logical on/off state of every relay.
type Snapshot [Count]bool

// MarshalJSON encodes the snapshot as {"in1":0|1, ... "in4":0|1}.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Map())
}

// Map returns the in1..in4 form of the snapshot.
func (s Snapshot) Map() map[string]int {
	m := make(map[string]int, Count)
	for i, on := range s {
		m[fmt.Sprintf("in%d", i+1)] = boolToInt(on)
	}
	return m
}

// Bank mirrors logical relay states to GPIO lines.
type Bank struct {
	mu     sync.Mutex
	driver gpio.Driver
	pins   [Count]int
	state  Snapshot
}

// NewBank creates a bank with every relay off, driving each pin high.
func NewBank(driver gpio.Driver, pins []int) (*Bank, error) {
	if len(pins) != Count {
		return nil, fmt.Errorf("relay bank needs %d pins, got %d", Count, len(pins))
	}
	b := &Bank{driver: driver}
	copy(b.pins[:], pins)
	for i, pin := range b.pins {
		if err := driver.Set(pin, true); err != nil {
			return nil, fmt.Errorf("init relay %d (pin %d): %w", i, pin, err)
		}
	}
	return b, nil
}

// Set switches relay index on or off and returns the resulting snapshot.
// On error the logical state is unchanged.
func (b *Bank) Set(index int, on bool) (Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if index < 0 || index >= Count {
		return b.state, fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}
	if err := b.apply(index, on); err != nil {
		return b.state, err
	}
	return b.state, nil
}

// SetMulti applies (index, state) pairs positionally, up to the shorter
// list and at most Count pairs. Out-of-range indices and failed writes are
// skipped. A non-zero state means on.
func (b *Bank) SetMulti(indices, states []int) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := min(len(indices), len(states), Count)
	for i := 0; i < n; i++ {
		idx := indices[i]
		if idx < 0 || idx >= Count {
			continue
		}
		_ = b.apply(idx, states[i] != 0)
	}
	return b.state
}

// Snapshot returns the current logical states.
func (b *Bank) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Pins returns the physical line of each relay and its current level.
func (b *Bank) Pins() []PinLevel {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]PinLevel, Count)
	for i, pin := range b.pins {
		out[i] = PinLevel{Relay: i, Pin: pin, High: !b.state[i]}
	}
	return out
}

// PinLevel is the electrical view of one relay.
type PinLevel struct {
	Relay int  `json:"relay"`
	Pin   int  `json:"pin"`
	High  bool `json:"high"`
}

func (b *Bank) apply(index int, on bool) error {
	if err := b.driver.Set(b.pins[index], !on); err != nil {
		return fmt.Errorf("relay %d: %w", index, err)
	}
	b.state[index] = on
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
