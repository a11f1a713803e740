package gpio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/warthog618/gpiod"
)

// Chip drives lines on a GPIO character device.
type Chip struct {
	mu    sync.Mutex
	chip  *gpiod.Chip
	lines map[int]*gpiod.Line
}

// OpenChip opens the named chip (e.g. "gpiochip0") and requests every
// offset in lines as an output initialised high.
func OpenChip(name string, lines []int) (*Chip, error) {
	chip, err := gpiod.NewChip(name, gpiod.WithConsumer("airbox"))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}

	c := &Chip{chip: chip, lines: make(map[int]*gpiod.Line, len(lines))}
	for _, offset := range lines {
		l, err := chip.RequestLine(offset, gpiod.AsOutput(1))
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("request line %d on %s: %w", offset, name, err)
		}
		c.lines[offset] = l
	}

	log.Info().Str("chip", name).Ints("lines", lines).Msg("GPIO lines requested")
	return c, nil
}

// Set drives a previously requested line.
func (c *Chip) Set(line int, high bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.lines[line]
	if !ok {
		return fmt.Errorf("line %d not requested", line)
	}
	v := 0
	if high {
		v = 1
	}
	return l.SetValue(v)
}

// Close releases every line and the chip.
func (c *Chip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for offset, l := range c.lines {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("release line %d: %w", offset, err))
		}
	}
	c.lines = nil
	if c.chip != nil {
		if err := c.chip.Close(); err != nil {
			errs = append(errs, err)
		}
		c.chip = nil
	}
	return errors.Join(errs...)
}
