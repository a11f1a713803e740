package gpio

import (
	"context"
	"time"
)

// PinSetter is the pin call of the hardware abstraction service client.
type PinSetter interface {
	SetGPIOPin(ctx context.Context, pin, value int) error
}

// Remote drives lines through the hardware abstraction service.
type Remote struct {
	client  PinSetter
	timeout time.Duration
}

// NewRemote creates a Remote driver. Each write is bounded by timeout.
func NewRemote(client PinSetter, timeout time.Duration) *Remote {
	return &Remote{client: client, timeout: timeout}
}

// Set drives line high or low.
func (r *Remote) Set(line int, high bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	v := 0
	if high {
		v = 1
	}
	return r.client.SetGPIOPin(ctx, line, v)
}

// Close is a no-op.
func (r *Remote) Close() error {
	return nil
}
