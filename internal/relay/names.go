package relay

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// DefaultNames are the display names used when nothing is stored.
var DefaultNames = [Count]string{"Libre", "Pompe", "Valve NF", "Valve NO"}

// NameStore persists display names.
type NameStore interface {
	LoadRelayNames(ctx context.Context, defaults []string) ([]string, error)
	SaveRelayNames(ctx context.Context, names map[int]string) error
}

// Names holds the display name of each relay.
type Names struct {
	mu    sync.RWMutex
	names [Count]string
	store NameStore
}

// LoadNames reads persisted names over the defaults. A store error is
// logged and the defaults are kept.
func LoadNames(ctx context.Context, store NameStore) *Names {
	n := &Names{names: DefaultNames, store: store}
	loaded, err := store.LoadRelayNames(ctx, DefaultNames[:])
	if err != nil {
		log.Warn().Err(err).Msg("Relay names unavailable, using defaults")
		return n
	}
	copy(n.names[:], loaded)
	return n
}

// List returns all four names.
func (n *Names) List() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]string(nil), n.names[:]...)
}

// Update sets the names present in updates (index -> name), ignoring
// indices outside [0, Count), and persists them. The in-memory names
// change even if persisting fails.
func (n *Names) Update(ctx context.Context, updates map[int]string) error {
	valid := make(map[int]string, len(updates))
	n.mu.Lock()
	for i, name := range updates {
		if i < 0 || i >= Count {
			continue
		}
		n.names[i] = name
		valid[i] = name
	}
	n.mu.Unlock()

	if len(valid) == 0 {
		return nil
	}
	return n.store.SaveRelayNames(ctx, valid)
}
