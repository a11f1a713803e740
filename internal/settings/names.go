package settings

import (
	"context"
	"fmt"
	"sort"
)

// NamespaceRelayNames holds the relay display names.
const NamespaceRelayNames = "relay_names"

// NameKey returns the key of the display name for relay index.
func NameKey(index int) string {
	return fmt.Sprintf("name_%d", index)
}

// LoadRelayNames returns defaults overridden by every non-empty stored name.
func (s *Store) LoadRelayNames(ctx context.Context, defaults []string) ([]string, error) {
	names := append([]string(nil), defaults...)
	err := s.With(ctx, NamespaceRelayNames, true, func(h *Handle) error {
		for i := range names {
			saved, err := h.GetString(NameKey(i), "")
			if err != nil {
				return err
			}
			if saved != "" {
				names[i] = saved
			}
		}
		return nil
	})
	if err != nil {
		return defaults, err
	}
	return names, nil
}

// SaveRelayNames stores the given index -> name pairs in one handle.
func (s *Store) SaveRelayNames(ctx context.Context, names map[int]string) error {
	indices := make([]int, 0, len(names))
	for i := range names {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	return s.With(ctx, NamespaceRelayNames, false, func(h *Handle) error {
		for _, i := range indices {
			if err := h.PutString(NameKey(i), names[i]); err != nil {
				return err
			}
		}
		return nil
	})
}
