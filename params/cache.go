package params

import (
	"context"
	"fmt"
	"sync"

	"github.com/warp/payroll-engine/generic"
)

// Source hands out parameter snapshots. Services take one per top-level call.
type Source interface {
	Snapshot(ctx context.Context) (*Set, error)
}

// Static is a Source that always returns the same Set.
type Static struct {
	Set *Set
}

func (s Static) Snapshot(context.Context) (*Set, error) { return s.Set, nil }

// Cache is a read-mostly cache of the current Set. Writes go through the
// cache and invalidate it; snapshots already handed out are never touched.
type Cache struct {
	store generic.ParameterStore
	clock generic.Clock

	mu   sync.RWMutex
	snap *Set
}

// NewCache wraps store. A nil clock reads the wall clock.
func NewCache(store generic.ParameterStore, clock generic.Clock) *Cache {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	return &Cache{store: store, clock: clock}
}

// Snapshot returns the cached Set, loading it on a miss.
func (c *Cache) Snapshot(ctx context.Context) (*Set, error) {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()
	if snap != nil {
		return snap, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap != nil {
		return c.snap, nil
	}
	snap, err := Load(ctx, c.store)
	if err != nil {
		return nil, err
	}
	c.snap = snap
	return snap, nil
}

// Put validates and persists a parameter row, then drops the cached Set.
func (c *Cache) Put(ctx context.Context, row generic.ParameterRow) error {
	if err := ValidateRow(row); err != nil {
		return err
	}
	if def, ok := definitionOf(row.Key); ok {
		row.Type = def.Type
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = c.clock.Now()
	}
	if err := c.store.SaveParameter(ctx, row); err != nil {
		return fmt.Errorf("save parameter %s: %w", row.Key, err)
	}
	c.Invalidate()
	return nil
}

// Invalidate forces the next Snapshot to reload.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.snap = nil
	c.mu.Unlock()
}
