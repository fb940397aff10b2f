// Package sequence provides durable, rollover-safe sequence numbers shared
// across worker processes through the key-value store.
//
// Wire protocols such as SMPP correlate requests and responses with a
// per-connection sequence number that must stay positive and must wrap
// before exceeding the protocol's 32-bit ceiling. The counter lives in the
// store and is advanced with an atomic increment, so multiple processes
// bound to the same connection never hand out the same number (except
// momentarily around the rollover itself, which protocols tolerate because
// the previous use of a low number is long resolved by then).
package sequence

import (
	"context"
	"strconv"

	"github.com/praekeltfoundation/vumigo/errors"
	"github.com/praekeltfoundation/vumigo/kvstore"
)

// DefaultRolloverAt is the default ceiling: the full unsigned 32-bit range.
// After handing out this value the counter restarts at 1; 0 is reserved.
const DefaultRolloverAt = 0xFFFFFFFF

// Generator produces a strictly increasing sequence of positive integers,
// wrapping at the configured ceiling.
type Generator struct {
	store      kvstore.Store
	key        string
	rolloverAt int64
}

// NewGenerator creates a sequence generator for one logical connection.
// name distinguishes counters for different connections in the store.
func NewGenerator(store kvstore.Store, name string, rolloverAt int64) *Generator {
	if rolloverAt <= 0 {
		rolloverAt = DefaultRolloverAt
	}
	return &Generator{
		store:      store,
		key:        "sequence:" + name,
		rolloverAt: rolloverAt,
	}
}

// Next atomically advances the counter and returns the new value. If the
// pre-increment value was at or past the rollover ceiling the counter is
// reset and 1 is returned. Never returns 0.
func (g *Generator) Next(ctx context.Context) (int64, error) {
	seq, err := g.store.Incr(ctx, g.key, 1)
	if err != nil {
		return 0, errors.WrapTransient(err, "Generator", "Next", "counter increment")
	}
	if seq > g.rolloverAt {
		if err := g.store.Set(ctx, g.key, "1"); err != nil {
			return 0, errors.WrapTransient(err, "Generator", "Next", "counter rollover")
		}
		return 1, nil
	}
	return seq, nil
}

// Set forces the counter to a specific value. Used by operational tooling
// and tests; normal callers only use Next.
func (g *Generator) Set(ctx context.Context, value int64) error {
	if err := g.store.Set(ctx, g.key, strconv.FormatInt(value, 10)); err != nil {
		return errors.WrapTransient(err, "Generator", "Set", "counter write")
	}
	return nil
}
