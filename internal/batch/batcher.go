// Package batch implements a token-budget-aware batch assembler. Items
// arrive incrementally, each with an integer cost, and are packed into
// ordered batches whose summed cost stays strictly below a budget.
package batch

import (
	"fmt"

	"github.com/gammazero/deque"

	"github.com/chatvault/ingest/internal/domain"
)

// Batcher packs items into cost-bounded batches.
//
// Items are buffered in a deque. Assembly pops from the front; an item that
// would push the open batch past the budget is pushed back to the front and
// re-examined at the start of the next batch, so order is preserved and no
// item is ever reordered across a batch boundary.
//
// A Batcher is not safe for concurrent use; each worker owns its own.
type Batcher[T any] struct {
	cost      func(T) int
	maxBudget int
	desired   int // 0 = no item-count trigger

	buf      deque.Deque[T]
	open     []T
	openCost int
}

// New returns a Batcher that bounds each batch's summed cost to be strictly
// less than maxBudget, and additionally closes a batch once it holds desired
// items (desired <= 0 disables the count trigger).
func New[T any](cost func(T) int, maxBudget, desired int) *Batcher[T] {
	if maxBudget <= 0 {
		panic("batch: maxBudget must be positive")
	}
	return &Batcher[T]{cost: cost, maxBudget: maxBudget, desired: desired}
}

// Add buffers items at the back of the deque.
func (b *Batcher[T]) Add(items ...T) {
	for _, it := range items {
		b.buf.PushBack(it)
	}
}

// Buffered reports how many items are waiting in the deque, excluding the
// open batch.
func (b *Batcher[T]) Buffered() int { return b.buf.Len() }

// Next assembles from the buffer and returns the next closed batch.
//
// It returns (batch, true, nil) when a flush trigger fired: either the next
// buffered item would break the budget, or the open batch reached the
// desired item count. It returns (nil, false, nil) when the buffer is
// drained without a trigger; buffered-but-unflushed items stay in the open
// batch for the next call.
//
// An item whose cost alone meets or exceeds the budget can never be
// admitted. It is removed from the stream and reported via
// domain.ErrOversizedItem; calling Next again continues with the remaining
// items.
func (b *Batcher[T]) Next() ([]T, bool, error) {
	for b.buf.Len() > 0 {
		item := b.buf.PopFront()
		c := b.cost(item)

		if b.openCost+c >= b.maxBudget {
			if len(b.open) == 0 {
				// Nothing admitted yet, so the item alone breaks the
				// budget. Pushing it back would loop forever.
				return nil, false, fmt.Errorf("batch: item cost %d with budget %d: %w",
					c, b.maxBudget, domain.ErrOversizedItem)
			}
			b.buf.PushFront(item)
			return b.close(), true, nil
		}

		b.open = append(b.open, item)
		b.openCost += c

		if b.desired > 0 && len(b.open) >= b.desired {
			return b.close(), true, nil
		}
	}
	return nil, false, nil
}

// Final drains everything left at end-of-stream into budget-respecting
// batches, including a last batch that may be smaller than the desired
// size. On domain.ErrOversizedItem the batches assembled so far are
// returned along with the error; calling Final again skips the offending
// item and continues.
func (b *Batcher[T]) Final() ([][]T, error) {
	var out [][]T
	for {
		batch, ok, err := b.Next()
		if err != nil {
			return out, err
		}
		if !ok {
			break
		}
		out = append(out, batch)
	}
	if len(b.open) > 0 {
		out = append(out, b.close())
	}
	return out, nil
}

func (b *Batcher[T]) close() []T {
	batch := b.open
	b.open = nil
	b.openCost = 0
	return batch
}
