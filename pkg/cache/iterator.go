// Package cache provides a lazily materializing, caching iterator over a
// single-pass source sequence.
//
// An Iterator pulls from its source at most once per element and only as far
// as any caller has demanded, so random indexing, slicing, and repeated
// iteration over a remote paginated source never re-fetch data. Instances are
// not safe for concurrent use; a query result belongs to one goroutine unless
// the caller synchronizes.
package cache

import (
	"errors"
	"fmt"
	"iter"
	"math"
)

// NextFunc pulls the next element from the source. It returns ok=false when
// the source is exhausted. A returned error is not latched by the Iterator;
// sources that cannot resume should keep returning the same error.
type NextFunc[T any] func() (T, bool, error)

// End marks an unbounded slice stop, equivalent to omitting the bound.
const End = math.MinInt

// ErrOutOfRange is returned by Get when the index cannot be satisfied.
var ErrOutOfRange = errors.New("index out of range")

// Iterator caches every element pulled from a NextFunc and serves all reads
// from the cache first.
type Iterator[T any] struct {
	next     NextFunc[T]
	values   []T
	complete bool
}

// New returns an Iterator over the given source.
func New[T any](next NextFunc[T]) *Iterator[T] {
	return &Iterator[T]{next: next}
}

// FromSlice returns an already-complete Iterator over values. The slice is
// used as the backing store without copying.
func FromSlice[T any](values []T) *Iterator[T] {
	return &Iterator[T]{values: values, complete: true}
}

// pull fetches one element from the source into the cache. It reports whether
// an element was added.
func (it *Iterator[T]) pull() (bool, error) {
	if it.complete {
		return false, nil
	}
	v, ok, err := it.next()
	if err != nil {
		return false, err
	}
	if !ok {
		it.complete = true
		it.next = nil
		return false, nil
	}
	it.values = append(it.values, v)
	return true, nil
}

// fetchUpTo pulls until index i is cached or the source is exhausted.
func (it *Iterator[T]) fetchUpTo(i int) error {
	for len(it.values) <= i && !it.complete {
		if _, err := it.pull(); err != nil {
			return err
		}
	}
	return nil
}

// materialize drains the source to completion.
func (it *Iterator[T]) materialize() error {
	for !it.complete {
		if _, err := it.pull(); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the element at index i, pulling from the source only as far as
// needed. A negative index counts from the end and forces full
// materialization. Out-of-range indices return ErrOutOfRange.
func (it *Iterator[T]) Get(i int) (T, error) {
	var zero T
	if i < 0 {
		if err := it.materialize(); err != nil {
			return zero, err
		}
		i += len(it.values)
		if i < 0 {
			return zero, fmt.Errorf("%w: %d", ErrOutOfRange, i-len(it.values))
		}
	} else if err := it.fetchUpTo(i); err != nil {
		return zero, err
	}
	if i >= len(it.values) {
		return zero, fmt.Errorf("%w: %d", ErrOutOfRange, i)
	}
	return it.values[i], nil
}

// Slice returns a copy of the elements in [start, stop) taking every step-th
// element. Pass End as stop for an unbounded slice; unbounded and negative
// bounds force full materialization. A bounded non-negative stop pulls the
// source through index stop, so the cache may hold one element past the
// returned range.
func (it *Iterator[T]) Slice(start, stop, step int) ([]T, error) {
	if step < 1 {
		return nil, fmt.Errorf("slice step must be >= 1, got %d", step)
	}
	if start == End {
		start = 0
	}
	if stop == End || start < 0 || stop < 0 {
		if err := it.materialize(); err != nil {
			return nil, err
		}
		n := len(it.values)
		if stop == End {
			stop = n
		}
		start = normalizeBound(start, n)
		stop = normalizeBound(stop, n)
	} else if err := it.fetchUpTo(stop); err != nil {
		return nil, err
	}
	if stop > len(it.values) {
		stop = len(it.values)
	}
	if start > stop {
		start = stop
	}
	out := make([]T, 0, (stop-start+step-1)/step)
	for i := start; i < stop; i += step {
		out = append(out, it.values[i])
	}
	return out, nil
}

// normalizeBound resolves a possibly negative slice bound against length n.
func normalizeBound(b, n int) int {
	if b < 0 {
		b += n
		if b < 0 {
			b = 0
		}
	}
	if b > n {
		b = n
	}
	return b
}

// Values drains the source and returns the backing slice. The result is
// shared with the cache and must not be mutated.
func (it *Iterator[T]) Values() ([]T, error) {
	if err := it.materialize(); err != nil {
		return nil, err
	}
	return it.values, nil
}

// Len drains the source and returns the element count.
func (it *Iterator[T]) Len() (int, error) {
	if err := it.materialize(); err != nil {
		return 0, err
	}
	return len(it.values), nil
}

// Empty reports whether the sequence has no elements, pulling at most the
// first element.
func (it *Iterator[T]) Empty() (bool, error) {
	if err := it.fetchUpTo(0); err != nil {
		return false, err
	}
	return len(it.values) == 0, nil
}

// All returns a fresh cursor over the sequence. Cached elements are replayed
// without touching the source; the source is consulted only past the
// high-water mark, so any number of cursors over one Iterator never
// double-consume it. A source error is yielded once and ends the cursor.
func (it *Iterator[T]) All() iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for i := 0; ; i++ {
			if i >= len(it.values) {
				if err := it.fetchUpTo(i); err != nil {
					var zero T
					yield(zero, err)
					return
				}
				if i >= len(it.values) {
					return
				}
			}
			if !yield(it.values[i], nil) {
				return
			}
		}
	}
}

// Consumed returns how many elements have been pulled from the source so far.
func (it *Iterator[T]) Consumed() int { return len(it.values) }

// Complete reports whether the source has been exhausted.
func (it *Iterator[T]) Complete() bool { return it.complete }

func (it *Iterator[T]) String() string {
	return fmt.Sprintf("consumed=%d complete=%t", len(it.values), it.complete)
}
