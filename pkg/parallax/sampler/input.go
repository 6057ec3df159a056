package sampler

import (
	"iter"
	"sync/atomic"
)

// Input is a sequence of items to optimize over. It wraps either an
// in-memory slice, which can be read any number of times, or a lazy
// sequence, which can be consumed once.
type Input[T any] struct {
	items   []T
	isSlice bool
	seq     iter.Seq[T]
	length  int
	release func()
}

// FromSlice wraps items. Sampling reads the slice in place and the
// reconstructed input is the same slice.
func FromSlice[T any](items []T) *Input[T] {
	return &Input[T]{items: items, isSlice: true, length: len(items)}
}

// FromSeq wraps a lazy sequence of unknown length.
func FromSeq[T any](seq iter.Seq[T]) *Input[T] {
	return &Input[T]{seq: seq, length: -1}
}

// FromSeqN wraps a lazy sequence whose length is known to be n.
func FromSeqN[T any](seq iter.Seq[T], n int) *Input[T] {
	if n < 0 {
		n = -1
	}
	return &Input[T]{seq: seq, length: n}
}

// FromChan wraps a channel. The sequence ends when ch is closed.
func FromChan[T any](ch <-chan T) *Input[T] {
	return FromSeq(func(yield func(T) bool) {
		for v := range ch {
			if !yield(v) {
				return
			}
		}
	})
}

// Len returns the number of items, or -1 when unknown.
func (in *Input[T]) Len() int {
	return in.length
}

// Slice returns the underlying slice when the input is slice-backed.
func (in *Input[T]) Slice() ([]T, bool) {
	return in.items, in.isSlice
}

// All returns the items in order.
func (in *Input[T]) All() iter.Seq[T] {
	if in.isSlice {
		return func(yield func(T) bool) {
			for _, v := range in.items {
				if !yield(v) {
					return
				}
			}
		}
	}
	return in.seq
}

// Collect drains the input into a slice.
func (in *Input[T]) Collect() []T {
	if in.isSlice {
		return in.items
	}
	out := make([]T, 0, max(in.length, 0))
	for v := range in.seq {
		out = append(out, v)
	}
	return out
}

// Close releases a suspended read position held by a reconstructed
// input that will not be consumed. It is safe to call more than once and
// after the input has been fully consumed.
func (in *Input[T]) Close() {
	if in.release != nil {
		in.release()
	}
}

// cursor reads an input item by item and, once sampling is done,
// rebuilds an input that yields the consumed prefix followed by
// everything not yet read.
type cursor[T any] struct {
	next   func() (T, bool)
	finish func(prefix []T, exhausted bool) *Input[T]
}

func (in *Input[T]) cursor() cursor[T] {
	if in.isSlice {
		i := 0
		return cursor[T]{
			next: func() (T, bool) {
				if i >= len(in.items) {
					var zero T
					return zero, false
				}
				v := in.items[i]
				i++
				return v, true
			},
			finish: func([]T, bool) *Input[T] { return in },
		}
	}

	next, stop := iter.Pull(in.seq)
	return cursor[T]{
		next: next,
		finish: func(prefix []T, exhausted bool) *Input[T] {
			if exhausted {
				stop()
				return FromSlice(prefix)
			}
			return &Input[T]{
				seq:     splice(prefix, next, stop),
				length:  in.length,
				release: stop,
			}
		},
	}
}

// splice yields prefix and then continues pulling from next. The result
// can be ranged over once; later ranges yield nothing. stop is called when
// iteration ends for any reason.
func splice[T any](prefix []T, next func() (T, bool), stop func()) iter.Seq[T] {
	var used atomic.Bool
	return func(yield func(T) bool) {
		if used.Swap(true) {
			return
		}
		defer stop()

		for _, v := range prefix {
			if !yield(v) {
				return
			}
		}
		for {
			v, ok := next()
			if !ok || !yield(v) {
				return
			}
		}
	}
}
