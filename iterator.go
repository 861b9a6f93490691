package secops

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

// ErrEmptyIterator is returned by First when the iterator yields no items.
var ErrEmptyIterator = errors.New("secops: iterator is empty")

// pageFetcher fetches the page identified by token ("" for the first page)
// and returns its items and the next page token ("" when done).
type pageFetcher[T any] func(ctx context.Context, token string) ([]T, string, error)

// paginate turns a token-paginated list endpoint into a lazy iterator.
// Pages are fetched as the caller iterates. A repeated page token ends the
// iteration with an error instead of looping forever.
func paginate[T any](ctx context.Context, fetch pageFetcher[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		token := ""
		seen := make(map[string]struct{})

		for {
			items, next, err := fetch(ctx, token)
			if err != nil {
				yield(zero, err)
				return
			}

			for _, item := range items {
				if err := ctx.Err(); err != nil {
					yield(zero, err)
					return
				}
				if !yield(item, nil) {
					return
				}
			}

			if next == "" {
				return
			}
			if _, dup := seen[next]; dup {
				yield(zero, fmt.Errorf("secops: page token %q repeated", next))
				return
			}
			seen[next] = struct{}{}
			token = next
		}
	}
}

// Collect gathers all items from an iterator into a slice.
// It stops on the first error and returns all items collected so far along with the error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	result := make([]T, 0)
	for item, err := range seq {
		if err != nil {
			return result, err
		}
		result = append(result, item)
	}
	return result, nil
}

// CollectN gathers up to n items from an iterator.
func CollectN[T any](seq iter.Seq2[T, error], n int) ([]T, error) {
	result := make([]T, 0, max(n, 0))
	if n <= 0 {
		return result, nil
	}
	for item, err := range seq {
		if err != nil {
			return result, err
		}
		result = append(result, item)
		if len(result) >= n {
			break
		}
	}
	return result, nil
}

// First returns the first item from an iterator, or an error if the iterator is empty or fails.
func First[T any](seq iter.Seq2[T, error]) (T, error) {
	for item, err := range seq {
		return item, err
	}
	var zero T
	return zero, ErrEmptyIterator
}

// Filter returns an iterator that yields only items matching the predicate.
// Errors are passed through and end the iteration.
func Filter[T any](seq iter.Seq2[T, error], pred func(T) bool) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for item, err := range seq {
			if err != nil {
				yield(item, err)
				return
			}
			if pred(item) {
				if !yield(item, nil) {
					return
				}
			}
		}
	}
}

// Take returns an iterator that stops after n items.
func Take[T any](seq iter.Seq2[T, error], n int) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		if n <= 0 {
			return
		}
		taken := 0
		for item, err := range seq {
			if !yield(item, err) || err != nil {
				return
			}
			if taken++; taken >= n {
				return
			}
		}
	}
}

// Map converts each item with fn. An error from the source or from fn ends
// the iteration.
func Map[T, U any](seq iter.Seq2[T, error], fn func(T) (U, error)) iter.Seq2[U, error] {
	return func(yield func(U, error) bool) {
		var zero U
		for item, err := range seq {
			if err != nil {
				yield(zero, err)
				return
			}
			out, err := fn(item)
			if err != nil {
				yield(zero, err)
				return
			}
			if !yield(out, nil) {
				return
			}
		}
	}
}
