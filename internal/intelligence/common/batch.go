package common

import (
	"math/rand/v2"

	"github.com/turtacn/gnn-opf/pkg/errors"
)

// Batches partitions the indices [0, n) into consecutive mini-batches of at
// most size elements.  With a non-nil rng the indices are shuffled first,
// which is how every epoch draws a fresh batch order.  The last batch may be
// short.
func Batches(n, size int, rng *rand.Rand) ([][]int, error) {
	if n < 0 {
		return nil, errors.Newf(errors.CodeInvalidParam, "sample count must be non-negative, got %d", n)
	}
	if size < 1 {
		return nil, errors.Newf(errors.CodeInvalidParam, "batch size must be at least 1, got %d", size)
	}
	var order []int
	if rng != nil {
		order = rng.Perm(n)
	} else {
		order = make([]int, n)
		for i := range order {
			order[i] = i
		}
	}
	out := make([][]int, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		out = append(out, order[start:end])
	}
	return out, nil
}
