package orchestrator

import "fmt"

// Scatter splits items into n contiguous blocks preserving order. Blocks
// differ in size by at most one; the first len(items)%n blocks carry the
// extra item, so 10 items over 3 blocks gives sizes 4, 3, 3. When n exceeds
// len(items) the trailing blocks are empty.
func Scatter[T any](items []T, n int) ([][]T, error) {
	if n < 1 {
		return nil, fmt.Errorf("scatter into %d blocks: need at least one", n)
	}
	blocks := make([][]T, n)
	size, extra := len(items)/n, len(items)%n
	start := 0
	for i := range blocks {
		end := start + size
		if i < extra {
			end++
		}
		blocks[i] = items[start:end:end]
		start = end
	}
	return blocks, nil
}
