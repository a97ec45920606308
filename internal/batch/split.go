// Package batch splits large code lists into bounded chunks, fetches the
// chunks sequentially or on a bounded worker pool, and merges the per-chunk
// tables back into one wide table.
package batch

import (
	"errors"
	"fmt"
)

// DefaultChunkSize is the largest number of codes the API accepts comfortably
// in a single request.
const DefaultChunkSize = 100

// ErrInvalidChunkSize is returned when the chunk size is not positive.
var ErrInvalidChunkSize = errors.New("chunk size must be positive")

// Split partitions codes into contiguous chunks of at most size codes.
// Chunk i is codes[i*size : min((i+1)*size, len(codes))]; the last chunk may be
// shorter. Codes are neither reordered nor deduplicated.
func Split(codes []string, size int) ([][]string, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChunkSize, size)
	}
	chunks := make([][]string, 0, (len(codes)+size-1)/size)
	for i := 0; i < len(codes); i += size {
		end := min(i+size, len(codes))
		chunk := make([]string, end-i)
		copy(chunk, codes[i:end])
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}
