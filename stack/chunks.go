package stack

import "fmt"

// Chunk is a contiguous range of z indices [Begin, End) read with a single request.
type Chunk struct {
	Index int
	Begin int
	End   int
}

func (c Chunk) String() string {
	return fmt.Sprintf("chunk %d [%d,%d)", c.Index, c.Begin, c.End)
}

// Len returns the number of slices in the chunk.
func (c Chunk) Len() int {
	return c.End - c.Begin
}

// Partition splits [0, z) into ceil(z/chunkSize) chunks.  Only the final chunk may be
// shorter than chunkSize.
func Partition(z, chunkSize int) ([]Chunk, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if z < 0 {
		return nil, fmt.Errorf("bad z extent %d", z)
	}
	numChunks := (z + chunkSize - 1) / chunkSize
	chunks := make([]Chunk, numChunks)
	for i := range chunks {
		chunks[i] = Chunk{
			Index: i,
			Begin: i * chunkSize,
			End:   min((i+1)*chunkSize, z),
		}
	}
	return chunks, nil
}
