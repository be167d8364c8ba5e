package transfer

// Chunk is one contiguous piece of a download.
type Chunk struct {
	Index int
	Off   int64
	Len   int64
}

// End returns the exclusive end offset of the chunk.
func (c Chunk) End() int64 {
	return c.Off + c.Len
}

// planChunks splits [start, size) into fixed-size chunks. Every byte is
// covered exactly once; only the final chunk may be shorter. A start at
// or past size yields no chunks.
func planChunks(start, size, chunkSize int64) []Chunk {
	if start >= size || chunkSize < 1 {
		return nil
	}

	n := (size - start + chunkSize - 1) / chunkSize
	chunks := make([]Chunk, 0, n)

	for off := start; off < size; off += chunkSize {
		length := chunkSize
		if off+length > size {
			length = size - off
		}

		chunks = append(chunks, Chunk{Index: len(chunks), Off: off, Len: length})
	}

	return chunks
}

// Upload part sizing. The remote caps sessions at 10000 parts, so the
// part size doubles from the default until the file fits.
const (
	defaultPartSize = 80 << 20 // 80 MiB
	maxParts        = 10000
)

// partSizeFor returns the part size for a file of the given length.
func partSizeFor(size int64) int64 {
	partSize := int64(defaultPartSize)
	for size > partSize*maxParts {
		partSize *= 2
	}

	return partSize
}

// partCountFor returns how many parts a file of the given length needs.
// Zero-byte files still occupy one part.
func partCountFor(size, partSize int64) int {
	if size <= 0 {
		return 1
	}

	return int((size + partSize - 1) / partSize)
}
