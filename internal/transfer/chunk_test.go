package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanChunks_CoversExactly(t *testing.T) {
	tests := []struct {
		name      string
		start     int64
		size      int64
		chunkSize int64
		wantLens  []int64
	}{
		{"empty", 0, 0, 4, nil},
		{"single short", 0, 3, 4, []int64{3}},
		{"exact fit", 0, 8, 4, []int64{4, 4}},
		{"trailing short", 0, 10, 4, []int64{4, 4, 2}},
		{"resume mid chunk", 6, 10, 4, []int64{4}},
		{"resume unaligned", 5, 12, 4, []int64{4, 3}},
		{"resume at end", 10, 10, 4, nil},
		{"resume past end", 12, 10, 4, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := planChunks(tt.start, tt.size, tt.chunkSize)
			require.Len(t, chunks, len(tt.wantLens))

			off := tt.start
			for i, c := range chunks {
				assert.Equal(t, i, c.Index)
				assert.Equal(t, off, c.Off, "chunk %d must start where the previous ended", i)
				assert.Equal(t, tt.wantLens[i], c.Len)
				off = c.End()
			}

			if len(chunks) > 0 {
				assert.Equal(t, tt.size, chunks[len(chunks)-1].End(), "chunks must cover up to size")
			}
		})
	}
}

func TestPartSizeFor_RespectsPartCap(t *testing.T) {
	// Small files use the default part size.
	assert.Equal(t, int64(defaultPartSize), partSizeFor(1))
	assert.Equal(t, int64(defaultPartSize), partSizeFor(defaultPartSize*maxParts))

	// One byte over the cap doubles the part size.
	over := int64(defaultPartSize)*maxParts + 1
	assert.Equal(t, int64(defaultPartSize)*2, partSizeFor(over))

	// The invariant holds for absurd sizes too.
	huge := int64(1) << 62
	ps := partSizeFor(huge)
	assert.LessOrEqual(t, partCountFor(huge, ps), maxParts)
}

func TestPartCountFor(t *testing.T) {
	assert.Equal(t, 1, partCountFor(0, defaultPartSize), "empty files still occupy one part")
	assert.Equal(t, 1, partCountFor(1, defaultPartSize))
	assert.Equal(t, 1, partCountFor(defaultPartSize, defaultPartSize))
	assert.Equal(t, 2, partCountFor(defaultPartSize+1, defaultPartSize))
}
