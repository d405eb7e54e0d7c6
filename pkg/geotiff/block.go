package geotiff

import "fmt"

// Block is an in-memory multiband raster. Samples are stored band-planar:
// all of band 0 row by row, then band 1, and so on. This matches the
// separate-plane layout the encoder writes, so assembled blocks can be
// streamed out without reshuffling.
type Block struct {
	Width  int
	Height int
	Bands  int

	Samples []float64
}

// NewBlock allocates a zero-filled block.
func NewBlock(width, height, bands int) *Block {
	return &Block{
		Width:   width,
		Height:  height,
		Bands:   bands,
		Samples: make([]float64, width*height*bands),
	}
}

// At returns the sample for (band, row, col).
func (b *Block) At(band, row, col int) float64 {
	return b.Samples[band*b.Width*b.Height+row*b.Width+col]
}

// Set stores the sample for (band, row, col).
func (b *Block) Set(band, row, col int, v float64) {
	b.Samples[band*b.Width*b.Height+row*b.Width+col] = v
}

// Merge copies child into b with its top-left corner at (xOff, yOff).
// Band counts must match and the child must fit entirely inside b.
func (b *Block) Merge(child *Block, xOff, yOff int) error {
	if child.Bands != b.Bands {
		return fmt.Errorf("band count mismatch: parent has %d, child has %d", b.Bands, child.Bands)
	}
	if xOff < 0 || yOff < 0 || xOff+child.Width > b.Width || yOff+child.Height > b.Height {
		return fmt.Errorf("child %dx%d at (%d,%d) exceeds parent %dx%d",
			child.Width, child.Height, xOff, yOff, b.Width, b.Height)
	}

	for band := 0; band < b.Bands; band++ {
		for row := 0; row < child.Height; row++ {
			src := child.Samples[band*child.Width*child.Height+row*child.Width:]
			dst := b.Samples[band*b.Width*b.Height+(yOff+row)*b.Width+xOff:]
			copy(dst[:child.Width], src[:child.Width])
		}
	}
	return nil
}
