package cube

import "cubefetch/request"

// quadrant is one quarter of a split grid, with its pixel offset inside
// the parent for reassembly.
type quadrant struct {
	manifest request.PixelManifest
	offX     int
	offY     int
}

// quadSplit partitions a manifest's grid into four quadrants: top-left,
// top-right, bottom-left, bottom-right. The split is at the midpoints; for
// odd dimensions the extra pixel goes to the second half, so the four
// extents always tile the parent exactly. Requires width, height >= 2.
func quadSplit(m request.PixelManifest) [4]quadrant {
	w := m.Grid.Dimensions.Width
	h := m.Grid.Dimensions.Height
	leftW := w / 2
	topH := h / 2

	cells := [4]struct{ offX, offY, w, h int }{
		{0, 0, leftW, topH},                // top-left
		{leftW, 0, w - leftW, topH},        // top-right
		{0, topH, leftW, h - topH},         // bottom-left
		{leftW, topH, w - leftW, h - topH}, // bottom-right
	}

	af := m.Grid.AffineTransform
	var quads [4]quadrant
	for i, cell := range cells {
		child := m
		child.Grid.Dimensions.Width = cell.w
		child.Grid.Dimensions.Height = cell.h
		child.Grid.AffineTransform.TranslateX = af.TranslateX +
			float64(cell.offX)*af.ScaleX + float64(cell.offY)*af.ShearX
		child.Grid.AffineTransform.TranslateY = af.TranslateY +
			float64(cell.offX)*af.ShearY + float64(cell.offY)*af.ScaleY
		quads[i] = quadrant{manifest: child, offX: cell.offX, offY: cell.offY}
	}
	return quads
}
