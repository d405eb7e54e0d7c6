package cube

import (
	"testing"

	"cubefetch/request"
)

func gridManifest(w, h int) request.PixelManifest {
	return request.PixelManifest{
		FileFormat: request.FileFormatGeoTIFF,
		BandIDs:    []string{"elevation"},
		Grid: request.Grid{
			Dimensions: request.Dimensions{Width: w, Height: h},
			AffineTransform: request.Affine{
				ScaleX:     90,
				ScaleY:     -90,
				TranslateX: 500000,
				TranslateY: 8700000,
			},
			CRSCode: "EPSG:32718",
		},
	}
}

func TestQuadSplitExactTiling(t *testing.T) {
	cases := []struct {
		w, h int
		want [4][4]int // offX, offY, width, height in TL/TR/BL/BR order
	}{
		{128, 128, [4][4]int{{0, 0, 64, 64}, {64, 0, 64, 64}, {0, 64, 64, 64}, {64, 64, 64, 64}}},
		{7, 5, [4][4]int{{0, 0, 3, 2}, {3, 0, 4, 2}, {0, 2, 3, 3}, {3, 2, 4, 3}}},
		{2, 3, [4][4]int{{0, 0, 1, 1}, {1, 0, 1, 1}, {0, 1, 1, 2}, {1, 1, 1, 2}}},
		{3, 2, [4][4]int{{0, 0, 1, 1}, {1, 0, 2, 1}, {0, 1, 1, 1}, {1, 1, 2, 1}}},
	}

	for _, tc := range cases {
		quads := quadSplit(gridManifest(tc.w, tc.h))
		area := 0
		for i, q := range quads {
			got := [4]int{q.offX, q.offY, q.manifest.Grid.Dimensions.Width, q.manifest.Grid.Dimensions.Height}
			if got != tc.want[i] {
				t.Errorf("%dx%d quadrant %d: got %v, want %v", tc.w, tc.h, i, got, tc.want[i])
			}
			area += got[2] * got[3]
		}
		if area != tc.w*tc.h {
			t.Errorf("%dx%d: quadrants cover %d pixels, want %d", tc.w, tc.h, area, tc.w*tc.h)
		}
	}
}

func TestQuadSplitShiftsOrigins(t *testing.T) {
	quads := quadSplit(gridManifest(128, 128))

	tr := quads[1].manifest.Grid.AffineTransform
	if tr.TranslateX != 500000+64*90 {
		t.Errorf("top-right translateX = %v, want %v", tr.TranslateX, 500000+64*90)
	}
	if tr.TranslateY != 8700000 {
		t.Errorf("top-right translateY = %v, want %v", tr.TranslateY, 8700000)
	}

	bl := quads[2].manifest.Grid.AffineTransform
	if bl.TranslateX != 500000 {
		t.Errorf("bottom-left translateX = %v, want %v", bl.TranslateX, 500000)
	}
	if bl.TranslateY != 8700000-64*90 {
		t.Errorf("bottom-left translateY = %v, want %v", bl.TranslateY, float64(8700000-64*90))
	}

	// Scale, bands and CRS carry over unchanged.
	if bl.ScaleX != 90 || bl.ScaleY != -90 {
		t.Errorf("scale changed: %v, %v", bl.ScaleX, bl.ScaleY)
	}
	if quads[3].manifest.Grid.CRSCode != "EPSG:32718" {
		t.Errorf("CRS changed: %s", quads[3].manifest.Grid.CRSCode)
	}
}

func TestQuadSplitWithShear(t *testing.T) {
	m := gridManifest(10, 10)
	m.Grid.AffineTransform.ShearX = 2
	m.Grid.AffineTransform.ShearY = 3

	quads := quadSplit(m)
	br := quads[3].manifest.Grid.AffineTransform
	wantX := 500000 + 5*90.0 + 5*2.0
	wantY := 8700000 + 5*3.0 + 5*(-90.0)
	if br.TranslateX != wantX {
		t.Errorf("sheared bottom-right translateX = %v, want %v", br.TranslateX, wantX)
	}
	if br.TranslateY != wantY {
		t.Errorf("sheared bottom-right translateY = %v, want %v", br.TranslateY, wantY)
	}
}

func TestTaskTransitions(t *testing.T) {
	task := newTileTask("req-a", 0, 0, 0)
	if task.status != TaskPending {
		t.Fatalf("new task status = %s, want %s", task.status, TaskPending)
	}

	if err := task.transition(TaskDone); err == nil {
		t.Error("pending -> done should be rejected")
	}
	if err := task.transition(TaskFetching); err != nil {
		t.Fatalf("pending -> fetching: %v", err)
	}
	if err := task.transition(TaskSplit); err != nil {
		t.Fatalf("fetching -> split: %v", err)
	}
	if err := task.transition(TaskFetching); err == nil {
		t.Error("split -> fetching should be rejected")
	}
	if err := task.transition(TaskDone); err != nil {
		t.Fatalf("split -> done: %v", err)
	}
	if err := task.transition(TaskFailed); err == nil {
		t.Error("done is terminal, done -> failed should be rejected")
	}
}
