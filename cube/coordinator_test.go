package cube

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"cubefetch/fetch"
	"cubefetch/geo"
	"cubefetch/pkg/geotiff"
	"cubefetch/request"
)

// fakeFetcher answers manifests from a supplied function and counts calls.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	respond func(m request.PixelManifest) (*geotiff.Block, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context, m request.PixelManifest) (*geotiff.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.respond(m)
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func payloadErr() error {
	return &fetch.ServiceError{
		Kind:       fetch.ErrPayloadTooLarge,
		StatusCode: 400,
		Message:    "Total request size (134217728 bytes) must be less than or equal to 50331648 bytes.",
	}
}

// positionBlock fills a block so every sample encodes its absolute map
// position, which makes reassembly mistakes visible as wrong values.
func positionBlock(m request.PixelManifest) *geotiff.Block {
	d := m.Grid.Dimensions
	af := m.Grid.AffineTransform
	b := geotiff.NewBlock(d.Width, d.Height, len(m.BandIDs))
	for band := range m.BandIDs {
		for row := 0; row < d.Height; row++ {
			for col := 0; col < d.Width; col++ {
				v := af.TranslateX + float64(col)*af.ScaleX +
					af.TranslateY + float64(row)*af.ScaleY +
					float64(band)
				b.Set(band, row, col, v)
			}
		}
	}
	return b
}

func testSet(t *testing.T, ids []string, edges []int) *request.Set {
	t.Helper()
	reqs := make([]request.Request, len(ids))
	for i := range ids {
		gt, err := geo.BuildGeotransform(-76.5, -9.5, edges[i], 90)
		if err != nil {
			t.Fatalf("build geotransform: %v", err)
		}
		r, err := request.New(ids[i], request.Asset("NASA/NASADEM_HGT/001"), []string{"elevation"}, gt)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		reqs[i] = r
	}
	set, err := request.NewSet(reqs...)
	if err != nil {
		t.Fatalf("new set: %v", err)
	}
	return set
}

func TestRunSingleRequest(t *testing.T) {
	set := testSet(t, []string{"lima"}, []int{32})
	svc := &fakeFetcher{respond: func(m request.PixelManifest) (*geotiff.Block, error) {
		return positionBlock(m), nil
	}}
	dir := t.TempDir()

	coord := NewCoordinator(svc, nil, 2, 5)
	paths, errs := coord.Run(context.Background(), set, dir)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(paths) != 1 || paths[0] != filepath.Join(dir, "lima.tif") {
		t.Fatalf("paths = %v", paths)
	}
	if svc.callCount() != 1 {
		t.Errorf("fetch calls = %d, want 1", svc.callCount())
	}

	data, err := os.ReadFile(paths[0])
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	block, err := geotiff.Decode(data)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if block.Width != 32 || block.Height != 32 || block.Bands != 1 {
		t.Errorf("output shape %dx%dx%d, want 32x32x1", block.Width, block.Height, block.Bands)
	}

	if _, err := os.Stat(paths[0] + ".partial"); !os.IsNotExist(err) {
		t.Error("temp file left behind after commit")
	}
}

func TestRunSplitsAndReassembles(t *testing.T) {
	set := testSet(t, []string{"lima"}, []int{128})
	svc := &fakeFetcher{respond: func(m request.PixelManifest) (*geotiff.Block, error) {
		d := m.Grid.Dimensions
		if d.Width > 64 || d.Height > 64 {
			return nil, payloadErr()
		}
		return positionBlock(m), nil
	}}
	dir := t.TempDir()

	coord := NewCoordinator(svc, nil, 3, 2)
	paths, errs := coord.Run(context.Background(), set, dir)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(paths) != 1 {
		t.Fatalf("paths = %v", paths)
	}
	// One rejected top-level call plus four quadrant fetches.
	if svc.callCount() != 5 {
		t.Errorf("fetch calls = %d, want 5", svc.callCount())
	}

	data, err := os.ReadFile(paths[0])
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	block, err := geotiff.Decode(data)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if block.Width != 128 || block.Height != 128 {
		t.Fatalf("output shape %dx%d, want 128x128", block.Width, block.Height)
	}

	// Every sample must carry the value its absolute position dictates,
	// regardless of which quadrant produced it.
	af := set.Manifest()[0].Manifest.Grid.AffineTransform
	for _, p := range [][2]int{{0, 0}, {0, 127}, {127, 0}, {63, 64}, {64, 63}, {127, 127}} {
		row, col := p[0], p[1]
		want := af.TranslateX + float64(col)*af.ScaleX + af.TranslateY + float64(row)*af.ScaleY
		if got := block.At(0, row, col); math.Abs(got-want) > 1e-6 {
			t.Errorf("sample (%d,%d) = %v, want %v", row, col, got, want)
		}
	}
}

func TestRunDepthBudgetExhausted(t *testing.T) {
	set := testSet(t, []string{"lima"}, []int{16})
	svc := &fakeFetcher{respond: func(m request.PixelManifest) (*geotiff.Block, error) {
		return nil, payloadErr()
	}}
	dir := t.TempDir()

	coord := NewCoordinator(svc, nil, 4, 2)
	paths, errs := coord.Run(context.Background(), set, dir)
	if len(paths) != 0 {
		t.Fatalf("paths = %v, want none", paths)
	}
	if len(errs) != 1 {
		t.Fatalf("errors = %v, want one", errs)
	}

	var tooLarge *TileTooLargeError
	if !errors.As(errs[0], &tooLarge) {
		t.Fatalf("error = %v, want TileTooLargeError", errs[0])
	}
	if tooLarge.Depth != 2 {
		t.Errorf("failure depth = %d, want 2", tooLarge.Depth)
	}
	// Depths 0, 1 and 2: 1 + 4 + 16 attempts before giving up.
	if svc.callCount() != 21 {
		t.Errorf("fetch calls = %d, want 21", svc.callCount())
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("failed request left files: %v", entries)
	}
}

func TestRunUnsplittableGrid(t *testing.T) {
	set := testSet(t, []string{"lima"}, []int{1})
	svc := &fakeFetcher{respond: func(m request.PixelManifest) (*geotiff.Block, error) {
		return nil, payloadErr()
	}}

	coord := NewCoordinator(svc, nil, 1, 5)
	_, errs := coord.Run(context.Background(), set, t.TempDir())
	if len(errs) != 1 {
		t.Fatalf("errors = %v, want one", errs)
	}

	var tooLarge *TileTooLargeError
	if !errors.As(errs[0], &tooLarge) {
		t.Fatalf("error = %v, want TileTooLargeError", errs[0])
	}
	if tooLarge.Width != 1 || tooLarge.Height != 1 {
		t.Errorf("failure grid %dx%d, want 1x1", tooLarge.Width, tooLarge.Height)
	}
	if svc.callCount() != 1 {
		t.Errorf("fetch calls = %d, want 1", svc.callCount())
	}
}

func TestRunRequestIsolation(t *testing.T) {
	set := testSet(t, []string{"small", "big"}, []int{32, 64})
	svc := &fakeFetcher{respond: func(m request.PixelManifest) (*geotiff.Block, error) {
		if m.Grid.Dimensions.Width == 64 {
			return nil, &fetch.ServiceError{Kind: fetch.ErrFatal, StatusCode: 403, Message: "permission denied"}
		}
		return positionBlock(m), nil
	}}
	dir := t.TempDir()

	coord := NewCoordinator(svc, nil, 2, 5)
	paths, errs := coord.Run(context.Background(), set, dir)

	if len(paths) != 1 || !strings.HasSuffix(paths[0], "small.tif") {
		t.Fatalf("paths = %v, want only small.tif", paths)
	}
	if len(errs) != 1 || errs[0].ID != "big" {
		t.Fatalf("errors = %v, want one for \"big\"", errs)
	}
	if !errors.Is(errs[0], fetch.ErrFatal) {
		t.Errorf("error %v does not unwrap to the fatal kind", errs[0])
	}
	if _, err := os.Stat(filepath.Join(dir, "big.tif")); !os.IsNotExist(err) {
		t.Error("failed request produced an output file")
	}
}

func TestRunReportsProgressAndLogs(t *testing.T) {
	set := testSet(t, []string{"lima"}, []int{32})
	svc := &fakeFetcher{respond: func(m request.PixelManifest) (*geotiff.Block, error) {
		return positionBlock(m), nil
	}}

	var (
		mu        sync.Mutex
		snapshots []Progress
		logs      []string
	)
	coord := NewCoordinator(svc, nil, 1, 5)
	coord.SetCallbacks(
		func(line string) {
			mu.Lock()
			logs = append(logs, line)
			mu.Unlock()
		},
		func(p Progress) {
			mu.Lock()
			snapshots = append(snapshots, p)
			mu.Unlock()
		},
	)

	if _, errs := coord.Run(context.Background(), set, t.TempDir()); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(snapshots) == 0 {
		t.Fatal("no progress reported")
	}
	last := snapshots[len(snapshots)-1]
	if last.TotalRequests != 1 || last.CompletedRequests != 1 || last.CompletedTiles != 1 {
		t.Errorf("final progress = %+v", last)
	}
	found := false
	for _, line := range logs {
		if strings.Contains(line, "lima") && strings.Contains(line, "written to") {
			found = true
		}
	}
	if !found {
		t.Errorf("no completion log line, got %v", logs)
	}
}

func TestRunCancelledContext(t *testing.T) {
	set := testSet(t, []string{"lima"}, []int{32})
	svc := &fakeFetcher{respond: func(m request.PixelManifest) (*geotiff.Block, error) {
		return positionBlock(m), nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	coord := NewCoordinator(svc, nil, 1, 5)
	paths, errs := coord.Run(ctx, set, t.TempDir())
	if len(paths) != 0 {
		t.Fatalf("paths = %v, want none", paths)
	}
	if len(errs) != 1 || !errors.Is(errs[0], context.Canceled) {
		t.Fatalf("errors = %v, want context.Canceled", errs)
	}
}

type failingWriter struct{}

func (failingWriter) Write(string, *geotiff.Block, geo.Geotransform) error {
	return errors.New("disk full")
}

func TestRunSurfacesWriteErrors(t *testing.T) {
	set := testSet(t, []string{"lima"}, []int{32})
	svc := &fakeFetcher{respond: func(m request.PixelManifest) (*geotiff.Block, error) {
		return positionBlock(m), nil
	}}

	coord := NewCoordinator(svc, failingWriter{}, 1, 5)
	paths, errs := coord.Run(context.Background(), set, t.TempDir())
	if len(paths) != 0 {
		t.Fatalf("paths = %v, want none", paths)
	}
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "disk full") {
		t.Fatalf("errors = %v, want the write failure", errs)
	}
}

func TestGeoTIFFWriterRejectsBadCRS(t *testing.T) {
	block := geotiff.NewBlock(2, 2, 1)
	gt := geo.Geotransform{
		ScaleX: 90, ScaleY: -90,
		TranslateX: 500000, TranslateY: 8700000,
		CRS: "not-a-crs", Width: 2, Height: 2,
	}
	path := filepath.Join(t.TempDir(), "out.tif")
	if err := (GeoTIFFWriter{}).Write(path, block, gt); err == nil {
		t.Fatal("expected a CRS error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("failed write left a file")
	}
}
