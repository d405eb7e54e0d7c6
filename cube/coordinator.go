package cube

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"

	"cubefetch/fetch"
	"cubefetch/pkg/geotiff"
	"cubefetch/request"
)

const (
	// DefaultWorkers bounds concurrent remote calls when unset.
	DefaultWorkers = 4

	// DefaultMaxDeepLevel bounds quad-split recursion when unset.
	DefaultMaxDeepLevel = 5
)

// Progress is a completion snapshot. Reporting is a side effect only and
// never affects control flow.
type Progress struct {
	TotalRequests     int
	CompletedRequests int
	FailedRequests    int
	CompletedTiles    int
}

// RequestError ties a failed request to its terminal cause.
type RequestError struct {
	ID  string
	Err error
}

func (e RequestError) Error() string {
	return fmt.Sprintf("request %q: %v", e.ID, e.Err)
}

func (e RequestError) Unwrap() error { return e.Err }

// Fetcher performs one manifest's remote call. Implemented by
// fetch.Executor; tests substitute fakes.
type Fetcher interface {
	Fetch(ctx context.Context, m request.PixelManifest) (*geotiff.Block, error)
}

// Coordinator schedules a request set's downloads over a bounded pool.
// All tile tasks of all requests, top-level and recursive, share the same
// semaphore, so at most `workers` remote calls are ever in flight.
type Coordinator struct {
	fetcher      Fetcher
	writer       RasterWriter
	workers      int
	maxDeepLevel int
	sem          *semaphore.Weighted

	logCallback      func(string)
	progressCallback func(Progress)

	mu       sync.Mutex
	progress Progress
}

// NewCoordinator creates a coordinator. Non-positive workers and negative
// maxDeepLevel select the defaults; maxDeepLevel 0 disables splitting.
func NewCoordinator(fetcher Fetcher, writer RasterWriter, workers, maxDeepLevel int) *Coordinator {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if maxDeepLevel < 0 {
		maxDeepLevel = DefaultMaxDeepLevel
	}
	if writer == nil {
		writer = GeoTIFFWriter{}
	}
	return &Coordinator{
		fetcher:      fetcher,
		writer:       writer,
		workers:      workers,
		maxDeepLevel: maxDeepLevel,
		sem:          semaphore.NewWeighted(int64(workers)),
	}
}

// SetCallbacks registers optional log and progress hooks.
func (c *Coordinator) SetCallbacks(onLog func(string), onProgress func(Progress)) {
	c.logCallback = onLog
	c.progressCallback = onProgress
}

func (c *Coordinator) emitLog(message string) {
	if c.logCallback != nil {
		c.logCallback(message)
	}
}

func (c *Coordinator) emitProgress() {
	if c.progressCallback == nil {
		return
	}
	c.mu.Lock()
	snapshot := c.progress
	c.mu.Unlock()
	c.progressCallback(snapshot)
}

// Run downloads every manifest row of the set into outputPath and returns
// the written file paths plus the per-request errors. Requests are
// independent: one failure never cancels or affects the others. Both
// return slices follow manifest row order.
func (c *Coordinator) Run(ctx context.Context, set *request.Set, outputPath string) ([]string, []RequestError) {
	rows := set.Manifest()

	c.mu.Lock()
	c.progress = Progress{TotalRequests: len(rows)}
	c.mu.Unlock()

	if err := os.MkdirAll(outputPath, 0755); err != nil {
		errs := make([]RequestError, len(rows))
		for i, row := range rows {
			errs[i] = RequestError{ID: row.ID, Err: fmt.Errorf("create output directory: %w", err)}
		}
		return nil, errs
	}

	paths := make([]string, len(rows))
	failures := make([]error, len(rows))

	var wg sync.WaitGroup
	for i := range rows {
		wg.Add(1)
		go func(i int, row request.ManifestRow) {
			defer wg.Done()
			path, err := c.runRequest(ctx, row, outputPath)

			c.mu.Lock()
			if err != nil {
				failures[i] = err
				c.progress.FailedRequests++
			} else {
				paths[i] = path
				c.progress.CompletedRequests++
			}
			c.mu.Unlock()
			c.emitProgress()
		}(i, rows[i])
	}
	wg.Wait()

	var outputs []string
	var errs []RequestError
	for i, row := range rows {
		if failures[i] != nil {
			errs = append(errs, RequestError{ID: row.ID, Err: failures[i]})
			continue
		}
		outputs = append(outputs, paths[i])
	}
	return outputs, errs
}

func (c *Coordinator) runRequest(ctx context.Context, row request.ManifestRow, outputPath string) (string, error) {
	block, err := c.runTile(ctx, row.Manifest, row.ID, 0, 0, 0)
	if err != nil {
		log.Printf("[Coordinator] Request %s failed: %v", row.ID, err)
		c.emitLog(fmt.Sprintf("request %s failed: %v", row.ID, err))
		return "", err
	}

	path := filepath.Join(outputPath, row.Outname)
	if err := c.writer.Write(path, block, row.Manifest.Geotransform()); err != nil {
		log.Printf("[Coordinator] Request %s: write failed: %v", row.ID, err)
		return "", fmt.Errorf("write output: %w", err)
	}

	c.emitLog(fmt.Sprintf("request %s written to %s", row.ID, path))
	return path, nil
}

// runTile executes one tile task: fetch, and on a size rejection split
// into four quadrants that re-enter the same pool at depth+1. Returns the
// tile's assembled pixel block.
func (c *Coordinator) runTile(ctx context.Context, m request.PixelManifest, requestID string, depth, offX, offY int) (*geotiff.Block, error) {
	task := newTileTask(requestID, depth, offX, offY)
	if err := task.transition(TaskFetching); err != nil {
		return nil, err
	}

	// The semaphore is held only for the blocking remote call, so a
	// parent waiting on its children never occupies a pool slot.
	if err := c.sem.Acquire(ctx, 1); err != nil {
		task.transition(TaskFailed)
		return nil, err
	}
	block, err := c.fetcher.Fetch(ctx, m)
	c.sem.Release(1)

	if err == nil {
		if terr := task.transition(TaskDone); terr != nil {
			return nil, terr
		}
		c.tileCompleted()
		return block, nil
	}
	if !fetch.IsPayloadTooLarge(err) {
		task.transition(TaskFailed)
		return nil, err
	}

	w := m.Grid.Dimensions.Width
	h := m.Grid.Dimensions.Height
	if depth >= c.maxDeepLevel || w < 2 || h < 2 {
		task.transition(TaskFailed)
		return nil, &TileTooLargeError{RequestID: requestID, Depth: depth, Width: w, Height: h}
	}

	if err := task.transition(TaskSplit); err != nil {
		return nil, err
	}
	quads := quadSplit(m)

	var (
		wg     sync.WaitGroup
		blocks [4]*geotiff.Block
		errs   [4]error
	)
	for i := range quads {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			blocks[i], errs[i] = c.runTile(ctx, quads[i].manifest,
				requestID, depth+1, offX+quads[i].offX, offY+quads[i].offY)
		}(i)
	}
	// All four children run to completion; on failure the survivors'
	// blocks are simply discarded.
	wg.Wait()

	for i := range errs {
		if errs[i] != nil {
			task.transition(TaskFailed)
			return nil, errs[i]
		}
	}

	parent := geotiff.NewBlock(w, h, len(m.BandIDs))
	for i := range quads {
		if err := parent.Merge(blocks[i], quads[i].offX, quads[i].offY); err != nil {
			task.transition(TaskFailed)
			return nil, fmt.Errorf("assemble quadrant %d: %w", i, err)
		}
	}

	if err := task.transition(TaskDone); err != nil {
		return nil, err
	}
	return parent, nil
}

func (c *Coordinator) tileCompleted() {
	c.mu.Lock()
	c.progress.CompletedTiles++
	c.mu.Unlock()
	c.emitProgress()
}
