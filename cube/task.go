// Package cube is the download core: it fans a request set out over a
// bounded worker pool, quad-splits any grid the service refuses for size,
// and reassembles sub-tile results into one raster file per request.
package cube

import (
	"fmt"

	"github.com/google/uuid"
)

// TaskStatus tracks one tile task through its lifecycle.
type TaskStatus string

const (
	TaskPending  TaskStatus = "pending"
	TaskFetching TaskStatus = "fetching"
	TaskSplit    TaskStatus = "split"
	TaskDone     TaskStatus = "done"
	TaskFailed   TaskStatus = "failed"
)

// tileTask is one unit of fetch work: either a whole request's grid or a
// quadrant of a split ancestor. Owned exclusively by the coordinator call
// that spawned it.
type tileTask struct {
	id        string
	requestID string
	depth     int
	offX      int // pixel offset within the top-level grid
	offY      int
	status    TaskStatus
}

func newTileTask(requestID string, depth, offX, offY int) *tileTask {
	return &tileTask{
		id:        uuid.NewString(),
		requestID: requestID,
		depth:     depth,
		offX:      offX,
		offY:      offY,
		status:    TaskPending,
	}
}

// transition enforces the task lifecycle:
// pending -> fetching -> {done | split | failed}, split -> {done | failed}.
// An invalid transition is a coordinator bug, not a runtime condition.
func (t *tileTask) transition(to TaskStatus) error {
	if !allowedTransition(t.status, to) {
		return fmt.Errorf("task %s (request %s): invalid transition %s -> %s",
			t.id, t.requestID, t.status, to)
	}
	t.status = to
	return nil
}

func allowedTransition(from, to TaskStatus) bool {
	switch from {
	case TaskPending:
		return to == TaskFetching
	case TaskFetching:
		return to == TaskDone || to == TaskSplit || to == TaskFailed
	case TaskSplit:
		return to == TaskDone || to == TaskFailed
	default:
		return false
	}
}

// TileTooLargeError marks a tile the service kept refusing for size after
// the recursion budget was spent (or the grid became unsplittable).
type TileTooLargeError struct {
	RequestID string
	Depth     int
	Width     int
	Height    int
}

func (e *TileTooLargeError) Error() string {
	return fmt.Sprintf("request %q: %dx%d tile still exceeds the payload limit at depth %d",
		e.RequestID, e.Width, e.Height, e.Depth)
}
