package models

import "time"

// CellStatus represents the test state of a single grid cell.
type CellStatus string

const (
	CellStatusUntested CellStatus = "untested"
	CellStatusOK       CellStatus = "ok"
	CellStatusFaulty   CellStatus = "faulty"
	CellStatusGhost    CellStatus = "ghost"
)

// GridCell represents one cell of the R×C test matrix allocated for a grid
// session. Cells are mutated in place as the user interacts and cleared as a
// whole when the session ends; they are never deleted individually.
type GridCell struct {
	Row           int
	Col           int
	Status        CellStatus
	TouchCount    int // monotonically increasing
	LastTouchedAt *time.Time
}
