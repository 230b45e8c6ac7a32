// Package grid holds the cell matrix rules for grid-type diagnostic runs.
package grid

import (
	"math"

	"tsdiag/internal/models"
)

// NewCells allocates the full untested R×C matrix for a grid session, in
// row-major order.
func NewCells(rows, cols int) []models.GridCell {
	cells := make([]models.GridCell, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			cells = append(cells, models.GridCell{
				Row:    r,
				Col:    c,
				Status: models.CellStatusUntested,
			})
		}
	}
	return cells
}

// NextStatus returns the status a cell moves to when it registers a tap.
// The first tap on an untested cell is assumed genuine; a second registration
// on an already-confirmed cell signals a misfire. Ghost is never produced
// here: it is set only by the monitor flow's classification, and both
// terminal defect states are sticky.
func NextStatus(cur models.CellStatus) models.CellStatus {
	switch cur {
	case models.CellStatusUntested:
		return models.CellStatusOK
	case models.CellStatusOK:
		return models.CellStatusFaulty
	default:
		return cur
	}
}

// CellForPoint maps a viewport coordinate to its cell position. ok is false
// for points outside the viewport or when the dimensions are degenerate.
func CellForPoint(x, y, w, h float64, rows, cols int) (row, col int, ok bool) {
	if w <= 0 || h <= 0 || rows <= 0 || cols <= 0 {
		return 0, 0, false
	}
	if x < 0 || y < 0 || x >= w || y >= h {
		return 0, 0, false
	}
	row = int(math.Floor(y / h * float64(rows)))
	col = int(math.Floor(x / w * float64(cols)))
	if row < 0 || row >= rows || col < 0 || col >= cols {
		return 0, 0, false
	}
	return row, col, true
}

// Summary counts cells per status.
func Summary(cells []models.GridCell) map[models.CellStatus]int {
	out := make(map[models.CellStatus]int, 4)
	for _, c := range cells {
		out[c.Status]++
	}
	return out
}
