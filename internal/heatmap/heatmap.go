// Package heatmap bins touch points into a spatial density grid.
package heatmap

import (
	"fmt"
	"math"

	"tsdiag/internal/models"
)

// Options describes the container being binned. CellSize is the edge length
// of each square bin, in the same units as Width/Height.
type Options struct {
	Width    float64
	Height   float64
	CellSize float64
}

// Cell is one non-empty bin. X/Y are the bin's top-left corner in container
// coordinates; Intensity is the count normalized against the densest bin.
type Cell struct {
	X         float64
	Y         float64
	Row       int
	Col       int
	Count     int
	Intensity float64
}

// Result is the sparse aggregation output: bins with zero count are omitted,
// so len(Cells) ≤ Rows×Cols and scales with touch spread, not grid area.
// Cells are in row-major order.
type Result struct {
	Rows     int
	Cols     int
	CellSize float64
	MaxCount int // densest bin count, floored at 1 so intensity math never divides by zero
	Cells    []Cell
}

// Build aggregates points into bins. Points outside the container are
// discarded; they never fail the aggregation. Zero points yield an empty
// cell list.
func Build(points []models.TouchPoint, opts Options) (*Result, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid container dimensions %gx%g", opts.Width, opts.Height)
	}
	if opts.CellSize <= 0 {
		return nil, fmt.Errorf("invalid cell size %g", opts.CellSize)
	}

	cols := int(math.Ceil(opts.Width / opts.CellSize))
	rows := int(math.Ceil(opts.Height / opts.CellSize))

	counts := make(map[int]int)
	for _, p := range points {
		col := int(math.Floor(p.X / opts.Width * float64(cols)))
		row := int(math.Floor(p.Y / opts.Height * float64(rows)))
		if row < 0 || row >= rows || col < 0 || col >= cols {
			continue
		}
		counts[row*cols+col]++
	}

	maxCount := 1
	for _, n := range counts {
		if n > maxCount {
			maxCount = n
		}
	}

	res := &Result{
		Rows:     rows,
		Cols:     cols,
		CellSize: opts.CellSize,
		MaxCount: maxCount,
		Cells:    make([]Cell, 0, len(counts)),
	}
	for idx := 0; idx < rows*cols; idx++ {
		n, ok := counts[idx]
		if !ok {
			continue
		}
		row := idx / cols
		col := idx % cols
		res.Cells = append(res.Cells, Cell{
			X:         float64(col) * opts.CellSize,
			Y:         float64(row) * opts.CellSize,
			Row:       row,
			Col:       col,
			Count:     n,
			Intensity: float64(n) / float64(maxCount),
		})
	}
	return res, nil
}

// Ramp color endpoints: intensity 0 maps to a cool blue, 1 to a hot red.
var (
	coolRGB = [3]float64{0, 64, 255}
	hotRGB  = [3]float64{255, 32, 0}
)

// Ramp maps a normalized intensity to an RGB color on the linear cool-to-hot
// ramp. Inputs are clamped to [0,1].
func Ramp(intensity float64) (r, g, b uint8) {
	t := intensity
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	r = uint8(math.Round(coolRGB[0] + t*(hotRGB[0]-coolRGB[0])))
	g = uint8(math.Round(coolRGB[1] + t*(hotRGB[1]-coolRGB[1])))
	b = uint8(math.Round(coolRGB[2] + t*(hotRGB[2]-coolRGB[2])))
	return r, g, b
}
