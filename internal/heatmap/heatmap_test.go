package heatmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsdiag/internal/models"
)

func pt(x, y float64) models.TouchPoint {
	return models.TouchPoint{X: x, Y: y}
}

func TestBuild_SinglePoint(t *testing.T) {
	res, err := Build([]models.TouchPoint{pt(500, 500)}, Options{Width: 1000, Height: 1000, CellSize: 100})
	require.NoError(t, err)

	assert.Equal(t, 10, res.Rows)
	assert.Equal(t, 10, res.Cols)
	require.Len(t, res.Cells, 1)

	c := res.Cells[0]
	assert.Equal(t, 5, c.Row)
	assert.Equal(t, 5, c.Col)
	assert.Equal(t, 500.0, c.X)
	assert.Equal(t, 500.0, c.Y)
	assert.Equal(t, 1, c.Count)
	assert.Equal(t, 1.0, c.Intensity)
}

func TestBuild_NoPoints(t *testing.T) {
	res, err := Build(nil, Options{Width: 1000, Height: 2000, CellSize: 100})
	require.NoError(t, err)
	assert.Empty(t, res.Cells)
	assert.Equal(t, 1, res.MaxCount)
}

func TestBuild_NormalizesAgainstDensestBin(t *testing.T) {
	points := []models.TouchPoint{
		pt(50, 50), pt(60, 60), pt(70, 70), pt(80, 80), // four in bin (0,0)
		pt(550, 550), pt(560, 560), // two in bin (5,5)
		pt(950, 50), // one in bin (0,9)
	}
	res, err := Build(points, Options{Width: 1000, Height: 1000, CellSize: 100})
	require.NoError(t, err)

	assert.Equal(t, 4, res.MaxCount)
	require.Len(t, res.Cells, 3)

	// Row-major sparse order.
	assert.Equal(t, [2]int{0, 0}, [2]int{res.Cells[0].Row, res.Cells[0].Col})
	assert.Equal(t, [2]int{0, 9}, [2]int{res.Cells[1].Row, res.Cells[1].Col})
	assert.Equal(t, [2]int{5, 5}, [2]int{res.Cells[2].Row, res.Cells[2].Col})

	assert.Equal(t, 1.0, res.Cells[0].Intensity)
	assert.Equal(t, 0.25, res.Cells[1].Intensity)
	assert.Equal(t, 0.5, res.Cells[2].Intensity)
}

func TestBuild_DiscardsOutOfBounds(t *testing.T) {
	points := []models.TouchPoint{
		pt(-10, 50),
		pt(50, -10),
		pt(1001, 50),
		pt(50, 2500),
		pt(100, 100), // the only in-bounds point
	}
	res, err := Build(points, Options{Width: 1000, Height: 2000, CellSize: 100})
	require.NoError(t, err)
	require.Len(t, res.Cells, 1)
	assert.Equal(t, 1, res.Cells[0].Count)
}

func TestBuild_NonDivisibleDimensions(t *testing.T) {
	// 1080/40 = 27 exactly, 2340/40 = 58.5 so rows round up.
	res, err := Build(nil, Options{Width: 1080, Height: 2340, CellSize: 40})
	require.NoError(t, err)
	assert.Equal(t, 27, res.Cols)
	assert.Equal(t, 59, res.Rows)
}

func TestBuild_InvalidOptions(t *testing.T) {
	_, err := Build(nil, Options{Width: 0, Height: 100, CellSize: 10})
	assert.Error(t, err)

	_, err = Build(nil, Options{Width: 100, Height: 100, CellSize: 0})
	assert.Error(t, err)
}

func TestRamp_Endpoints(t *testing.T) {
	r, g, b := Ramp(0)
	assert.Equal(t, [3]uint8{0, 64, 255}, [3]uint8{r, g, b})

	r, g, b = Ramp(1)
	assert.Equal(t, [3]uint8{255, 32, 0}, [3]uint8{r, g, b})
}

func TestRamp_ClampsAndMidpoint(t *testing.T) {
	r0, g0, b0 := Ramp(-2)
	r1, g1, b1 := Ramp(0)
	assert.Equal(t, [3]uint8{r1, g1, b1}, [3]uint8{r0, g0, b0})

	rm, _, bm := Ramp(0.5)
	assert.Greater(t, rm, uint8(0))
	assert.Less(t, rm, uint8(255))
	assert.Greater(t, bm, uint8(0))
	assert.Less(t, bm, uint8(255))
}
