package diag

import (
	"fmt"
	"sort"

	"tsdiag/internal/models"
	"tsdiag/internal/zones"
)

// deriveAreas computes faulty areas from the session's collected evidence:
// clusters of bad grid cells for grid sessions, bursts of ghost touches for
// monitor and multi-touch sessions. Derived areas are appended after any
// manually added ones.
func (m *Manager) deriveAreas(sess *models.DiagnosticSession) []models.FaultyArea {
	switch sess.Type {
	case models.SessionTypeGrid:
		return deriveCellAreas(sess)
	case models.SessionTypeGhostMonitor, models.SessionTypeMultiTouch:
		return m.deriveGhostBursts(sess)
	}
	return nil
}

// deriveCellAreas groups faulty and ghost cells into 4-connected clusters
// and emits one area per cluster, covering the cluster's bounding box in
// percent of the viewport.
func deriveCellAreas(sess *models.DiagnosticSession) []models.FaultyArea {
	rows, cols := sess.GridRows, sess.GridCols
	if rows <= 0 || cols <= 0 {
		return nil
	}

	bad := func(row, col int) bool {
		c := sess.CellAt(row, col)
		if c == nil {
			return false
		}
		return c.Status == models.CellStatusFaulty || c.Status == models.CellStatusGhost
	}

	var areas []models.FaultyArea
	seen := make([]bool, rows*cols)

	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			if seen[row*cols+col] || !bad(row, col) {
				continue
			}

			// Flood-fill one cluster from this seed.
			cluster := floodFill(row, col, rows, cols, bad, seen)

			minR, minC := rows, cols
			maxR, maxC := 0, 0
			ghosts := 0
			for _, c := range cluster {
				r, cc := c[0], c[1]
				if r < minR {
					minR = r
				}
				if r > maxR {
					maxR = r
				}
				if cc < minC {
					minC = cc
				}
				if cc > maxC {
					maxC = cc
				}
				if sess.CellAt(r, cc).Status == models.CellStatusGhost {
					ghosts++
				}
			}

			areas = append(areas, models.FaultyArea{
				ID:            newULID(),
				Label:         cellClusterLabel(len(cluster), ghosts, minR, maxR, minC, maxC),
				XPercent:      float64(minC) / float64(cols) * 100,
				YPercent:      float64(minR) / float64(rows) * 100,
				WidthPercent:  float64(maxC-minC+1) / float64(cols) * 100,
				HeightPercent: float64(maxR-minR+1) / float64(rows) * 100,
				Severity:      clusterSeverity(len(cluster)),
				HardwareZone:  string(zones.ForCell(minR, minC, rows, cols)),
			})
		}
	}
	return areas
}

// floodFill collects the 4-connected cluster containing (row, col), marking
// every visited cell in seen.
func floodFill(row, col, rows, cols int, bad func(int, int) bool, seen []bool) [][2]int {
	var cluster [][2]int
	stack := [][2]int{{row, col}}
	seen[row*cols+col] = true

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		cluster = append(cluster, cur)

		for _, d := range [][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
			r, c := cur[0]+d[0], cur[1]+d[1]
			if r < 0 || r >= rows || c < 0 || c >= cols {
				continue
			}
			if seen[r*cols+c] || !bad(r, c) {
				continue
			}
			seen[r*cols+c] = true
			stack = append(stack, [2]int{r, c})
		}
	}
	return cluster
}

func cellClusterLabel(size, ghosts, minR, maxR, minC, maxC int) string {
	kind := "Unresponsive"
	switch {
	case ghosts == size:
		kind = "Ghost"
	case ghosts > 0:
		kind = "Mixed fault"
	}
	if size == 1 {
		return fmt.Sprintf("%s cell (%d,%d)", kind, minR, minC)
	}
	return fmt.Sprintf("%s cluster rows %d-%d, cols %d-%d", kind, minR, maxR, minC, maxC)
}

func clusterSeverity(size int) models.Severity {
	switch {
	case size <= 1:
		return models.SeverityLow
	case size <= 3:
		return models.SeverityMedium
	default:
		return models.SeverityHigh
	}
}

// burstPad widens burst bounding boxes so a pinpoint ghost still renders as
// a visible region, in percent of the viewport per side.
const burstPad = 1.5

// deriveGhostBursts groups ghost-flagged touches into bursts separated by
// more than the configured gap and emits one area per burst. Zone
// attribution maps the burst centroid onto the manager's grid dimensions.
func (m *Manager) deriveGhostBursts(sess *models.DiagnosticSession) []models.FaultyArea {
	var ghosts []models.TouchPoint
	for _, p := range sess.TouchPoints {
		if p.IsGhost {
			ghosts = append(ghosts, p)
		}
	}
	if len(ghosts) == 0 {
		return nil
	}
	sort.SliceStable(ghosts, func(i, j int) bool {
		return ghosts[i].TimestampMS < ghosts[j].TimestampMS
	})

	gapMS := m.cfg.GhostGap.Milliseconds()
	var areas []models.FaultyArea
	start := 0
	for i := 1; i <= len(ghosts); i++ {
		if i < len(ghosts) && ghosts[i].TimestampMS-ghosts[i-1].TimestampMS <= gapMS {
			continue
		}
		areas = append(areas, m.burstArea(sess, ghosts[start:i]))
		start = i
	}
	return areas
}

// burstArea builds the faulty area for one burst of ghost touches.
func (m *Manager) burstArea(sess *models.DiagnosticSession, burst []models.TouchPoint) models.FaultyArea {
	w, h := sess.ViewportW, sess.ViewportH
	if w <= 0 {
		w = m.cfg.ViewportW
	}
	if h <= 0 {
		h = m.cfg.ViewportH
	}

	minX, minY := burst[0].X, burst[0].Y
	maxX, maxY := burst[0].X, burst[0].Y
	var sumX, sumY float64
	for _, p := range burst {
		if p.X < minX {
			minX = p.X
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
		sumX += p.X
		sumY += p.Y
	}

	x := clampPct(minX/w*100 - burstPad)
	y := clampPct(minY/h*100 - burstPad)
	x2 := clampPct(maxX/w*100 + burstPad)
	y2 := clampPct(maxY/h*100 + burstPad)

	cx := clampCoord(sumX/float64(len(burst)), w)
	cy := clampCoord(sumY/float64(len(burst)), h)
	row := int(cy / h * float64(m.cfg.GridRows))
	col := int(cx / w * float64(m.cfg.GridCols))

	durMS := burst[len(burst)-1].TimestampMS - burst[0].TimestampMS
	return models.FaultyArea{
		ID:            newULID(),
		Label:         fmt.Sprintf("Ghost burst: %d touches over %dms", len(burst), durMS),
		XPercent:      x,
		YPercent:      y,
		WidthPercent:  x2 - x,
		HeightPercent: y2 - y,
		Severity:      burstSeverity(len(burst)),
		HardwareZone:  string(zones.ForCell(row, col, m.cfg.GridRows, m.cfg.GridCols)),
	}
}

func burstSeverity(n int) models.Severity {
	switch {
	case n < 3:
		return models.SeverityLow
	case n < 6:
		return models.SeverityMedium
	default:
		return models.SeverityHigh
	}
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// clampCoord pins a coordinate just inside [0, max) so cell mapping never
// lands on a phantom row or column past the edge.
func clampCoord(v, max float64) float64 {
	if v < 0 {
		return 0
	}
	if v >= max {
		return max - 0.01
	}
	return v
}
