package zones

// CellRule maps a grid cell position to a hardware zone. Rules are evaluated
// in slice order and the first match wins, so priority is part of the data,
// not the code: the top/bottom bands outrank the side edges.
type CellRule struct {
	Zone  ID
	Match func(row, col, rows, cols int) bool
}

// CellRules is the prioritized position heuristic. Cells matched by no rule
// are interior and implicate the LCD interconnect.
var CellRules = []CellRule{
	{Zone: DigitizerTop, Match: func(row, col, rows, cols int) bool {
		return row < 2
	}},
	{Zone: DigitizerBottom, Match: func(row, col, rows, cols int) bool {
		return row >= rows-2
	}},
	{Zone: DigitizerLeftEdge, Match: func(row, col, rows, cols int) bool {
		return col == 0
	}},
	{Zone: DigitizerRightEdge, Match: func(row, col, rows, cols int) bool {
		return col == cols-1
	}},
}

// ForCell returns the hardware zone implicated by a cell position within an
// R×C grid.
func ForCell(row, col, rows, cols int) ID {
	for _, r := range CellRules {
		if r.Match(row, col, rows, cols) {
			return r.Zone
		}
	}
	return LCDConnector
}
