package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsdiag/internal/grid"
	"tsdiag/internal/models"
	"tsdiag/internal/zones"
)

func completedAt(start time.Time, d time.Duration) *time.Time {
	t := start.Add(d)
	return &t
}

func TestScore_CleanGridSession(t *testing.T) {
	s := NewScorer()

	start := time.Now().Add(-5 * time.Minute)
	sess := &models.DiagnosticSession{
		Type:      models.SessionTypeGrid,
		Status:    models.SessionStatusCompleted,
		GridRows:  6,
		GridCols:  4,
		GridCells: grid.NewCells(6, 4),
		StartedAt: start,
		EndedAt:   completedAt(start, 2*time.Minute),
	}
	for i := range sess.GridCells {
		sess.GridCells[i].Status = models.CellStatusOK
	}

	sc := s.Score(sess)

	assert.Equal(t, 20, sc.Coverage, "every cell tested should get full coverage")
	assert.Equal(t, 30, sc.CellHealth, "all ok cells should get full health points")
	assert.Equal(t, 25, sc.GhostActivity, "no touches means no ghosts")
	assert.Equal(t, 25, sc.AreaImpact, "no faulty areas, no deductions")
	assert.Equal(t, 100, sc.Total)
	assert.Equal(t, VerdictHealthy, VerdictFor(sc.Total))
}

func TestScore_FaultyGridSession(t *testing.T) {
	s := NewScorer()

	start := time.Now().Add(-5 * time.Minute)
	sess := &models.DiagnosticSession{
		Type:     models.SessionTypeGrid,
		Status:   models.SessionStatusCompleted,
		GridRows: 2,
		GridCols: 2,
		GridCells: []models.GridCell{
			{Row: 0, Col: 0, Status: models.CellStatusOK},
			{Row: 0, Col: 1, Status: models.CellStatusFaulty},
			{Row: 1, Col: 0, Status: models.CellStatusGhost},
			{Row: 1, Col: 1, Status: models.CellStatusUntested},
		},
		FaultyAreas: []models.FaultyArea{
			{Severity: models.SeverityHigh},
			{Severity: models.SeverityLow},
		},
		StartedAt: start,
		EndedAt:   completedAt(start, time.Minute),
	}

	sc := s.Score(sess)

	assert.Equal(t, 15, sc.Coverage, "3 of 4 cells tested")
	assert.Equal(t, 10, sc.CellHealth, "1 of 3 tested cells ok")
	assert.Equal(t, 12, sc.AreaImpact, "high(10) + low(3) deducted")
	assert.Equal(t, VerdictSuspect, VerdictFor(sc.Total))
	assert.True(t, sc.Total < 80, "a faulty screen should not read healthy")
}

func TestScore_QuietMonitorSession(t *testing.T) {
	s := NewScorer()

	start := time.Now().Add(-2 * time.Minute)
	sess := &models.DiagnosticSession{
		Type:      models.SessionTypeGhostMonitor,
		Status:    models.SessionStatusCompleted,
		StartedAt: start,
		EndedAt:   completedAt(start, time.Minute),
	}

	sc := s.Score(sess)
	assert.Equal(t, 100, sc.Total, "a silent monitor run is a clean screen")
	assert.Equal(t, VerdictHealthy, VerdictFor(sc.Total))
}

func TestScore_NoisyMonitorSession(t *testing.T) {
	s := NewScorer()

	start := time.Now().Add(-2 * time.Minute)
	sess := &models.DiagnosticSession{
		Type:      models.SessionTypeGhostMonitor,
		Status:    models.SessionStatusCompleted,
		StartedAt: start,
		EndedAt:   completedAt(start, time.Minute),
		TouchPoints: []models.TouchPoint{
			{IsGhost: true}, {IsGhost: true}, {IsGhost: true}, {IsGhost: true},
		},
		FaultyAreas: []models.FaultyArea{
			{Severity: models.SeverityHigh},
			{Severity: models.SeverityMedium},
		},
	}

	sc := s.Score(sess)
	assert.Zero(t, sc.CellHealth, "all-ghost traffic is the worst case")
	assert.Zero(t, sc.GhostActivity)
	assert.Equal(t, 9, sc.AreaImpact)
	assert.True(t, sc.Total < 50, "a ghosting screen should read defective")
	assert.Equal(t, VerdictDefective, VerdictFor(sc.Total))
}

func TestScore_ShortMonitorRunScoresLowCoverage(t *testing.T) {
	s := NewScorer()

	start := time.Now().Add(-time.Minute)
	sess := &models.DiagnosticSession{
		Type:      models.SessionTypeGhostMonitor,
		Status:    models.SessionStatusCompleted,
		StartedAt: start,
		EndedAt:   completedAt(start, 3*time.Second),
	}

	sc := s.Score(sess)
	assert.Equal(t, 6, sc.Coverage, "a 3s run proves very little")
}

func TestScoreAreas(t *testing.T) {
	assert.Equal(t, 25, scoreAreas(nil, 25))
	assert.Equal(t, 22, scoreAreas([]models.FaultyArea{{Severity: models.SeverityLow}}, 25))
	assert.Equal(t, 19, scoreAreas([]models.FaultyArea{{Severity: models.SeverityMedium}, {Severity: models.SeverityLow}}, 25))
	assert.Equal(t, 0, scoreAreas([]models.FaultyArea{
		{Severity: models.SeverityHigh},
		{Severity: models.SeverityHigh},
		{Severity: models.SeverityHigh},
	}, 25))
}

func TestVerdictFor(t *testing.T) {
	tests := []struct {
		total int
		want  Verdict
	}{
		{100, VerdictHealthy},
		{80, VerdictHealthy},
		{79, VerdictSuspect},
		{50, VerdictSuspect},
		{49, VerdictDefective},
		{0, VerdictDefective},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, VerdictFor(tt.total), "total=%d", tt.total)
	}
}

func TestBuild_GroupsFindingsByZone(t *testing.T) {
	catalog, err := zones.Load()
	require.NoError(t, err)

	start := time.Now().Add(-5 * time.Minute)
	sess := &models.DiagnosticSession{
		Type:      models.SessionTypeGhostMonitor,
		Status:    models.SessionStatusCompleted,
		StartedAt: start,
		EndedAt:   completedAt(start, time.Minute),
		FaultyAreas: []models.FaultyArea{
			{Label: "Ghost burst: 5 touches over 400ms", Severity: models.SeverityMedium, HardwareZone: string(zones.DigitizerBottom)},
			{Label: "Ghost burst: 2 touches over 90ms", Severity: models.SeverityLow, HardwareZone: string(zones.DigitizerTop)},
			{Label: "Ghost burst: 9 touches over 800ms", Severity: models.SeverityHigh, HardwareZone: string(zones.DigitizerBottom)},
		},
	}

	r := Build(sess, catalog)

	require.NotNil(t, r.Score)
	assert.Equal(t, VerdictFor(r.Score.Total), r.Verdict)
	assert.False(t, r.GeneratedAt.IsZero())

	require.Len(t, r.Findings, 2)

	// Catalog order: top band comes before the bottom band.
	top := r.Findings[0]
	assert.Equal(t, zones.DigitizerTop, top.Zone.ID)
	assert.NotEmpty(t, top.Zone.RepairSteps, "catalog zones carry repair steps")
	assert.Equal(t, 1, top.Count)
	assert.Equal(t, models.SeverityLow, top.Worst)

	bottom := r.Findings[1]
	assert.Equal(t, zones.DigitizerBottom, bottom.Zone.ID)
	assert.Equal(t, 2, bottom.Count)
	assert.Equal(t, models.SeverityHigh, bottom.Worst)
	assert.Len(t, bottom.Labels, 2)
}

func TestBuild_UnknownZoneStillReported(t *testing.T) {
	catalog, err := zones.Load()
	require.NoError(t, err)

	sess := &models.DiagnosticSession{
		Type:      models.SessionTypeGhostMonitor,
		Status:    models.SessionStatusCompleted,
		StartedAt: time.Now(),
		FaultyAreas: []models.FaultyArea{
			{Label: "manual note", Severity: models.SeverityLow, HardwareZone: "frame_flex"},
		},
	}

	r := Build(sess, catalog)
	require.Len(t, r.Findings, 1)
	assert.Equal(t, zones.ID("frame_flex"), r.Findings[0].Zone.ID)
	assert.Empty(t, r.Findings[0].Zone.RepairSteps)
}
