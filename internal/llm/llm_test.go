package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tsdiag/internal/models"
	"tsdiag/internal/report"
	"tsdiag/internal/zones"
)

func faultyReport() *report.Report {
	return &report.Report{
		Session: &models.DiagnosticSession{
			Type:        models.SessionTypeGrid,
			DeviceModel: "Pixel 7",
			Notes:       "screen replaced last month",
			TouchPoints: []models.TouchPoint{{IsGhost: true}, {IsGhost: false}},
		},
		Score:   &report.Score{Total: 55, Coverage: 15, CellHealth: 15, GhostActivity: 13, AreaImpact: 12},
		Verdict: report.VerdictSuspect,
		Findings: []report.ZoneFinding{
			{
				Zone:   zones.Zone{ID: "digitizer_top", Label: "Top digitizer region"},
				Count:  2,
				Worst:  models.SeverityHigh,
				Labels: []string{"Unresponsive cluster rows 0-1, cols 0-1", "Ghost cell (0,3)"},
			},
		},
	}
}

func healthyReport() *report.Report {
	return &report.Report{
		Session: &models.DiagnosticSession{Type: models.SessionTypeGhostMonitor},
		Score:   &report.Score{Total: 100, Coverage: 20, CellHealth: 30, GhostActivity: 25, AreaImpact: 25},
		Verdict: report.VerdictHealthy,
	}
}

func TestBuildPrompt(t *testing.T) {
	t.Run("faulty session", func(t *testing.T) {
		system, user := buildPrompt(faultyReport())

		assert.Contains(t, system, "JSON")
		assert.Contains(t, system, `"summary"`)
		assert.Contains(t, system, `"likely_cause"`)
		assert.Contains(t, system, `"next_steps"`)

		assert.Contains(t, user, "Verdict: suspect (score 55/100)")
		assert.Contains(t, user, "Pixel 7")
		assert.Contains(t, user, "Touches recorded: 2 (1 ghost)")
		assert.Contains(t, user, "Top digitizer region")
		assert.Contains(t, user, "Ghost cell (0,3)")
		assert.Contains(t, user, "screen replaced last month")
	})

	t.Run("healthy session", func(t *testing.T) {
		_, user := buildPrompt(healthyReport())

		assert.Contains(t, user, "Verdict: healthy (score 100/100)")
		assert.Contains(t, user, "No faulty areas were detected")
		assert.NotContains(t, user, "Technician notes")
	})

	t.Run("device model omitted when empty", func(t *testing.T) {
		_, user := buildPrompt(healthyReport())
		assert.NotContains(t, user, "device:")
	})
}
