// Package report turns a finished diagnostic session into a scored verdict
// with per-zone findings.
package report

import (
	"time"

	"tsdiag/internal/models"
	"tsdiag/internal/zones"
)

// Score represents the computed screen health of a session.
type Score struct {
	Total         int
	Coverage      int // 0-20
	CellHealth    int // 0-30
	GhostActivity int // 0-25
	AreaImpact    int // 0-25
}

// Verdict buckets a total score for the bench.
type Verdict string

const (
	VerdictHealthy   Verdict = "healthy"
	VerdictSuspect   Verdict = "suspect"
	VerdictDefective Verdict = "defective"
)

// VerdictFor maps a total score to its verdict bucket.
func VerdictFor(total int) Verdict {
	switch {
	case total >= 80:
		return VerdictHealthy
	case total >= 50:
		return VerdictSuspect
	default:
		return VerdictDefective
	}
}

// ZoneFinding groups the faulty areas attributed to one hardware zone.
type ZoneFinding struct {
	Zone   zones.Zone
	Count  int
	Worst  models.Severity
	Labels []string
}

// Report is the full diagnostic readout for a session.
type Report struct {
	Session     *models.DiagnosticSession
	Score       *Score
	Verdict     Verdict
	Findings    []ZoneFinding
	GeneratedAt time.Time
}

// Scorer computes screen health scores for sessions.
type Scorer struct{}

// NewScorer returns a new Scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score computes a screen health score (0-100) for a session. Higher is
// healthier.
func (s *Scorer) Score(sess *models.DiagnosticSession) *Score {
	sc := &Score{}

	// Coverage (20 pts) - how much of the screen the run actually exercised
	sc.Coverage = scoreCoverage(sess, 20)

	// Cell health (30 pts) - tested cells that responded correctly
	sc.CellHealth = scoreCellHealth(sess, 30)

	// Ghost activity (25 pts) - fewer phantom touches = more points
	sc.GhostActivity = scoreGhosts(sess, 25)

	// Area impact (25 pts) - deductions per faulty area by severity
	sc.AreaImpact = scoreAreas(sess.FaultyAreas, 25)

	sc.Total = sc.Coverage + sc.CellHealth + sc.GhostActivity + sc.AreaImpact
	return sc
}

// scoreCoverage rewards runs that exercised enough of the screen to trust.
func scoreCoverage(sess *models.DiagnosticSession, maxPoints int) int {
	if sess.Type == models.SessionTypeGrid {
		if len(sess.GridCells) == 0 {
			return 0
		}
		tested := 0
		for _, c := range sess.GridCells {
			if c.Status != models.CellStatusUntested {
				tested++
			}
		}
		return int(float64(maxPoints) * float64(tested) / float64(len(sess.GridCells)))
	}

	// Timed modes: longer observation, more confidence.
	d := sess.Duration()
	switch {
	case d >= 30*time.Second:
		return maxPoints
	case d >= 10*time.Second:
		return int(float64(maxPoints) * 0.6)
	default:
		return int(float64(maxPoints) * 0.3)
	}
}

// scoreCellHealth scores the tested cells that responded correctly.
func scoreCellHealth(sess *models.DiagnosticSession, maxPoints int) int {
	if sess.Type == models.SessionTypeGrid {
		tested, ok := 0, 0
		for _, c := range sess.GridCells {
			if c.Status == models.CellStatusUntested {
				continue
			}
			tested++
			if c.Status == models.CellStatusOK {
				ok++
			}
		}
		if tested == 0 {
			return 0
		}
		return int(float64(maxPoints) * float64(ok) / float64(tested))
	}

	// No grid to judge; fall back to how much of the traffic was ghosts.
	if len(sess.TouchPoints) == 0 {
		return maxPoints
	}
	return int(float64(maxPoints) * (1 - ghostRatio(sess)))
}

// scoreGhosts penalizes phantom touches relative to total traffic.
func scoreGhosts(sess *models.DiagnosticSession, maxPoints int) int {
	if len(sess.TouchPoints) == 0 {
		return maxPoints
	}
	return int(float64(maxPoints) * (1 - ghostRatio(sess)))
}

// scoreAreas deducts points per faulty area, weighted by severity.
func scoreAreas(areas []models.FaultyArea, maxPoints int) int {
	penalty := 0
	for _, a := range areas {
		switch a.Severity {
		case models.SeverityHigh:
			penalty += 10
		case models.SeverityMedium:
			penalty += 6
		default:
			penalty += 3
		}
	}
	if penalty >= maxPoints {
		return 0
	}
	return maxPoints - penalty
}

func ghostRatio(sess *models.DiagnosticSession) float64 {
	if len(sess.TouchPoints) == 0 {
		return 0
	}
	ghosts := 0
	for _, p := range sess.TouchPoints {
		if p.IsGhost {
			ghosts++
		}
	}
	return float64(ghosts) / float64(len(sess.TouchPoints))
}

// Build assembles the full report for a session: score, verdict, and the
// faulty areas grouped by hardware zone in catalog order. A nil catalog
// still produces findings, just without labels or repair steps.
func Build(sess *models.DiagnosticSession, catalog *zones.Catalog) *Report {
	score := NewScorer().Score(sess)

	grouped := make(map[string]*ZoneFinding)
	var order []string
	for _, a := range sess.FaultyAreas {
		f, seen := grouped[a.HardwareZone]
		if !seen {
			f = &ZoneFinding{Zone: zones.Zone{ID: zones.ID(a.HardwareZone), Label: a.HardwareZone}}
			if catalog != nil {
				if z, found := catalog.Lookup(zones.ID(a.HardwareZone)); found {
					f.Zone = z
				}
			}
			grouped[a.HardwareZone] = f
			order = append(order, a.HardwareZone)
		}
		f.Count++
		f.Labels = append(f.Labels, a.Label)
		if severityRank(a.Severity) > severityRank(f.Worst) {
			f.Worst = a.Severity
		}
	}

	// Catalog order first so the readout is stable, then anything the
	// catalog does not know about in first-seen order.
	var findings []ZoneFinding
	if catalog != nil {
		for _, z := range catalog.All() {
			if f, seen := grouped[string(z.ID)]; seen {
				findings = append(findings, *f)
				delete(grouped, string(z.ID))
			}
		}
	}
	for _, id := range order {
		if f, seen := grouped[id]; seen {
			findings = append(findings, *f)
		}
	}

	return &Report{
		Session:     sess,
		Score:       score,
		Verdict:     VerdictFor(score.Total),
		Findings:    findings,
		GeneratedAt: time.Now().UTC(),
	}
}

func severityRank(s models.Severity) int {
	switch s {
	case models.SeverityHigh:
		return 3
	case models.SeverityMedium:
		return 2
	case models.SeverityLow:
		return 1
	}
	return 0
}
