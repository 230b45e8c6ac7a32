package models

// Severity represents how badly a region misbehaved.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// FaultyArea represents a misbehaving region of the screen, expressed as a
// percentage-of-viewport rectangle. Areas are derived when a session is
// finalized and are read-only afterwards.
type FaultyArea struct {
	ID            string
	Label         string
	XPercent      float64
	YPercent      float64
	WidthPercent  float64
	HeightPercent float64
	Severity      Severity
	HardwareZone  string // zone id into the static catalog, empty when unmapped
}
