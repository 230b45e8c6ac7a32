package models

// TouchPoint represents a single registered touch event within a session.
// Points are immutable once recorded and belong to exactly one session.
type TouchPoint struct {
	ID          string
	X           float64
	Y           float64
	TimestampMS int64   // monotonic milliseconds since session start
	Pressure    float64 // 0 when the source stream does not report pressure
	Slot        int     // finger index from multi-touch streams (0 = first contact)
	IsGhost     bool
}
