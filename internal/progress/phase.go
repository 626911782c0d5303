// Package progress models a two-phase sync run (download, classify) and
// the pure transition function that advances it from stream events.
package progress

import "math"

// Status is the lifecycle state of one phase.
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Phase is the progress of one stage of a sync run. A Total of zero means
// the size is not known yet.
type Phase struct {
	Status  Status
	Current int
	Total   int
	Message string
}

// Percent returns the whole-number completion of p in [0, 100]. It is 0
// while the total is unknown.
func (p Phase) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	pct := math.Round(100 * float64(p.Current) / float64(p.Total))
	return int(min(max(pct, 0), 100))
}

// Ratio returns Percent as a fraction for progress bar widgets.
func (p Phase) Ratio() float64 {
	return float64(p.Percent()) / 100
}

// Display returns current and total clamped so that current never exceeds
// total on screen. The stored values are left untouched.
func (p Phase) Display() (current, total int) {
	current, total = max(p.Current, 0), max(p.Total, 0)
	if total > 0 && current > total {
		current = total
	}
	return current, total
}

// Done reports whether the phase reached a terminal status.
func (p Phase) Done() bool {
	return p.Status == StatusComplete || p.Status == StatusError
}
