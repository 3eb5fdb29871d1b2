package notebook

// Status is the closed set of notebook lifecycle states the orchestrator
// branches on. Unrecognized API strings map to StatusUnknown rather than
// falling through string comparisons.
type Status int

const (
	StatusUnknown Status = iota
	StatusStopped
	StatusStarting
	StatusInService
	StatusStopping
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "Stopped"
	case StatusStarting:
		return "Starting"
	case StatusInService:
		return "InService"
	case StatusStopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// Transitional reports whether the state resolves on its own given time.
func (s Status) Transitional() bool {
	return s == StatusStarting || s == StatusStopping
}

// ParseStatus maps a SageMaker status string onto the closed set. The API
// reports "Pending" for an instance that is coming up; it is treated as
// Starting.
func ParseStatus(s string) Status {
	switch s {
	case "Stopped":
		return StatusStopped
	case "InService":
		return StatusInService
	case "Starting", "Pending":
		return StatusStarting
	case "Stopping":
		return StatusStopping
	default:
		return StatusUnknown
	}
}
