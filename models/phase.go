package models

// Phase is the coarse lifecycle state of a paired session.
type Phase string

const (
	PhaseWaiting    Phase = "waiting"
	PhaseInProgress Phase = "in_progress"
	PhaseCompleted  Phase = "completed"
)

// Rank orders phases so transitions can be checked for regression.
// Unknown phases rank below Waiting.
func (p Phase) Rank() int {
	switch p {
	case PhaseWaiting:
		return 0
	case PhaseInProgress:
		return 1
	case PhaseCompleted:
		return 2
	default:
		return -1
	}
}

func (p Phase) Valid() bool {
	return p.Rank() >= 0
}
