package models

const (
	DefaultQuestionBudget = 40 // seconds per question
	DefaultTotalQuestions = 10
)

type NoticeKind string

const (
	NoticePartnerDisconnected NoticeKind = "partner_disconnected"
	NoticeNoMatches           NoticeKind = "no_matches"
)

// Notice is a dismissible, non-fatal message for the player.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
}

// Session is the local view of one paired quiz run. It is only changed by
// the event reducer and by the controller's optimistic submit.
type Session struct {
	RoomCode             string      `json:"roomCode"`
	Self                 Participant `json:"self"`
	Phase                Phase       `json:"phase"`
	CurrentQuestionIndex int         `json:"currentQuestionIndex"` // -1 until the first question
	TotalQuestions       int         `json:"totalQuestions"`
	QuestionBudget       int         `json:"questionBudget"`
	TimeRemainingSeconds int         `json:"timeRemaining"`
	CurrentQuestion      *Question   `json:"question,omitempty"`
	QuestionClosed       bool        `json:"questionClosed"` // advisory: the relay timed this question out
	LocalHasAnswered     bool        `json:"localHasAnswered"`
	PartnerSubmitted     bool        `json:"partnerSubmitted"`
	Results              *Results    `json:"results,omitempty"`

	Media  map[MediaKind]MediaArtifact `json:"media,omitempty"`
	Notice *Notice                     `json:"notice,omitempty"`
}

// NewSession returns the initial Waiting state for a room.
func NewSession(roomCode string, role Role, questionBudget, totalQuestions int) Session {
	if questionBudget <= 0 {
		questionBudget = DefaultQuestionBudget
	}
	if totalQuestions <= 0 {
		totalQuestions = DefaultTotalQuestions
	}
	return Session{
		RoomCode:             NormalizeRoomCode(roomCode),
		Self:                 Participant{Role: role},
		Phase:                PhaseWaiting,
		CurrentQuestionIndex: -1,
		TotalQuestions:       totalQuestions,
		QuestionBudget:       questionBudget,
		TimeRemainingSeconds: questionBudget,
	}
}
