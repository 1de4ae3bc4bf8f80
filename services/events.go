package services

import (
	"encoding/json"
	"strings"

	"matchquiz/models"
)

// Message is the envelope exchanged with the relay and with local UI sockets.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is an inbound protocol message.
type Event = Message

// Outbound event kinds.
const (
	EventJoinGame            = "join_game"
	EventSubmitAnswer        = "submit_answer"
	EventRequestMatchResults = "request_match_results"
)

// Inbound event kinds.
const (
	EventConnectionAck       = "connection_ack"
	EventGameState           = "game_state"
	EventPartnerConnected    = "partner_connected"
	EventQuestion            = "question"
	EventAnswerSubmitted     = "answer_submitted"
	EventBothAnswered        = "both_answered"
	EventTimerUpdate         = "timer_update"
	EventQuestionTimeout     = "question_timeout"
	EventGameComplete        = "game_complete"
	EventPartnerDisconnected = "partner_disconnected"
)

// InboundEventTypes lists the session events the reducer understands.
// Side-job events are matched by suffix instead, see parseSideJob.
func InboundEventTypes() []string {
	return []string{
		EventConnectionAck,
		EventGameState,
		EventPartnerConnected,
		EventQuestion,
		EventAnswerSubmitted,
		EventBothAnswered,
		EventTimerUpdate,
		EventQuestionTimeout,
		EventGameComplete,
		EventPartnerDisconnected,
	}
}

type JoinGamePayload struct {
	RoomCode string      `json:"roomCode"`
	Role     models.Role `json:"role"`
}

type SubmitAnswerPayload struct {
	RoomCode string `json:"roomCode"`
	Answer   string `json:"answer"`
}

type MatchDataAnswer struct {
	AnswerText string `json:"answerText"`
}

type MatchDataItem struct {
	Question      string                          `json:"question"`
	Matched       bool                            `json:"matched"`
	PlayerAnswers map[models.Role]MatchDataAnswer `json:"playerAnswers"`
}

type RequestMatchResultsPayload struct {
	RoomCode  string           `json:"roomCode"`
	RequestID string           `json:"requestId"`
	Kind      models.MediaKind `json:"kind"`
	MatchData []MatchDataItem  `json:"matchData"`
}

type ConnectionAckPayload struct {
	ConnectionID string `json:"connectionId"`
}

type QuestionBody struct {
	ID      int             `json:"id,omitempty"`
	Text    string          `json:"text"`
	Options []models.Option `json:"options"`
}

type QuestionPayload struct {
	CurrentQuestionIndex *int          `json:"currentQuestionIndex"`
	CurrentQuestion      *int          `json:"currentQuestion"` // older relays
	Question             *QuestionBody `json:"question"`
}

func (p QuestionPayload) index() (int, bool) {
	if p.CurrentQuestionIndex != nil {
		return *p.CurrentQuestionIndex, true
	}
	if p.CurrentQuestion != nil {
		return *p.CurrentQuestion, true
	}
	return 0, false
}

type AnswerSubmittedPayload struct {
	AnsweredBy    string      `json:"answeredBy"`
	Role          models.Role `json:"role,omitempty"`
	TimeRemaining *int        `json:"timeRemaining"`
	GameState     *struct {
		TimeRemaining *int `json:"timeRemaining"`
	} `json:"gameState,omitempty"`
}

func (p AnswerSubmittedPayload) timeRemaining() (int, bool) {
	if p.TimeRemaining != nil {
		return *p.TimeRemaining, true
	}
	if p.GameState != nil && p.GameState.TimeRemaining != nil {
		return *p.GameState.TimeRemaining, true
	}
	return 0, false
}

type TimerUpdatePayload struct {
	TimeRemaining *int `json:"timeRemaining"`
}

type RawPlayerAnswer struct {
	Role       models.Role `json:"role"`
	Gender     models.Role `json:"gender"` // older relays
	Answer     string      `json:"answer"`
	AnswerText string      `json:"answerText"`
}

func (a RawPlayerAnswer) declaredRole() models.Role {
	if a.Role != "" {
		return a.Role
	}
	return a.Gender
}

type RawMatchResult struct {
	QuestionID    int                        `json:"questionId"`
	Question      string                     `json:"question"`
	Options       []models.Option            `json:"options,omitempty"`
	Matched       bool                       `json:"matched"`
	PlayerAnswers map[string]RawPlayerAnswer `json:"playerAnswers"` // keyed by connection id
}

type RawSummary struct {
	TotalQuestions int `json:"totalQuestions"`
	MatchedAnswers int `json:"matchedAnswers"`
}

type GameCompletePayload struct {
	Score         *float64              `json:"score"`
	MatchResults  []RawMatchResult      `json:"matchResults"`
	Compatibility *models.Compatibility `json:"compatibility"`
	Summary       *RawSummary           `json:"summary"`
}

// GameStatePayload is a full snapshot sent by the relay after a (re)join.
type GameStatePayload struct {
	Phase                models.Phase         `json:"phase"`
	GameStatus           models.Phase         `json:"gameStatus"` // older relays
	CurrentQuestionIndex *int                 `json:"currentQuestionIndex"`
	TotalQuestions       int                  `json:"totalQuestions"`
	TimeRemaining        *int                 `json:"timeRemaining"`
	Question             *QuestionBody        `json:"question"`
	Answered             map[models.Role]bool `json:"answered"`
	Completion           *GameCompletePayload `json:"completion"`
}

func (p GameStatePayload) phase() models.Phase {
	if p.Phase != "" {
		return p.Phase
	}
	return p.GameStatus
}

type SideJobGeneratedPayload struct {
	Success bool             `json:"success"`
	URL     string           `json:"url,omitempty"`
	Plan    *models.DatePlan `json:"plan,omitempty"`
	Error   string           `json:"error,omitempty"`
}

type SideJobErrorPayload struct {
	Message string `json:"message"`
}

type sideJobStage int

const (
	sideJobStarted sideJobStage = iota + 1
	sideJobGenerated
	sideJobFailed
)

// parseSideJob splits "<kind>_generation_started", "<kind>_generated" and
// "<kind>_error" event types.
func parseSideJob(eventType string) (models.MediaKind, sideJobStage, bool) {
	for suffix, stage := range map[string]sideJobStage{
		"_generation_started": sideJobStarted,
		"_generated":          sideJobGenerated,
		"_error":              sideJobFailed,
	} {
		if prefix, ok := strings.CutSuffix(eventType, suffix); ok && prefix != "" {
			kind := models.MediaKind(prefix)
			if kind.Valid() {
				return kind, stage, true
			}
		}
	}
	return "", 0, false
}

// NewEvent builds an envelope from a typed payload.
func NewEvent(eventType string, payload any) (Event, error) {
	if payload == nil {
		return Event{Type: eventType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Payload: data}, nil
}
