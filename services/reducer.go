package services

import (
	"encoding/json"
	"errors"
	"fmt"

	"matchquiz/models"
)

// Reasons an event is dropped by Reduce. They are diagnostics only; a
// dropped event leaves the session untouched.
var (
	ErrUnknownEvent     = errors.New("unknown event")
	ErrMalformedEvent   = errors.New("malformed event")
	ErrStaleQuestion    = errors.New("stale question index")
	ErrPhaseRegression  = errors.New("phase regression")
	ErrOutOfPhase       = errors.New("event not valid in current phase")
	ErrSessionCompleted = errors.New("session already completed")
)

const (
	partnerDisconnectedMessage = "Your partner has disconnected. Please wait..."
	noMatchesMessage           = "No matches found. Please try again."
)

// Reduce applies one protocol event to the session and returns the next
// state. It is deterministic and never panics; when the event is dropped the
// input state is returned together with the reason.
func Reduce(state models.Session, evt Event) (models.Session, error) {
	next, err := reduce(state, evt)
	if err != nil {
		return state, fmt.Errorf("%s: %w", evt.Type, err)
	}
	return next, nil
}

func reduce(state models.Session, evt Event) (models.Session, error) {
	if kind, stage, ok := parseSideJob(evt.Type); ok {
		return reduceSideJob(state, evt, kind, stage)
	}

	switch evt.Type {
	case EventConnectionAck:
		var payload ConnectionAckPayload
		if err := decode(evt, &payload); err != nil {
			return state, err
		}
		if payload.ConnectionID == "" {
			return state, ErrMalformedEvent
		}
		state.Self.ConnectionID = payload.ConnectionID
		return state, nil

	case EventGameState:
		return reduceSnapshot(state, evt)
	}

	if state.Phase == models.PhaseCompleted {
		if isSessionEvent(evt.Type) {
			return state, ErrSessionCompleted
		}
		return state, ErrUnknownEvent
	}

	switch evt.Type {
	case EventPartnerConnected:
		if state.Phase == models.PhaseWaiting {
			state.Phase = models.PhaseInProgress
		}
		if state.Notice != nil && state.Notice.Kind == models.NoticePartnerDisconnected {
			state.Notice = nil
		}

	case EventQuestion:
		var payload QuestionPayload
		if err := decode(evt, &payload); err != nil {
			return state, err
		}
		index, ok := payload.index()
		if !ok || index < 0 {
			return state, ErrMalformedEvent
		}
		question, err := buildQuestion(payload.Question)
		if err != nil {
			return state, err
		}
		if index <= state.CurrentQuestionIndex {
			return state, ErrStaleQuestion
		}
		state.Phase = models.PhaseInProgress
		state.CurrentQuestionIndex = index
		state.CurrentQuestion = question
		state.QuestionClosed = false
		state.TimeRemainingSeconds = state.QuestionBudget
		state.LocalHasAnswered = false
		state.PartnerSubmitted = false

	case EventAnswerSubmitted:
		if state.Phase != models.PhaseInProgress {
			return state, ErrOutOfPhase
		}
		var payload AnswerSubmittedPayload
		if err := decode(evt, &payload); err != nil {
			return state, err
		}
		remaining, ok := payload.timeRemaining()
		if (payload.AnsweredBy == "" && payload.Role == "") || !ok || remaining < 0 {
			return state, ErrMalformedEvent
		}
		// The local flag is set at submit time; our own echo only syncs the clock.
		if !isLocalAnswer(state.Self, payload) {
			state.PartnerSubmitted = true
		}
		state.TimeRemainingSeconds = remaining

	case EventBothAnswered:
		if state.Phase != models.PhaseInProgress {
			return state, ErrOutOfPhase
		}
		state.PartnerSubmitted = false
		state.TimeRemainingSeconds = state.QuestionBudget

	case EventTimerUpdate:
		if state.Phase != models.PhaseInProgress {
			return state, ErrOutOfPhase
		}
		var payload TimerUpdatePayload
		if err := decode(evt, &payload); err != nil {
			return state, err
		}
		if payload.TimeRemaining == nil || *payload.TimeRemaining < 0 {
			return state, ErrMalformedEvent
		}
		state.TimeRemainingSeconds = *payload.TimeRemaining

	case EventQuestionTimeout:
		if state.Phase != models.PhaseInProgress {
			return state, ErrOutOfPhase
		}
		state.LocalHasAnswered = false
		state.PartnerSubmitted = false
		state.QuestionClosed = true
		state.TimeRemainingSeconds = state.QuestionBudget

	case EventGameComplete:
		var payload GameCompletePayload
		if err := decode(evt, &payload); err != nil {
			return state, err
		}
		if len(payload.MatchResults) == 0 && payload.Summary == nil {
			return state, ErrMalformedEvent
		}
		state = complete(state, Aggregate(payload))

	case EventPartnerDisconnected:
		state.Notice = &models.Notice{
			Kind:    models.NoticePartnerDisconnected,
			Message: partnerDisconnectedMessage,
		}

	default:
		return state, ErrUnknownEvent
	}
	return state, nil
}

// reduceSnapshot replaces every shared field with the relay's snapshot.
// Local identity, the question budget and the current notice are kept.
func reduceSnapshot(state models.Session, evt Event) (models.Session, error) {
	if state.Phase == models.PhaseCompleted {
		return state, ErrSessionCompleted
	}
	var payload GameStatePayload
	if err := decode(evt, &payload); err != nil {
		return state, err
	}
	phase := payload.phase()
	if !phase.Valid() {
		return state, ErrMalformedEvent
	}
	if phase.Rank() < state.Phase.Rank() {
		return state, ErrPhaseRegression
	}
	index := state.CurrentQuestionIndex
	if payload.CurrentQuestionIndex != nil {
		index = *payload.CurrentQuestionIndex
	}
	if index < state.CurrentQuestionIndex {
		return state, ErrStaleQuestion
	}

	total := state.TotalQuestions
	if payload.TotalQuestions > 0 {
		total = payload.TotalQuestions
	}
	next := models.NewSession(state.RoomCode, state.Self.Role, state.QuestionBudget, total)
	next.Self = state.Self
	next.Notice = state.Notice
	next.Phase = phase
	next.CurrentQuestionIndex = index
	if payload.TimeRemaining != nil && *payload.TimeRemaining >= 0 {
		next.TimeRemainingSeconds = *payload.TimeRemaining
	}

	switch phase {
	case models.PhaseInProgress:
		if payload.Question != nil {
			question, err := buildQuestion(payload.Question)
			if err != nil {
				return state, err
			}
			next.CurrentQuestion = question
		}
		next.LocalHasAnswered = payload.Answered[state.Self.Role]
		next.PartnerSubmitted = payload.Answered[state.Self.Role.Partner()]
	case models.PhaseCompleted:
		if payload.Completion == nil {
			return state, ErrMalformedEvent
		}
		next = complete(next, Aggregate(*payload.Completion))
	}
	return next, nil
}

func reduceSideJob(state models.Session, evt Event, kind models.MediaKind, stage sideJobStage) (models.Session, error) {
	if state.Phase != models.PhaseCompleted {
		return state, ErrOutOfPhase
	}

	var artifact models.MediaArtifact
	switch stage {
	case sideJobStarted:
		artifact = models.MediaArtifact{Status: models.MediaPending}
	case sideJobGenerated:
		var payload SideJobGeneratedPayload
		if err := decode(evt, &payload); err != nil {
			return state, err
		}
		if payload.Success {
			artifact = models.MediaArtifact{Status: models.MediaReady, URL: payload.URL, Plan: payload.Plan}
		} else {
			artifact = models.MediaArtifact{Status: models.MediaFailed, Error: payload.Error}
			if artifact.Error == "" {
				artifact.Error = "generation failed"
			}
		}
	case sideJobFailed:
		var payload SideJobErrorPayload
		if err := decode(evt, &payload); err != nil {
			return state, err
		}
		artifact = models.MediaArtifact{Status: models.MediaFailed, Error: payload.Message}
	}

	media := make(map[models.MediaKind]models.MediaArtifact, len(state.Media)+1)
	for k, v := range state.Media {
		media[k] = v
	}
	media[kind] = artifact
	state.Media = media
	return state, nil
}

func complete(state models.Session, results models.Results) models.Session {
	state.Phase = models.PhaseCompleted
	state.Results = &results
	state.CurrentQuestion = nil
	state.QuestionClosed = false
	state.LocalHasAnswered = false
	state.PartnerSubmitted = false
	if results.NoMatches {
		state.Notice = &models.Notice{Kind: models.NoticeNoMatches, Message: noMatchesMessage}
	}
	return state
}

func buildQuestion(body *QuestionBody) (*models.Question, error) {
	if body == nil || body.Text == "" || len(body.Options) < 2 {
		return nil, ErrMalformedEvent
	}
	for _, o := range body.Options {
		if o.ID == "" {
			return nil, ErrMalformedEvent
		}
	}
	return &models.Question{
		ID:      body.ID,
		Text:    body.Text,
		Options: append([]models.Option(nil), body.Options...),
	}, nil
}

func isLocalAnswer(self models.Participant, payload AnswerSubmittedPayload) bool {
	if payload.AnsweredBy != "" && payload.AnsweredBy == self.ConnectionID {
		return true
	}
	return payload.Role != "" && payload.Role == self.Role
}

func isSessionEvent(eventType string) bool {
	for _, t := range InboundEventTypes() {
		if t == eventType {
			return true
		}
	}
	return false
}

func decode(evt Event, v any) error {
	if len(evt.Payload) == 0 {
		return ErrMalformedEvent
	}
	if err := json.Unmarshal(evt.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}
