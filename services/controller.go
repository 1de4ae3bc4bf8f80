package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"matchquiz/models"

	"github.com/google/uuid"
)

// Local validation failures. None of them reach the relay.
var (
	ErrNoValidSession   = errors.New("no valid session")
	ErrAlreadyStarted   = errors.New("session already started")
	ErrNotStarted       = errors.New("session not started")
	ErrNotInProgress    = errors.New("session is not in progress")
	ErrNoActiveQuestion = errors.New("no active question")
	ErrUnknownOption    = errors.New("option is not part of the current question")
	ErrNotCompleted     = errors.New("session is not completed")
	ErrUnknownMediaKind = errors.New("unknown media kind")
)

type ControllerOptions struct {
	Endpoint       string
	QuestionBudget int
	TotalQuestions int
	Transport      TransportOptions
	Now            func() time.Time
}

// View is the read-only snapshot handed to the presentation layer.
type View struct {
	Session   models.Session `json:"session"`
	Started   bool           `json:"started"`
	Connected bool           `json:"connected"`
	// DisplayTimeRemaining is a cosmetic countdown interpolated from the last
	// authoritative clock value. Nothing transitions on it.
	DisplayTimeRemaining int `json:"displayTimeRemaining"`
}

// Controller drives one paired session: it owns the transport, feeds relay
// events through Reduce and guards local actions. Every mutation happens
// under mu, in the order the transport delivers events.
type Controller struct {
	opts ControllerOptions

	mu          sync.Mutex
	session     models.Session
	started     bool
	connected   bool
	transport   *Transport
	generation  uint64
	lastClockAt time.Time
	listeners   []func(View)
}

func NewController(opts ControllerOptions) *Controller {
	c := &Controller{opts: opts}
	c.session = c.initialSession("", "")
	return c
}

func (c *Controller) now() time.Time {
	if c.opts.Now != nil {
		return c.opts.Now()
	}
	return time.Now()
}

func (c *Controller) initialSession(roomCode string, role models.Role) models.Session {
	return models.NewSession(roomCode, role, c.opts.QuestionBudget, c.opts.TotalQuestions)
}

// OnChange registers a listener for every state or connectivity change.
// Listeners run under the controller lock: they must not block or call back
// into the controller.
func (c *Controller) OnChange(fn func(View)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Start validates the descriptor and opens the relay connection. An invalid
// or expired descriptor yields an error wrapping ErrNoValidSession; the
// caller is expected to clear it.
func (c *Controller) Start(ctx context.Context, d models.SessionDescriptor) error {
	if err := d.Validate(c.now()); err != nil {
		return fmt.Errorf("%w: %w", ErrNoValidSession, err)
	}

	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.generation++
	gen := c.generation
	c.session = c.initialSession(d.RoomCode, d.Role)
	c.started = true
	c.connected = false
	c.lastClockAt = c.now()

	t := NewTransport(c.opts.Endpoint, c.opts.Transport)
	handler := func(evt Event) { c.apply(gen, evt) }
	for _, kind := range InboundEventTypes() {
		t.On(kind, handler)
	}
	t.OnDefault(handler)
	t.OnStatus(func(connected bool) { c.setConnected(gen, connected) })
	t.OnDrop(func() { c.answerLost(gen) })
	c.transport = t

	join := JoinGamePayload{RoomCode: c.session.RoomCode, Role: d.Role}
	c.notifyLocked()
	c.mu.Unlock()

	log.Printf("Starting session for room %s as %s", join.RoomCode, join.Role)
	t.Connect(ctx, join)
	return nil
}

func (c *Controller) apply(gen uint64, evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}

	next, err := Reduce(c.session, evt)
	if err != nil {
		log.Printf("Dropped relay event for room %s: %v", c.session.RoomCode, err)
		return
	}
	c.session = next
	switch evt.Type {
	case EventGameState, EventQuestion, EventAnswerSubmitted, EventBothAnswered, EventTimerUpdate, EventQuestionTimeout:
		c.lastClockAt = c.now()
	}
	c.notifyLocked()
}

func (c *Controller) setConnected(gen uint64, connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.connected == connected {
		return
	}
	c.connected = connected
	c.notifyLocked()
}

// answerLost undoes the optimistic answer flag when the transport lost the
// answer before the relay saw it, so the player can answer again.
func (c *Controller) answerLost(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.session.Phase != models.PhaseInProgress || !c.session.LocalHasAnswered {
		return
	}
	c.session.LocalHasAnswered = false
	c.notifyLocked()
}

// SubmitAnswer records the local answer for the current question and sends
// it to the relay. A repeated submit for the same question is a silent
// no-op; other rejections are returned without touching the session.
func (c *Controller) SubmitAnswer(optionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return ErrNotStarted
	}
	s := c.session
	if s.Phase != models.PhaseInProgress {
		return ErrNotInProgress
	}
	if s.CurrentQuestion == nil {
		return ErrNoActiveQuestion
	}
	if s.LocalHasAnswered {
		log.Printf("Ignoring repeated answer for room %s question %d", s.RoomCode, s.CurrentQuestionIndex)
		return nil
	}
	if _, ok := s.CurrentQuestion.Option(optionID); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOption, optionID)
	}
	if !c.connected {
		return ErrNotConnected
	}

	// Set before the send so the UI locks the question immediately; the
	// relay's both_answered remains the authority.
	c.session.LocalHasAnswered = true
	err := c.transport.Emit(EventSubmitAnswer, SubmitAnswerPayload{RoomCode: s.RoomCode, Answer: optionID})
	if err != nil {
		c.session.LocalHasAnswered = false
		return fmt.Errorf("submit answer: %w", err)
	}
	c.notifyLocked()
	return nil
}

// RequestMatchResults asks the relay to run a results-media side job and
// returns the request id.
func (c *Controller) RequestMatchResults(kind models.MediaKind) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownMediaKind, kind)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return "", ErrNotStarted
	}
	if c.session.Phase != models.PhaseCompleted || c.session.Results == nil {
		return "", ErrNotCompleted
	}

	payload := RequestMatchResultsPayload{
		RoomCode:  c.session.RoomCode,
		RequestID: uuid.NewString(),
		Kind:      kind,
		MatchData: BuildMatchData(*c.session.Results),
	}
	if err := c.transport.Emit(EventRequestMatchResults, payload); err != nil {
		return "", fmt.Errorf("request match results: %w", err)
	}
	return payload.RequestID, nil
}

func (c *Controller) DismissNotice() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Notice == nil {
		return
	}
	c.session.Notice = nil
	c.notifyLocked()
}

// Reset stops event delivery, closes the relay connection and returns the
// store to its initial Waiting state.
func (c *Controller) Reset() {
	c.mu.Lock()
	t := c.transport
	if t != nil {
		t.Unsubscribe()
	}
	c.generation++
	c.transport = nil
	c.started = false
	c.connected = false
	c.session = c.initialSession("", "")
	c.lastClockAt = c.now()
	c.notifyLocked()
	c.mu.Unlock()

	if t != nil {
		t.Disconnect()
	}
}

func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Controller) viewLocked() View {
	display := c.session.TimeRemainingSeconds
	if c.session.Phase == models.PhaseInProgress {
		display -= int(c.now().Sub(c.lastClockAt) / time.Second)
		if display < 0 {
			display = 0
		}
	}
	return View{
		Session:              c.session,
		Started:              c.started,
		Connected:            c.connected,
		DisplayTimeRemaining: display,
	}
}

func (c *Controller) notifyLocked() {
	if len(c.listeners) == 0 {
		return
	}
	view := c.viewLocked()
	for _, fn := range c.listeners {
		fn(view)
	}
}
