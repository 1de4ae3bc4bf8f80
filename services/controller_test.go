package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"matchquiz/models"
)

func newTestController(t *testing.T, relay *fakeRelay) *Controller {
	t.Helper()
	c := NewController(ControllerOptions{
		Endpoint:       relay.url(),
		QuestionBudget: 40,
		TotalQuestions: 10,
		Transport: TransportOptions{
			MinReconnect: 10 * time.Millisecond,
			MaxReconnect: 50 * time.Millisecond,
		},
	})
	t.Cleanup(c.Reset)
	return c
}

func validDescriptor(role models.Role) models.SessionDescriptor {
	return models.NewSessionDescriptor("room1", role, time.Hour, time.Now())
}

// startPlaying starts c and drives the relay to the first question.
func startPlaying(t *testing.T, c *Controller, relay *fakeRelay) *relayConn {
	t.Helper()
	if err := c.Start(context.Background(), validDescriptor(models.RoleMale)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rc := relay.accept(t)
	if msg := rc.next(t); msg.Type != EventJoinGame {
		t.Fatalf("first message = %s, want %s", msg.Type, EventJoinGame)
	}
	eventually(t, "connected", func() bool { return c.View().Connected })

	rc.send(t, EventConnectionAck, ConnectionAckPayload{ConnectionID: "conn-self"})
	rc.send(t, EventPartnerConnected, nil)
	rc.send(t, EventQuestion, QuestionPayload{
		CurrentQuestionIndex: intPtr(0),
		Question: &QuestionBody{Text: "Beach or mountains?", Options: []models.Option{
			{ID: "a", Text: "Beach"}, {ID: "b", Text: "Mountains"},
		}},
	})
	eventually(t, "first question", func() bool { return c.View().Session.CurrentQuestionIndex == 0 })
	return rc
}

func TestControllerStartRejectsInvalidDescriptor(t *testing.T) {
	relay := newFakeRelay(t)
	c := newTestController(t, relay)

	expired := models.NewSessionDescriptor("ROOM1", models.RoleMale, -time.Minute, time.Now())
	err := c.Start(context.Background(), expired)
	if !errors.Is(err, ErrNoValidSession) || !errors.Is(err, models.ErrDescriptorExpired) {
		t.Fatalf("Start(expired) = %v", err)
	}
	if c.View().Started {
		t.Fatal("controller started with an expired descriptor")
	}

	if err := c.SubmitAnswer("a"); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("SubmitAnswer before start = %v, want %v", err, ErrNotStarted)
	}
}

func TestControllerStartTwice(t *testing.T) {
	relay := newFakeRelay(t)
	c := newTestController(t, relay)

	if err := c.Start(context.Background(), validDescriptor(models.RoleFemale)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(context.Background(), validDescriptor(models.RoleFemale)); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start = %v, want %v", err, ErrAlreadyStarted)
	}
	if got := c.View().Session.RoomCode; got != "ROOM1" {
		t.Fatalf("room code = %q, want ROOM1", got)
	}
}

func TestControllerPlaysFullSession(t *testing.T) {
	relay := newFakeRelay(t)
	c := newTestController(t, relay)
	rc := startPlaying(t, c, relay)

	if err := c.SubmitAnswer("z"); !errors.Is(err, ErrUnknownOption) {
		t.Fatalf("SubmitAnswer(z) = %v, want %v", err, ErrUnknownOption)
	}

	if err := c.SubmitAnswer("a"); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if !c.View().Session.LocalHasAnswered {
		t.Fatal("local answer not recorded")
	}
	msg := rc.next(t)
	if msg.Type != EventSubmitAnswer {
		t.Fatalf("message = %s, want %s", msg.Type, EventSubmitAnswer)
	}
	if got := decodePayload[SubmitAnswerPayload](t, msg); got.Answer != "a" || got.RoomCode != "ROOM1" {
		t.Fatalf("submit = %+v", got)
	}

	// Repeats are absorbed locally.
	if err := c.SubmitAnswer("a"); err != nil {
		t.Fatalf("repeated SubmitAnswer: %v", err)
	}
	if err := c.SubmitAnswer("b"); err != nil {
		t.Fatalf("changed SubmitAnswer: %v", err)
	}
	rc.expectNone(t, 100*time.Millisecond)

	rc.send(t, EventAnswerSubmitted, AnswerSubmittedPayload{AnsweredBy: "conn-partner", TimeRemaining: intPtr(28)})
	eventually(t, "partner submission", func() bool { return c.View().Session.PartnerSubmitted })

	rc.send(t, EventBothAnswered, nil)
	eventually(t, "both answered", func() bool { return !c.View().Session.PartnerSubmitted })

	rc.send(t, EventQuestion, QuestionPayload{
		CurrentQuestionIndex: intPtr(1),
		Question: &QuestionBody{Text: "Tea or coffee?", Options: []models.Option{
			{ID: "t", Text: "Tea"}, {ID: "c", Text: "Coffee"},
		}},
	})
	eventually(t, "second question", func() bool { return c.View().Session.CurrentQuestionIndex == 1 })
	if c.View().Session.LocalHasAnswered {
		t.Fatal("local answer carried into the next question")
	}

	rc.send(t, EventGameComplete, GameCompletePayload{Summary: &RawSummary{TotalQuestions: 10, MatchedAnswers: 6}})
	eventually(t, "completion", func() bool { return c.View().Session.Phase == models.PhaseCompleted })

	results := c.View().Session.Results
	if results.Score != 60 || results.Compatibility.Level != models.CompatibilityMedium {
		t.Fatalf("results = %+v", results)
	}
	if err := c.SubmitAnswer("t"); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("SubmitAnswer after completion = %v, want %v", err, ErrNotInProgress)
	}

	requestID, err := c.RequestMatchResults(models.MediaGIF)
	if err != nil {
		t.Fatalf("RequestMatchResults: %v", err)
	}
	msg = rc.next(t)
	if msg.Type != EventRequestMatchResults {
		t.Fatalf("message = %s, want %s", msg.Type, EventRequestMatchResults)
	}
	if got := decodePayload[RequestMatchResultsPayload](t, msg); got.RequestID != requestID || got.Kind != models.MediaGIF {
		t.Fatalf("request = %+v, want id %q", got, requestID)
	}

	rc.send(t, "gif_generation_started", nil)
	eventually(t, "gif pending", func() bool {
		return c.View().Session.Media[models.MediaGIF].Status == models.MediaPending
	})
}

func TestControllerRequestMatchResultsBeforeCompletion(t *testing.T) {
	relay := newFakeRelay(t)
	c := newTestController(t, relay)
	startPlaying(t, c, relay)

	if _, err := c.RequestMatchResults(models.MediaDatePlan); !errors.Is(err, ErrNotCompleted) {
		t.Fatalf("RequestMatchResults = %v, want %v", err, ErrNotCompleted)
	}
	if _, err := c.RequestMatchResults("poem"); !errors.Is(err, ErrUnknownMediaKind) {
		t.Fatalf("RequestMatchResults(poem) = %v, want %v", err, ErrUnknownMediaKind)
	}
}

func TestControllerSubmitWhileDisconnected(t *testing.T) {
	relay := newFakeRelay(t)
	c := NewController(ControllerOptions{
		Endpoint: relay.url(),
		Transport: TransportOptions{
			MinReconnect: time.Minute,
			MaxReconnect: time.Minute,
		},
	})
	t.Cleanup(c.Reset)
	rc := startPlaying(t, c, relay)

	rc.conn.Close()
	eventually(t, "disconnect", func() bool { return !c.View().Connected })

	if err := c.SubmitAnswer("a"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SubmitAnswer = %v, want %v", err, ErrNotConnected)
	}
	if c.View().Session.LocalHasAnswered {
		t.Fatal("local answer recorded although nothing was sent")
	}
}

func TestControllerAnswersAgainAfterTimeout(t *testing.T) {
	relay := newFakeRelay(t)
	c := newTestController(t, relay)
	rc := startPlaying(t, c, relay)

	if err := c.SubmitAnswer("a"); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if msg := rc.next(t); msg.Type != EventSubmitAnswer {
		t.Fatalf("message = %s, want %s", msg.Type, EventSubmitAnswer)
	}

	rc.send(t, EventQuestionTimeout, nil)
	eventually(t, "timeout", func() bool { return c.View().Session.QuestionClosed })
	if c.View().Session.LocalHasAnswered {
		t.Fatal("answer flag survived timeout")
	}

	if err := c.SubmitAnswer("b"); err != nil {
		t.Fatalf("SubmitAnswer after timeout: %v", err)
	}
	if err := c.SubmitAnswer("b"); err != nil {
		t.Fatalf("repeated SubmitAnswer after timeout: %v", err)
	}
	msg := rc.next(t)
	if msg.Type != EventSubmitAnswer {
		t.Fatalf("message = %s, want %s", msg.Type, EventSubmitAnswer)
	}
	if got := decodePayload[SubmitAnswerPayload](t, msg); got.Answer != "b" {
		t.Fatalf("answer = %q, want b", got.Answer)
	}
	rc.expectNone(t, 100*time.Millisecond)
}

func TestControllerReconnectKeepsProgress(t *testing.T) {
	relay := newFakeRelay(t)
	c := newTestController(t, relay)
	rc := startPlaying(t, c, relay)

	if err := c.SubmitAnswer("a"); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	rc.next(t)
	before := c.View().Session

	rc.conn.Close()
	second := relay.accept(t)
	msg := second.next(t)
	if msg.Type != EventJoinGame {
		t.Fatalf("first message after reconnect = %s, want %s", msg.Type, EventJoinGame)
	}
	if join := decodePayload[JoinGamePayload](t, msg); join.RoomCode != "ROOM1" || join.Role != models.RoleMale {
		t.Fatalf("join = %+v", join)
	}
	eventually(t, "reconnected", func() bool { return c.View().Connected })

	after := c.View().Session
	if after.Phase != before.Phase || after.CurrentQuestionIndex != before.CurrentQuestionIndex || !after.LocalHasAnswered {
		t.Fatalf("session after reconnect = %+v, before %+v", after, before)
	}

	// The answer already sent is not repeated on the new connection.
	if err := c.SubmitAnswer("a"); err != nil {
		t.Fatalf("SubmitAnswer after reconnect: %v", err)
	}
	second.expectNone(t, 100*time.Millisecond)
}

func TestControllerRollsBackLostAnswer(t *testing.T) {
	relay := newFakeRelay(t)
	c := newTestController(t, relay)
	rc := startPlaying(t, c, relay)

	if err := c.SubmitAnswer("a"); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	rc.next(t)

	c.mu.Lock()
	tr := c.transport
	c.mu.Unlock()
	tr.answerLost()

	if c.View().Session.LocalHasAnswered {
		t.Fatal("lost answer still marked as sent")
	}
	if err := c.SubmitAnswer("b"); err != nil {
		t.Fatalf("SubmitAnswer after loss: %v", err)
	}
	if got := decodePayload[SubmitAnswerPayload](t, rc.next(t)); got.Answer != "b" {
		t.Fatalf("answer = %q, want b", got.Answer)
	}
}

func TestControllerCompletesWithoutMatches(t *testing.T) {
	relay := newFakeRelay(t)
	c := newTestController(t, relay)
	rc := startPlaying(t, c, relay)

	rc.send(t, EventGameComplete, GameCompletePayload{Summary: &RawSummary{TotalQuestions: 10, MatchedAnswers: 0}})
	eventually(t, "completion", func() bool { return c.View().Session.Phase == models.PhaseCompleted })

	s := c.View().Session
	if s.Results == nil || !s.Results.NoMatches || s.Results.Score != 0 {
		t.Fatalf("results = %+v", s.Results)
	}
	if s.Results.Compatibility.Level != models.CompatibilityLow {
		t.Fatalf("level = %q, want %q", s.Results.Compatibility.Level, models.CompatibilityLow)
	}
	if s.Notice == nil || s.Notice.Kind != models.NoticeNoMatches {
		t.Fatalf("notice = %+v, want no_matches", s.Notice)
	}
}

func TestControllerResetStopsDelivery(t *testing.T) {
	relay := newFakeRelay(t)
	c := newTestController(t, relay)

	var views []View
	c.OnChange(func(v View) { views = append(views, v) })
	rc := startPlaying(t, c, relay)

	c.Reset()
	v := c.View()
	if v.Started || v.Connected {
		t.Fatalf("view after reset = %+v", v)
	}
	if v.Session.Phase != models.PhaseWaiting || v.Session.RoomCode != "" || v.Session.CurrentQuestionIndex != -1 {
		t.Fatalf("session after reset = %+v", v.Session)
	}
	rc.expectClosed(t)

	seen := len(views)
	_ = rc.conn.WriteJSON(mustEvent(t, EventPartnerDisconnected, nil))
	time.Sleep(50 * time.Millisecond)
	if c.View().Session.Notice != nil {
		t.Fatal("event applied after reset")
	}
	if len(views) != seen {
		t.Fatal("listener notified after reset")
	}
}

func TestControllerDismissNotice(t *testing.T) {
	relay := newFakeRelay(t)
	c := newTestController(t, relay)
	rc := startPlaying(t, c, relay)

	rc.send(t, EventPartnerDisconnected, nil)
	eventually(t, "notice", func() bool { return c.View().Session.Notice != nil })

	c.DismissNotice()
	if c.View().Session.Notice != nil {
		t.Fatal("notice not dismissed")
	}
	if c.View().Session.Phase != models.PhaseInProgress {
		t.Fatal("partner disconnect ended the session")
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestControllerDisplayCountdown(t *testing.T) {
	relay := newFakeRelay(t)
	clock := &fakeClock{now: time.Now()}
	c := NewController(ControllerOptions{
		Endpoint: relay.url(),
		Now:      clock.Now,
	})
	t.Cleanup(c.Reset)
	rc := startPlaying(t, c, relay)

	rc.send(t, EventTimerUpdate, TimerUpdatePayload{TimeRemaining: intPtr(10)})
	eventually(t, "timer", func() bool { return c.View().Session.TimeRemainingSeconds == 10 })

	clock.Advance(3 * time.Second)
	v := c.View()
	if v.DisplayTimeRemaining != 7 {
		t.Fatalf("display = %d, want 7", v.DisplayTimeRemaining)
	}
	if v.Session.TimeRemainingSeconds != 10 {
		t.Fatalf("authoritative clock moved to %d", v.Session.TimeRemainingSeconds)
	}
}
