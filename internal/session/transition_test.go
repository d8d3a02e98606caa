package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmcalister/wordduel-server/internal/config"
	"github.com/hmcalister/wordduel-server/internal/content"
	"github.com/hmcalister/wordduel-server/internal/domain"
	"github.com/hmcalister/wordduel-server/internal/identity"
	"github.com/hmcalister/wordduel-server/internal/metrics"
	"github.com/hmcalister/wordduel-server/internal/oracle"
)

// fakeValidator lets engine tests pin the oracle's verdict for specific
// words without a network-backed oracle.Client.
type fakeValidator struct {
	results map[string]oracle.Result
	err     error
	calls   int
}

func (f *fakeValidator) Validate(_ context.Context, word string, _ int64, _, _, _, _ string) (oracle.Result, int64, error) {
	f.calls++
	if f.err != nil {
		return oracle.Result{}, 0, f.err
	}
	if r, ok := f.results[word]; ok {
		return r, 5, nil
	}
	return oracle.Result{IsValid: false, Reason: "not a valid replacement"}, 5, nil
}

func newTestEngine(validator Validator) (*Engine, *content.InMemoryProvider, *identity.InMemory) {
	prompts := []*domain.Prompt{
		{ID: 1, Sentence: "It was a hot day.", TargetWord: "hot", PromptText: "be more extreme", Language: "en"},
	}
	provider := content.NewInMemoryProvider(1, prompts)
	im := identity.NewInMemory(1, nil)
	cfg := config.Default()
	e := NewEngine(provider, validator, im, cfg.Game, cfg.XP, metrics.New())
	return e, provider, im
}

const (
	p1 domain.PlayerID = 1
	p2 domain.PlayerID = 2
)

func newMatchedSession() *domain.Session {
	p1State := &domain.PlayerState{Level: 5, DisplayName: "Alice"}
	p2State := &domain.PlayerState{Level: 5, DisplayName: "Bob"}
	return domain.NewSession("game-1", "en", p1, p2, p1State, p2State)
}

func readySession(t *testing.T, e *Engine, s *domain.Session) {
	t.Helper()
	events := e.Init(context.Background(), s)
	require.NotEmpty(t, events)
	require.Equal(t, domain.StatusWaitingForReady, s.Status)

	e.Transition(context.Background(), s, p1, ClientReady{})
	events = e.Transition(context.Background(), s, p2, ClientReady{})
	require.Equal(t, domain.StatusInProgress, s.Status)
	require.Len(t, events, 1)
	require.Equal(t, EventRoundStarted, events[0].Type)
}

func TestInit_SetsUpFirstRound(t *testing.T) {
	e, _, _ := newTestEngine(&fakeValidator{})
	s := newMatchedSession()

	events := e.Init(context.Background(), s)

	require.Len(t, events, 1)
	assert.Equal(t, EventGameSetupReady, events[0].Type)
	assert.Equal(t, domain.StatusWaitingForReady, s.Status)
	assert.Equal(t, 1, s.CurrentRound)
	assert.Equal(t, p1, s.CurrentPlayerID)
	assert.NotNil(t, s.Prompt)
}

func TestClientReady_RequiresBothHumans(t *testing.T) {
	e, _, _ := newTestEngine(&fakeValidator{})
	s := newMatchedSession()
	e.Init(context.Background(), s)

	events := e.Transition(context.Background(), s, p1, ClientReady{})
	assert.Empty(t, events)
	assert.Equal(t, domain.StatusWaitingForReady, s.Status)

	events = e.Transition(context.Background(), s, p2, ClientReady{})
	require.Len(t, events, 1)
	assert.Equal(t, EventRoundStarted, events[0].Type)
	assert.Equal(t, domain.StatusInProgress, s.Status)
}

func TestSubmitWord_ValidRotatesTurn(t *testing.T) {
	fv := &fakeValidator{results: map[string]oracle.Result{
		"scorching": {IsValid: true, CreativityScore: 3},
	}}
	e, _, _ := newTestEngine(fv)
	s := newMatchedSession()
	readySession(t, e, s)

	events := e.Transition(context.Background(), s, p1, SubmitWord{Word: "scorching"})
	require.Len(t, events, 2)
	assert.Equal(t, EventValidationResult, events[0].Type)
	assert.Equal(t, EventOpponentTurnEnded, events[1].Type)
	assert.Equal(t, p2, s.CurrentPlayerID)
	assert.Equal(t, 1, s.Players[p1].AcceptedWordsInRound)
	assert.Equal(t, 1, fv.calls)
}

func TestSubmitWord_RepeatedWordEndsRoundOnThirdMistake(t *testing.T) {
	fv := &fakeValidator{results: map[string]oracle.Result{
		"hot": {IsValid: true, CreativityScore: 1},
	}}
	e, _, im := newTestEngine(fv)
	s := newMatchedSession()
	readySession(t, e, s)

	// P1 plays "hot" validly, turn rotates to P2.
	e.Transition(context.Background(), s, p1, SubmitWord{Word: "hot"})
	require.Equal(t, p2, s.CurrentPlayerID)

	// P2 repeats "hot" three times: mistake 1, 2, then round-ending 3.
	e.Transition(context.Background(), s, p2, SubmitWord{Word: "HOT"})
	assert.Equal(t, 1, s.Players[p2].MistakesInRound)
	e.Transition(context.Background(), s, p2, SubmitWord{Word: "Hot"})
	assert.Equal(t, 2, s.Players[p2].MistakesInRound)

	events := e.Transition(context.Background(), s, p2, SubmitWord{Word: "hot"})

	var sawNewRound bool
	for _, ev := range events {
		if ev.Type == EventNewRoundStarted {
			sawNewRound = true
			assert.Equal(t, domain.ReasonRepeatedWordMaxMistakes, ev.Payload["previous_round_end_reason"])
			assert.Equal(t, p1, *ev.Payload["round_winner_id"].(*domain.PlayerID))
		}
	}
	assert.True(t, sawNewRound)
	assert.Equal(t, 1, s.Players[p1].Score)
	assert.Equal(t, 2, s.CurrentRound)
	assert.Equal(t, domain.StatusWaitingForReady, s.Status)
	assert.Positive(t, im.XPGrantCount())
}

func TestTimeout_DoubleTimeoutPicksFewerAcceptedWordsAsLoser(t *testing.T) {
	e, _, _ := newTestEngine(&fakeValidator{})
	s := newMatchedSession()
	readySession(t, e, s)

	// Give P1 one accepted word this round so P2 (zero) loses the tiebreak.
	s.Players[p1].AcceptedWordsInRound = 1
	s.CurrentPlayerID = p1

	events := e.Transition(context.Background(), s, p1, Timeout{})
	require.Len(t, events, 1)
	assert.Equal(t, EventTimeout, events[0].Type)
	assert.Equal(t, p2, s.CurrentPlayerID)
	assert.Equal(t, 1, s.ConsecutiveTimeouts)

	events = e.Transition(context.Background(), s, p2, Timeout{})

	var sawNewRound bool
	for _, ev := range events {
		if ev.Type == EventNewRoundStarted {
			sawNewRound = true
			assert.Equal(t, domain.ReasonDoubleTimeout, ev.Payload["previous_round_end_reason"])
			assert.Equal(t, p1, *ev.Payload["round_winner_id"].(*domain.PlayerID))
		}
	}
	assert.True(t, sawNewRound)
	assert.Equal(t, 0, s.ConsecutiveTimeouts)
}

func TestTimeout_TiedAcceptedWordsIsADraw(t *testing.T) {
	e, _, _ := newTestEngine(&fakeValidator{})
	s := newMatchedSession()
	readySession(t, e, s)
	s.CurrentPlayerID = p1

	e.Transition(context.Background(), s, p1, Timeout{})
	e.Transition(context.Background(), s, p2, Timeout{})

	assert.Equal(t, 0, s.Players[p1].Score)
	assert.Equal(t, 0, s.Players[p2].Score)
}

func TestSubmitWord_OracleUnavailableDegradesToInvalid(t *testing.T) {
	e, _, _ := newTestEngine(&fakeValidator{err: oracle.ErrOracleUnavailable})
	s := newMatchedSession()
	readySession(t, e, s)

	events := e.Transition(context.Background(), s, p1, SubmitWord{Word: "scorching"})
	require.NotEmpty(t, events)
	assert.Equal(t, EventValidationResult, events[0].Type)
	assert.Equal(t, false, events[0].Payload["is_valid"])
	assert.Equal(t, "Validator unavailable", events[0].Payload["message"])
	assert.Equal(t, 1, s.Players[p1].MistakesInRound)
}

func TestDisconnect_RemainingPlayerWinsByForfeit(t *testing.T) {
	e, _, im := newTestEngine(&fakeValidator{})
	s := newMatchedSession()
	readySession(t, e, s)

	events := e.Disconnect(context.Background(), s, p1)

	require.Len(t, events, 2)
	assert.Equal(t, EventPlayerDisconnectedInform, events[0].Type)
	assert.Equal(t, EventGameOver, events[1].Type)
	assert.Equal(t, domain.StatusAbandonedByPlayer, s.Status)
	require.NotNil(t, s.WinnerUserID)
	assert.Equal(t, p2, *s.WinnerUserID)
	assert.Positive(t, im.XPGrantCount())

	// A session that is already terminal emits no further disconnect events.
	more := e.Disconnect(context.Background(), s, p2)
	assert.Empty(t, more)
}

func TestTransition_OutOfTurnSubmitIsRejected(t *testing.T) {
	e, _, _ := newTestEngine(&fakeValidator{})
	s := newMatchedSession()
	readySession(t, e, s)

	events := e.Transition(context.Background(), s, p2, SubmitWord{Word: "hot"})
	require.Len(t, events, 1)
	assert.Equal(t, EventErrorToPlayer, events[0].Type)
	assert.Equal(t, domain.StatusInProgress, s.Status)
}

func TestSendEmoji_TargetsOpponentOnly(t *testing.T) {
	e, _, _ := newTestEngine(&fakeValidator{})
	s := newMatchedSession()
	readySession(t, e, s)

	events := e.Transition(context.Background(), s, p1, SendEmoji{Emoji: "🔥"})
	require.Len(t, events, 1)
	assert.Equal(t, EventEmojiBroadcast, events[0].Type)
	require.NotNil(t, events[0].TargetPlayerID)
	assert.Equal(t, p2, *events[0].TargetPlayerID)
}

func TestGameOver_ReachedAtFinalRound(t *testing.T) {
	fv := &fakeValidator{results: map[string]oracle.Result{"hot": {IsValid: true, CreativityScore: 1}}}
	e, _, _ := newTestEngine(fv)
	s := newMatchedSession()
	readySession(t, e, s)

	// Each round: the starter plays a valid word, the other player racks up
	// three mistakes and loses the round. The starter alternates by round
	// parity, so P1 wins rounds 1 and 3 and P2 wins round 2.
	var lastEvents []Event
	for round := 1; round <= 3; round++ {
		require.Equal(t, domain.StatusInProgress, s.Status)
		starter := s.CurrentPlayerID
		loser := s.Opponent(starter)

		e.Transition(context.Background(), s, starter, SubmitWord{Word: "hot"})
		require.Equal(t, loser, s.CurrentPlayerID)

		e.Transition(context.Background(), s, loser, SubmitWord{Word: fmt.Sprintf("bad%d-1", round)})
		e.Transition(context.Background(), s, loser, SubmitWord{Word: fmt.Sprintf("bad%d-2", round)})
		lastEvents = e.Transition(context.Background(), s, loser, SubmitWord{Word: fmt.Sprintf("bad%d-3", round)})

		if round < 3 {
			e.Transition(context.Background(), s, p1, ClientReady{})
			e.Transition(context.Background(), s, p2, ClientReady{})
		}
	}

	var sawGameOver bool
	for _, ev := range lastEvents {
		if ev.Type == EventGameOver {
			sawGameOver = true
		}
	}
	assert.True(t, sawGameOver)
	assert.Equal(t, domain.StatusFinished, s.Status)
	require.NotNil(t, s.WinnerUserID)
	assert.Equal(t, p1, *s.WinnerUserID)
	assert.Equal(t, 2, s.Players[p1].Score)
	assert.Equal(t, 1, s.Players[p2].Score)
}
