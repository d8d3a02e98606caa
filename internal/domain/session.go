package domain

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxRounds and DefaultMaxMistakes are the spec defaults (spec.md §6)
// NewSession starts every Session with; the session engine's Init replaces
// them with the configured game.max_rounds/game.max_mistakes, and the
// running game reads only its own per-session copies.
const (
	DefaultMaxRounds    = 3
	DefaultMaxMistakes  = 3
	MaxConsecutiveTimeouts = 2
)

// Session is the central entity of spec.md §3. Every mutation of a Session's
// fields must happen while holding its Mu — inbound actions, timer
// callbacks, bot-move callbacks, and disconnect handling all serialize
// against each other through this single per-session lock (spec.md §5).
type Session struct {
	Mu sync.Mutex

	GameID   string
	GameDBID int64
	Language string

	Players     map[PlayerID]*PlayerState
	PlayerOrder [2]PlayerID

	CurrentPlayerID PlayerID
	CurrentRound    int
	MaxRounds       int
	MaxMistakes     int

	Prompt                  *Prompt
	WordsPlayedThisRoundAll map[string]struct{}

	ConsecutiveTimeouts int
	ReadyPlayerIDs      map[PlayerID]struct{}

	TurnDeadlineAt time.Time
	WinnerUserID   *PlayerID
	Status         Status
	IsBotGame      bool

	// Turn scheduler state (spec.md §4.F, §5 "at most one armed turn timer").
	Timer      *time.Timer
	turnCancel context.CancelFunc
	turnEpoch  uint64

	createdAt time.Time
}

// NewSession builds a Session in status Matched, the state the Matchmaking
// Pool hands to the Connection Manager (spec.md §3 Lifecycles).
func NewSession(gameID, language string, p1, p2 PlayerID, p1State, p2State *PlayerState) *Session {
	return &Session{
		GameID:      gameID,
		Language:    language,
		Players:     map[PlayerID]*PlayerState{p1: p1State, p2: p2State},
		PlayerOrder: [2]PlayerID{p1, p2},
		MaxRounds:   DefaultMaxRounds,
		MaxMistakes: DefaultMaxMistakes,
		Status:      StatusMatched,
		createdAt:   time.Now(),
	}
}

// Opponent returns the other participant of p.
func (s *Session) Opponent(p PlayerID) PlayerID {
	if s.PlayerOrder[0] == p {
		return s.PlayerOrder[1]
	}
	return s.PlayerOrder[0]
}

// StarterForRound implements "the starter of round r is p1 if r is odd else
// p2" (spec.md §3).
func (s *Session) StarterForRound(round int) PlayerID {
	if round%2 == 1 {
		return s.PlayerOrder[0]
	}
	return s.PlayerOrder[1]
}

// RequiredReadyCount is 2 for human-human games and 1 for bot games, since a
// bot never sends client_ready itself (spec.md §4.E client_ready).
func (s *Session) RequiredReadyCount() int {
	if s.IsBotGame {
		return 1
	}
	return 2
}

// HumanPlayerIDs returns the participants that are not bot-controlled.
func (s *Session) HumanPlayerIDs() []PlayerID {
	out := make([]PlayerID, 0, 2)
	for _, p := range s.PlayerOrder {
		if st := s.Players[p]; st != nil && !st.IsBot {
			out = append(out, p)
		}
	}
	return out
}

// TotalScore returns score[p1]+score[p2], the left-hand side of invariant
// I3 (score[p1]+score[p2] <= current_round); it does not check the bound.
func (s *Session) TotalScore() int {
	total := 0
	for _, p := range s.Players {
		total += p.Score
	}
	return total
}

// BumpTurnEpoch invalidates any in-flight timer/bot-task callback armed
// before this call (spec.md §5 "Cancellation").
func (s *Session) BumpTurnEpoch() {
	s.turnEpoch++
}

// CurrentTurnEpoch reports the epoch a newly armed callback should capture
// and later compare against before acting.
func (s *Session) CurrentTurnEpoch() uint64 {
	return s.turnEpoch
}

// SetTurnCancel installs the cancel function for an in-flight bot-thinking
// task, so a later Cancel can stop it.
func (s *Session) SetTurnCancel(cancel context.CancelFunc) {
	s.turnCancel = cancel
}

// TakeTurnCancel returns and clears the current bot-thinking cancel
// function, or nil if none is armed.
func (s *Session) TakeTurnCancel() context.CancelFunc {
	c := s.turnCancel
	s.turnCancel = nil
	return c
}

// ResetRoundState clears the per-round fields ahead of a new round.
func (s *Session) ResetRoundState() {
	s.WordsPlayedThisRoundAll = make(map[string]struct{})
	s.ConsecutiveTimeouts = 0
	s.ReadyPlayerIDs = make(map[PlayerID]struct{})
	for _, p := range s.Players {
		p.MistakesInRound = 0
		p.AcceptedWordsInRound = 0
		p.WordsPlayed = nil
	}
}
