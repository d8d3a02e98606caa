package session

import (
	"context"
	"time"

	"golang.org/x/exp/rand"

	"github.com/hmcalister/wordduel-server/internal/bot"
	"github.com/hmcalister/wordduel-server/internal/config"
	"github.com/hmcalister/wordduel-server/internal/domain"
)

// EventSink is how the Scheduler hands a transition's events back out to
// whatever fans them over sockets (the Connection Manager). It is called
// with s.Mu still held, mirroring how inbound actions hand events to the
// fanout step before releasing the lock.
type EventSink func(s *domain.Session, events []Event)

// Scheduler is the Turn Scheduler of spec.md §4.F: one cancellable timer or
// bot-thinking task per game, serialized through the same per-session lock
// as every other mutation.
type Scheduler struct {
	engine *Engine
	bot    *bot.Policy
	game   config.GameConfig
	rng    *rand.Rand
}

// NewScheduler builds a Scheduler bound to engine and botPolicy.
func NewScheduler(engine *Engine, botPolicy *bot.Policy, game config.GameConfig, rng *rand.Rand) *Scheduler {
	return &Scheduler{engine: engine, bot: botPolicy, game: game, rng: rng}
}

// Cancel stops whatever timer or bot-thinking task is armed for s and bumps
// its epoch so any in-flight callback that fires anyway becomes a no-op
// (spec.md §5 "Cancellation"). Callers must hold s.Mu.
func (sch *Scheduler) Cancel(s *domain.Session) {
	s.BumpTurnEpoch()
	if s.Timer != nil {
		s.Timer.Stop()
		s.Timer = nil
	}
	if cancel := s.TakeTurnCancel(); cancel != nil {
		cancel()
	}
}

// Arm implements spec.md §4.F's re-arm rule: iff the session is in_progress,
// arm a turn timer for a human current player or a bot-thinking task for a
// bot current player. Callers must hold s.Mu and must have already applied
// whatever transition produced the current state.
func (sch *Scheduler) Arm(s *domain.Session, sink EventSink) {
	sch.Cancel(s)
	if s.Status != domain.StatusInProgress {
		return
	}

	current := s.Players[s.CurrentPlayerID]
	epoch := s.CurrentTurnEpoch()

	if current != nil && current.IsBot {
		ctx, cancel := context.WithCancel(context.Background())
		s.SetTurnCancel(cancel)
		go sch.runBotTurn(ctx, s, s.CurrentPlayerID, epoch, sink)
		return
	}

	s.Timer = time.AfterFunc(sch.game.TurnDuration(), func() {
		sch.fireTimeout(s, epoch, sink)
	})
}

// fireTimeout is the turn timer's callback. It acquires s.Mu itself — timer
// callbacks run on their own goroutine, never under the caller's lock
// (spec.md §5 "Timer firing does not itself acquire the lock; it schedules
// a timeout action that does").
func (sch *Scheduler) fireTimeout(s *domain.Session, epoch uint64, sink EventSink) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if s.CurrentTurnEpoch() != epoch || s.Status != domain.StatusInProgress {
		return
	}

	actingPlayer := s.CurrentPlayerID
	events := sch.engine.Transition(context.Background(), s, actingPlayer, Timeout{})
	sink(s, events)
	sch.Arm(s, sink)
}

// runBotTurn implements spec.md §4.F's bot-thinking task: choose a move
// (§4.B, possibly blocking on the oracle), wait the humanization delay, then
// re-enter the engine as if the bot had submitted the action itself.
func (sch *Scheduler) runBotTurn(ctx context.Context, s *domain.Session, botPlayer domain.PlayerID, epoch uint64, sink EventSink) {
	s.Mu.Lock()
	if s.CurrentTurnEpoch() != epoch || s.Status != domain.StatusInProgress || s.CurrentPlayerID != botPlayer {
		s.Mu.Unlock()
		return
	}
	move := sch.bot.ChooseMove(ctx, s, botPlayer)
	s.Mu.Unlock()

	delay := bot.HumanizationDelaySeconds(sch.rng, move.Creativity, move.Word == nil)
	timer := time.NewTimer(time.Duration(delay * float64(time.Second)))
	select {
	case <-ctx.Done():
		timer.Stop()
		return
	case <-timer.C:
	}

	s.Mu.Lock()
	defer s.Mu.Unlock()

	if s.CurrentTurnEpoch() != epoch || s.Status != domain.StatusInProgress || s.CurrentPlayerID != botPlayer {
		return
	}

	var events []Event
	if move.Word == nil {
		events = sch.engine.Transition(context.Background(), s, botPlayer, Timeout{})
	} else {
		events = sch.engine.Transition(context.Background(), s, botPlayer, SubmitWord{Word: *move.Word})
	}
	sink(s, events)
	sch.Arm(s, sink)
}
