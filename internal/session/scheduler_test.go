package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/hmcalister/wordduel-server/internal/bot"
	"github.com/hmcalister/wordduel-server/internal/config"
	"github.com/hmcalister/wordduel-server/internal/content"
	"github.com/hmcalister/wordduel-server/internal/domain"
	"github.com/hmcalister/wordduel-server/internal/identity"
	"github.com/hmcalister/wordduel-server/internal/metrics"
	"github.com/hmcalister/wordduel-server/internal/oracle"
)

func TestScheduler_ArmsTimerAndFiresTimeoutForHuman(t *testing.T) {
	e, _, _ := newTestEngine(&fakeValidator{})
	s := newMatchedSession()
	readySession(t, e, s)

	cfg := config.Default()
	cfg.Game.TurnDurationSeconds = 0

	var mu sync.Mutex
	var received []Event
	var closeOnce sync.Once
	done := make(chan struct{})
	// fireTimeout re-arms after each timeout, so the sink runs more than once.
	sink := func(_ *domain.Session, events []Event) {
		mu.Lock()
		received = append(received, events...)
		mu.Unlock()
		closeOnce.Do(func() { close(done) })
	}

	sch := NewScheduler(e, nil, cfg.Game, rand.New(rand.NewSource(1)))

	s.Mu.Lock()
	sch.Arm(s, sink)
	s.Mu.Unlock()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout callback never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, received)
	assert.Equal(t, EventTimeout, received[0].Type)
}

func TestScheduler_CancelStopsArmedTimer(t *testing.T) {
	e, _, _ := newTestEngine(&fakeValidator{})
	s := newMatchedSession()
	readySession(t, e, s)

	cfg := config.Default()
	cfg.Game.TurnDurationSeconds = 0

	fired := make(chan struct{}, 1)
	sink := func(_ *domain.Session, _ []Event) {
		fired <- struct{}{}
	}

	sch := NewScheduler(e, nil, cfg.Game, rand.New(rand.NewSource(1)))

	s.Mu.Lock()
	sch.Arm(s, sink)
	sch.Cancel(s)
	s.Mu.Unlock()

	select {
	case <-fired:
		t.Fatal("cancelled timer should not fire")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestScheduler_BotTurnPlaysAndReArms(t *testing.T) {
	prompts := []*domain.Prompt{
		{ID: 1, Sentence: "It was a hot day.", TargetWord: "hot", PromptText: "be more extreme", Language: "en"},
	}
	provider := content.NewInMemoryProvider(1, prompts)
	provider.LogSubmission(context.Background(), domain.SubmissionRecord{
		PromptID: 1, SubmittedWord: "scorching", IsValid: true, CreativityScore: 3,
	})

	im := identity.NewInMemory(1, nil)
	cfg := config.Default()
	cfg.Bot.MaxMistakeProbability, cfg.Bot.MinMistakeProbability = 0, 0
	cfg.Bot.MaxTimeoutProbability, cfg.Bot.MinTimeoutProbability = 0, 0

	fv := &fakeValidator{results: map[string]oracle.Result{
		"scorching": {IsValid: true, CreativityScore: 3},
	}}
	e := NewEngine(provider, fv, im, cfg.Game, cfg.XP, metrics.New())
	s := domain.NewSession("game-bot", "en", p1, p2, &domain.PlayerState{Level: 5}, &domain.PlayerState{Level: 5, IsBot: true})
	s.IsBotGame = true

	e.Init(context.Background(), s)
	e.Transition(context.Background(), s, p1, ClientReady{})
	require.Equal(t, domain.StatusInProgress, s.Status)

	// Force the bot onto the move to exercise the scheduler's bot-thinking
	// path regardless of which player the round-parity rule started with.
	s.CurrentPlayerID = p2

	policy := bot.NewPolicy(cfg.Bot, nil, provider, rand.New(rand.NewSource(1)))
	sch := NewScheduler(e, policy, cfg.Game, rand.New(rand.NewSource(1)))

	done := make(chan []Event, 1)
	sink := func(_ *domain.Session, events []Event) {
		done <- events
	}

	s.Mu.Lock()
	sch.Arm(s, sink)
	s.Mu.Unlock()

	select {
	case events := <-done:
		require.NotEmpty(t, events)
		assert.Equal(t, p1, s.CurrentPlayerID)
	case <-time.After(5 * time.Second):
		t.Fatal("bot turn never completed")
	}
}
