package matchmaking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmcalister/wordduel-server/internal/config"
	"github.com/hmcalister/wordduel-server/internal/domain"
	"github.com/hmcalister/wordduel-server/internal/identity"
)

func newTestPool(t *testing.T) (*Pool, *[]*domain.Session) {
	t.Helper()
	var matched []*domain.Session
	im := identity.NewInMemory(1, map[string][]string{"en": {"Botling"}})
	cfg := config.Default().Game
	p := New(cfg, im, nil, 42, func(s *domain.Session) {
		matched = append(matched, s)
	})
	return p, &matched
}

func TestEnqueue_PairsTwoHumansInSameLanguage(t *testing.T) {
	p, matched := newTestPool(t)

	p.Enqueue(identity.Player{ID: 1, DisplayName: "Alice", Level: 3}, "en")
	assert.Len(t, *matched, 0)

	p.Enqueue(identity.Player{ID: 2, DisplayName: "Bob", Level: 5}, "en")
	require.Len(t, *matched, 1)

	s := (*matched)[0]
	assert.ElementsMatch(t, []domain.PlayerID{1, 2}, []domain.PlayerID{s.PlayerOrder[0], s.PlayerOrder[1]})
	assert.False(t, s.IsBotGame)

	status1, r1, ok := p.PollStatus(1)
	require.True(t, ok)
	assert.Equal(t, "matched", status1)
	assert.Equal(t, "Bob", r1.OpponentName)

	status2, r2, ok := p.PollStatus(2)
	require.True(t, ok)
	assert.Equal(t, "matched", status2)
	assert.Equal(t, "Alice", r2.OpponentName)
}

func TestEnqueue_DifferentLanguagesDoNotPair(t *testing.T) {
	p, matched := newTestPool(t)

	p.Enqueue(identity.Player{ID: 1, DisplayName: "Alice", Level: 3}, "en")
	p.Enqueue(identity.Player{ID: 2, DisplayName: "Bob", Level: 5}, "de")

	assert.Len(t, *matched, 0)
	status, _, ok := p.PollStatus(1)
	assert.False(t, ok)
	assert.Equal(t, "waiting", status)
}

func TestEnqueue_IsIdempotent(t *testing.T) {
	p, matched := newTestPool(t)

	p.Enqueue(identity.Player{ID: 1, DisplayName: "Alice", Level: 3}, "en")
	p.Enqueue(identity.Player{ID: 1, DisplayName: "Alice", Level: 3}, "de")
	p.Enqueue(identity.Player{ID: 2, DisplayName: "Bob", Level: 5}, "de")

	assert.Len(t, *matched, 0)
}

func TestDequeue_RemovesWaitingPlayer(t *testing.T) {
	p, matched := newTestPool(t)

	p.Enqueue(identity.Player{ID: 1, DisplayName: "Alice", Level: 3}, "en")
	p.Dequeue(1)
	p.Enqueue(identity.Player{ID: 2, DisplayName: "Bob", Level: 5}, "en")

	assert.Len(t, *matched, 0)
	_, _, ok := p.PollStatus(1)
	assert.False(t, ok)
}

func TestAgeOutOne_PairsLoneWaiterWithBot(t *testing.T) {
	p, matched := newTestPool(t)

	p.Enqueue(identity.Player{ID: 1, DisplayName: "Alice", Level: 10}, "en")
	assert.Len(t, *matched, 0)

	created := p.AgeOutOne(context.Background(), time.Now().Add(time.Hour), 15*time.Second)
	require.Len(t, created, 1)
	require.Len(t, *matched, 1)

	s := created[0]
	assert.True(t, s.IsBotGame)

	status, r, ok := p.PollStatus(1)
	require.True(t, ok)
	assert.Equal(t, "matched", status)
	assert.Equal(t, "Botling", r.OpponentName)
	assert.GreaterOrEqual(t, r.OpponentLevel, 1)
}

func TestAgeOutOne_SkipsRecentWaiters(t *testing.T) {
	p, matched := newTestPool(t)

	p.Enqueue(identity.Player{ID: 1, DisplayName: "Alice", Level: 10}, "en")
	created := p.AgeOutOne(context.Background(), time.Now(), 15*time.Second)
	assert.Len(t, created, 0)
	assert.Len(t, *matched, 0)
}
