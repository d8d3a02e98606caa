// Package matchmaking implements the Matchmaking Pool of spec.md §4.D:
// language-partitioned waiting queues, FIFO pairing of two humans, and
// bot-fallback pairing after a grace period.
package matchmaking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/rand"

	"github.com/hmcalister/wordduel-server/internal/config"
	"github.com/hmcalister/wordduel-server/internal/domain"
	"github.com/hmcalister/wordduel-server/internal/identity"
	"github.com/hmcalister/wordduel-server/internal/metrics"
)

// entry is one waiting player, FIFO-ordered within its language bucket.
type entry struct {
	player     identity.Player
	enqueuedAt time.Time
}

// MatchResult is what GET /find (spec.md §6) reports back to a matched
// player.
type MatchResult struct {
	GameID        string
	Language      string
	Player1ID     domain.PlayerID
	Player2ID     domain.PlayerID
	YourPlayerID  domain.PlayerID
	OpponentName  string
	OpponentLevel int
}

// Pool holds the language-bucketed waiting queues behind a single mutex
// (spec.md §5: "guarded by a single mutex; operations are O(queue length)").
type Pool struct {
	mu       sync.Mutex
	waiting  map[string][]entry
	byPlayer map[domain.PlayerID]string // playerID -> language bucket it's waiting in
	results  map[domain.PlayerID]MatchResult

	identity identity.Collaborator
	cfg      config.GameConfig
	rng      *rand.Rand
	metrics  *metrics.Counters

	onMatch func(*domain.Session)
}

// New builds a Pool. onMatch is invoked (outside the pool's lock) every time
// two players — human or human+bot — are paired into a new Session.
func New(cfg config.GameConfig, identityColl identity.Collaborator, counters *metrics.Counters, seed int64, onMatch func(*domain.Session)) *Pool {
	return &Pool{
		waiting:  make(map[string][]entry),
		byPlayer: make(map[domain.PlayerID]string),
		results:  make(map[domain.PlayerID]MatchResult),
		identity: identityColl,
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(seed)),
		metrics:  counters,
		onMatch:  onMatch,
	}
}

// Enqueue adds player to its language bucket. It is idempotent across all
// language buckets (spec.md §4.D: "scans all buckets first to detect
// double-enqueue") and immediately attempts to pair the bucket.
func (p *Pool) Enqueue(player identity.Player, language string) {
	p.mu.Lock()
	if _, already := p.byPlayer[player.ID]; already {
		p.mu.Unlock()
		return
	}
	if _, matched := p.results[player.ID]; matched {
		p.mu.Unlock()
		return
	}

	p.waiting[language] = append(p.waiting[language], entry{player: player, enqueuedAt: time.Now()})
	p.byPlayer[player.ID] = language
	p.updateQueueDepthLocked()

	session := p.tryMatchBucketLocked(language)
	p.mu.Unlock()

	if session != nil {
		p.onMatch(session)
	}
}

// Dequeue removes player from whichever bucket holds it. Idempotent.
func (p *Pool) Dequeue(playerID domain.PlayerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	lang, ok := p.byPlayer[playerID]
	if !ok {
		return
	}
	bucket := p.waiting[lang]
	for i, e := range bucket {
		if e.player.ID == playerID {
			p.waiting[lang] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	delete(p.byPlayer, playerID)
	p.updateQueueDepthLocked()
}

// PollStatus implements the GET /find response shape of spec.md §6.
func (p *Pool) PollStatus(playerID domain.PlayerID) (status string, result MatchResult, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, matched := p.results[playerID]; matched {
		return "matched", r, true
	}
	if _, waiting := p.byPlayer[playerID]; waiting {
		return "waiting", MatchResult{}, false
	}
	return "error", MatchResult{}, false
}

// tryMatchBucketLocked implements spec.md §4.D TryMatch for a single
// language bucket: pop two in FIFO order, create a Session in "matched".
// Caller holds p.mu.
func (p *Pool) tryMatchBucketLocked(language string) *domain.Session {
	bucket := p.waiting[language]
	if len(bucket) < 2 {
		return nil
	}
	first, second := bucket[0], bucket[1]
	p.waiting[language] = bucket[2:]
	delete(p.byPlayer, first.player.ID)
	delete(p.byPlayer, second.player.ID)
	p.updateQueueDepthLocked()

	return p.createHumanSessionLocked(language, first.player, second.player)
}

func (p *Pool) createHumanSessionLocked(language string, p1, p2 identity.Player) *domain.Session {
	gameID := uuid.NewString()

	p1State := &domain.PlayerState{Level: p1.Level, DisplayName: p1.DisplayName}
	p2State := &domain.PlayerState{Level: p2.Level, DisplayName: p2.DisplayName}
	s := domain.NewSession(gameID, language, p1.ID, p2.ID, p1State, p2State)

	p.results[p1.ID] = MatchResult{
		GameID: gameID, Language: language,
		Player1ID: p1.ID, Player2ID: p2.ID, YourPlayerID: p1.ID,
		OpponentName: p2.DisplayName, OpponentLevel: p2.Level,
	}
	p.results[p2.ID] = MatchResult{
		GameID: gameID, Language: language,
		Player1ID: p1.ID, Player2ID: p2.ID, YourPlayerID: p2.ID,
		OpponentName: p1.DisplayName, OpponentLevel: p1.Level,
	}

	log.Info().Str("game_id", gameID).Str("language", language).
		Int64("p1", int64(p1.ID)).Int64("p2", int64(p2.ID)).Msg("matchmaking: human pair created")
	return s
}

// AgeOutOne implements spec.md §4.D: for each bucket holding exactly one
// entry older than grace, pop it and pair it with a bot.
func (p *Pool) AgeOutOne(ctx context.Context, now time.Time, grace time.Duration) []*domain.Session {
	p.mu.Lock()
	var created []*domain.Session
	for language, bucket := range p.waiting {
		if len(bucket) != 1 {
			continue
		}
		if now.Sub(bucket[0].enqueuedAt) < grace {
			continue
		}
		human := bucket[0].player
		p.waiting[language] = nil
		delete(p.byPlayer, human.ID)
		p.updateQueueDepthLocked()

		s := p.pairWithBotLocked(ctx, language, human)
		if s != nil {
			created = append(created, s)
		}
	}
	p.mu.Unlock()

	for _, s := range created {
		p.onMatch(s)
	}
	return created
}

// pairWithBotLocked implements spec.md §4.D "Bot pairing". Caller holds p.mu.
func (p *Pool) pairWithBotLocked(ctx context.Context, language string, human identity.Player) *domain.Session {
	botBase, err := p.identity.GetSingletonBotUser(ctx)
	if err != nil {
		log.Error().Err(err).Msg("matchmaking: failed to resolve bot user")
		return nil
	}

	botName := p.identity.RandomBotName(language)

	offset := p.rng.Intn(11) - 5 // uniform[-5,+5]
	botLevel := human.Level + offset
	if botLevel < 1 {
		botLevel = 1
	}

	bot := identity.Player{ID: botBase.ID, DisplayName: botName, Level: botLevel, IsBot: true}

	gameID := uuid.NewString()
	humanState := &domain.PlayerState{Level: human.Level, DisplayName: human.DisplayName}
	botState := &domain.PlayerState{Level: bot.Level, DisplayName: bot.DisplayName, IsBot: true}

	// Randomize player_order — the bot may start (spec.md §4.D).
	var s *domain.Session
	if p.rng.Intn(2) == 0 {
		s = domain.NewSession(gameID, language, human.ID, bot.ID, humanState, botState)
	} else {
		s = domain.NewSession(gameID, language, bot.ID, human.ID, botState, humanState)
	}
	s.IsBotGame = true

	p.results[human.ID] = MatchResult{
		GameID: gameID, Language: language,
		Player1ID: s.PlayerOrder[0], Player2ID: s.PlayerOrder[1], YourPlayerID: human.ID,
		OpponentName: bot.DisplayName, OpponentLevel: bot.Level,
	}

	log.Info().Str("game_id", gameID).Str("language", language).
		Int64("human", int64(human.ID)).Str("bot_name", bot.DisplayName).Int("bot_level", bot.Level).
		Msg("matchmaking: aged out into bot game")
	return s
}

func (p *Pool) updateQueueDepthLocked() {
	if p.metrics == nil {
		return
	}
	var total int64
	for _, bucket := range p.waiting {
		total += int64(len(bucket))
	}
	p.metrics.SetQueueDepth(total)
}

// RunAgeOutSweep runs AgeOutOne on a fixed interval until ctx is cancelled,
// per spec.md §4.D's closing paragraph. It is meant to run as a goroutine
// started once at server boot.
func (p *Pool) RunAgeOutSweep(ctx context.Context) {
	interval := p.cfg.AgeOutSweepInterval()
	grace := p.cfg.AgeOutGrace()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			created := p.AgeOutOne(ctx, now, grace)
			if len(created) > 0 {
				log.Debug().Int("count", len(created)).Msg("matchmaking: age-out sweep paired bot games")
			}
		}
	}
}
