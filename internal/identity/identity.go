// Package identity defines the identity/credential collaborator contract
// that spec.md §1 places out of scope for this core, and a minimal in-memory
// implementation used by tests and local runs. A real deployment swaps in an
// implementation backed by whatever user store/OAuth verifier the rest of
// the product uses.
package identity

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/exp/rand"

	"github.com/hmcalister/wordduel-server/internal/domain"
)

// ErrAuthFailed is returned by Authenticate when the bearer token does not
// resolve to a player (spec.md §6, §7 "Authentication failure on handshake").
var ErrAuthFailed = errors.New("identity: authentication failed")

// Player is the stable handle spec.md §3 describes: "Not owned by the core;
// supplied by the identity collaborator on session open."
type Player struct {
	ID          domain.PlayerID
	DisplayName string
	Level       int
	IsBot       bool
}

// XPReason documents why XP was granted, for logging only.
type XPReason string

const (
	XPRoundWin   XPReason = "round_win"
	XPRoundLoss  XPReason = "round_loss"
	XPRoundDraw  XPReason = "round_draw"
	XPGameWin    XPReason = "game_win"
	XPGameLoss   XPReason = "game_loss"
	XPGameDraw   XPReason = "game_draw"
	XPForfeitWin XPReason = "forfeit_win"
)

// Collaborator is the contract spec.md §6 names: Authenticate, a singleton
// bot user, and XP grants, plus the per-language bot display-name draw
// spec.md §4.D "Bot pairing" requires of whatever resolves the bot user.
type Collaborator interface {
	Authenticate(ctx context.Context, token string) (Player, error)
	GetSingletonBotUser(ctx context.Context) (Player, error)
	RandomBotName(language string) string
	GrantXP(ctx context.Context, playerID domain.PlayerID, amount int, reason XPReason) error
}

// InMemory is a fake identity collaborator: tokens are pre-registered player
// records, grantXP calls are only counted. It exists so the rest of the core
// can be exercised and tested without a real auth service.
type InMemory struct {
	mu           sync.Mutex
	byToken      map[string]Player
	botNames     map[string][]string // language -> candidate display names
	botUser      Player
	rng          *rand.Rand
	xpGrantCount int
}

// NewInMemory builds a fake collaborator. botNamesByLanguage supplies the
// per-language bot display-name lists spec.md §4.D and §6 call for.
func NewInMemory(seed int64, botNamesByLanguage map[string][]string) *InMemory {
	return &InMemory{
		byToken:  make(map[string]Player),
		botNames: botNamesByLanguage,
		botUser:  Player{ID: -1, DisplayName: "Word Bot", Level: 10, IsBot: true},
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Register makes a token resolve to a given player; used by tests and by
// whatever bootstrap wires real sessions into this fake.
func (m *InMemory) Register(token string, p Player) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byToken[token] = p
}

func (m *InMemory) Authenticate(_ context.Context, token string) (Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byToken[token]
	if !ok {
		return Player{}, ErrAuthFailed
	}
	return p, nil
}

// GetSingletonBotUser returns the singleton bot record as stored (display
// name "Word Bot", level 10); it does not randomize the name. The
// language-specific display name comes from RandomBotName, and the caller
// applies the level offset; this method only resolves the base identity.
func (m *InMemory) GetSingletonBotUser(_ context.Context) (Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botUser, nil
}

// RandomBotName draws a display name for language, falling back to the base
// bot name if no list is configured for that language.
func (m *InMemory) RandomBotName(language string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := m.botNames[language]
	if len(names) == 0 {
		return m.botUser.DisplayName
	}
	return names[m.rng.Intn(len(names))]
}

func (m *InMemory) GrantXP(_ context.Context, playerID domain.PlayerID, amount int, reason XPReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.xpGrantCount++
	log.Debug().Int64("player", int64(playerID)).Int("amount", amount).Str("reason", string(reason)).Msg("identity: xp granted")
	return nil
}

// XPGrantCount reports how many GrantXP calls have been made; exposed for
// tests asserting the engine granted XP on round/game end.
func (m *InMemory) XPGrantCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.xpGrantCount
}
