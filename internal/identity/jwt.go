package identity

import (
	"context"
	"errors"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/exp/rand"

	"github.com/hmcalister/wordduel-server/internal/domain"
)

// Claims is the payload a real identity/credential service signs into the
// bearer token the socket handshake and /find carry (spec.md §6
// "Authentication: bearer token carried as a URL query parameter"). The
// server never issues these tokens itself — it only verifies them, the same
// split the teacher's checkRequestFromOracle draws between minting and
// checking a JWT.
type Claims struct {
	jwt.RegisteredClaims
	PlayerID    int64  `json:"player_id"`
	DisplayName string `json:"display_name"`
	Level       int    `json:"level"`
}

// JWTAuthenticator is a Collaborator whose Authenticate verifies an
// HMAC-signed JWT rather than looking tokens up in a map, grounded on
// game.go's checkRequestFromOracle (jwt.ParseWithClaims against a shared
// signing key). GetSingletonBotUser/GrantXP keep the same in-memory,
// best-effort behavior as InMemory, since the identity/credential store
// itself is out of scope (spec.md §1) — only the token format is real here.
type JWTAuthenticator struct {
	key []byte

	mu           sync.Mutex
	botNames     map[string][]string
	botUser      Player
	rng          *rand.Rand
	xpGrantCount int
}

// NewJWTAuthenticator builds a JWT-verifying collaborator. key is the shared
// HMAC signing secret (config.ServerConfig.JWTKey).
func NewJWTAuthenticator(key []byte, botNamesByLanguage map[string][]string, seed int64) *JWTAuthenticator {
	return &JWTAuthenticator{
		key:      key,
		botNames: botNamesByLanguage,
		botUser:  Player{ID: -1, DisplayName: "Word Bot", Level: 10, IsBot: true},
		rng:      rand.New(rand.NewSource(seed)),
	}
}

func (j *JWTAuthenticator) Authenticate(_ context.Context, token string) (Player, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("identity: unexpected signing method")
		}
		return j.key, nil
	})
	if err != nil || !parsed.Valid {
		return Player{}, ErrAuthFailed
	}

	return Player{
		ID:          domain.PlayerID(claims.PlayerID),
		DisplayName: claims.DisplayName,
		Level:       claims.Level,
	}, nil
}

func (j *JWTAuthenticator) GetSingletonBotUser(_ context.Context) (Player, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.botUser, nil
}

// RandomBotName draws a display name for language, same contract as
// InMemory.RandomBotName.
func (j *JWTAuthenticator) RandomBotName(language string) string {
	j.mu.Lock()
	defer j.mu.Unlock()
	names := j.botNames[language]
	if len(names) == 0 {
		return j.botUser.DisplayName
	}
	return names[j.rng.Intn(len(names))]
}

func (j *JWTAuthenticator) GrantXP(_ context.Context, _ domain.PlayerID, _ int, _ XPReason) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.xpGrantCount++
	return nil
}
