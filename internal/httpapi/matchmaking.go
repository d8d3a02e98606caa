// Package httpapi implements the plain HTTP surface of spec.md §6: the
// matchmaking polling endpoints that sit alongside the websocket route.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hmcalister/wordduel-server/internal/identity"
	"github.com/hmcalister/wordduel-server/internal/matchmaking"
)

// MatchmakingAPI wires GET /find and POST /cancel to a Pool (spec.md §6
// "Matchmaking polling"). Both require an authenticated caller.
type MatchmakingAPI struct {
	pool     *matchmaking.Pool
	identity identity.Collaborator
}

func NewMatchmakingAPI(pool *matchmaking.Pool, identityColl identity.Collaborator) *MatchmakingAPI {
	return &MatchmakingAPI{pool: pool, identity: identityColl}
}

func (a *MatchmakingAPI) authenticate(r *http.Request) (identity.Player, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return identity.Player{}, false
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" {
		return identity.Player{}, false
	}
	player, err := a.identity.Authenticate(r.Context(), token)
	if err != nil {
		return identity.Player{}, false
	}
	return player, true
}

type findResponse struct {
	Status             string `json:"status"`
	GameID             string `json:"game_id,omitempty"`
	Language           string `json:"language,omitempty"`
	OpponentName       string `json:"opponent_name,omitempty"`
	OpponentLevel      int    `json:"opponent_level,omitempty"`
	Player1ID          int64  `json:"player1_id,omitempty"`
	Player2ID          int64  `json:"player2_id,omitempty"`
	YourPlayerIDInGame int64  `json:"your_player_id_in_game,omitempty"`
}

// Find implements "GET /find?requested_language=<bcp47>" (spec.md §6). The
// first call for a given player enqueues it; subsequent polls just report
// status, matching the Pool's own Enqueue idempotency.
func (a *MatchmakingAPI) Find(w http.ResponseWriter, r *http.Request) {
	player, ok := a.authenticate(r)
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	language := r.URL.Query().Get("requested_language")
	if language == "" {
		writeJSON(w, http.StatusBadRequest, findResponse{Status: "error"})
		return
	}

	a.pool.Enqueue(player, language)

	status, result, ok := a.pool.PollStatus(player.ID)
	if !ok && status != "waiting" {
		writeJSON(w, http.StatusOK, findResponse{Status: "error"})
		return
	}

	if status != "matched" {
		writeJSON(w, http.StatusOK, findResponse{Status: status})
		return
	}

	writeJSON(w, http.StatusOK, findResponse{
		Status:             status,
		GameID:             result.GameID,
		Language:           result.Language,
		OpponentName:       result.OpponentName,
		OpponentLevel:      result.OpponentLevel,
		Player1ID:          int64(result.Player1ID),
		Player2ID:          int64(result.Player2ID),
		YourPlayerIDInGame: int64(result.YourPlayerID),
	})
}

// Cancel implements "POST /cancel" (spec.md §6): removes the caller from
// the pool.
func (a *MatchmakingAPI) Cancel(w http.ResponseWriter, r *http.Request) {
	player, ok := a.authenticate(r)
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	a.pool.Dequeue(player.ID)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
