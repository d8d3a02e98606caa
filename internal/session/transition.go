package session

import (
	"context"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"

	"github.com/hmcalister/wordduel-server/internal/config"
	"github.com/hmcalister/wordduel-server/internal/content"
	"github.com/hmcalister/wordduel-server/internal/domain"
	"github.com/hmcalister/wordduel-server/internal/identity"
	"github.com/hmcalister/wordduel-server/internal/metrics"
	"github.com/hmcalister/wordduel-server/internal/oracle"
)

// Validator is the subset of the Validation Oracle Client's contract
// (spec.md §4.A) the Session State Machine depends on, narrowed so tests can
// supply a fake without a network-backed oracle.Client.
type Validator interface {
	Validate(ctx context.Context, word string, promptID int64, target, promptText, sentence, language string) (oracle.Result, int64, error)
}

// Engine is the Session State Machine of spec.md §4.E. Every method expects
// the caller to already hold s.Mu; the lock must stay held across the
// oracle and content calls a transition makes so that event ordering is
// total per session (spec.md §5 "Suspension points").
type Engine struct {
	Content  content.Provider
	Oracle   Validator
	Identity identity.Collaborator
	Game     config.GameConfig
	XP       config.XPConfig
	Metrics  *metrics.Counters

	sanitizer *bluemonday.Policy
}

// NewEngine builds an Engine from its collaborators.
func NewEngine(contentP content.Provider, oracleC Validator, identityC identity.Collaborator, game config.GameConfig, xp config.XPConfig, counters *metrics.Counters) *Engine {
	return &Engine{
		Content:   contentP,
		Oracle:    oracleC,
		Identity:  identityC,
		Game:      game,
		XP:        xp,
		Metrics:   counters,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// Init implements spec.md §4.E "Init": the Connection Manager's "both
// players present" trigger, fired exactly once while status is matched.
func (e *Engine) Init(ctx context.Context, s *domain.Session) []Event {
	if s.Status != domain.StatusMatched {
		return nil
	}

	prompt, err := e.Content.RandomPrompt(ctx, s.Language)
	if err != nil || prompt == nil {
		s.Status = domain.StatusErrorContentLoad
		log.Error().Err(err).Str("game_id", s.GameID).Str("language", s.Language).Msg("session: no prompt available at init")
		return []Event{broadcastEvent(EventErrorBroadcast, map[string]interface{}{
			"message": "no prompts available for this language",
		})}
	}

	gameDBID, err := e.Content.CreateGame(ctx, s.GameID, s.PlayerOrder[0], s.PlayerOrder[1], s.Language)
	if err != nil {
		log.Error().Err(err).Str("game_id", s.GameID).Msg("session: failed to persist game record, continuing in memory")
	}
	s.GameDBID = gameDBID

	s.Prompt = prompt
	s.MaxRounds = e.Game.MaxRounds
	s.MaxMistakes = e.Game.MaxMistakes
	s.CurrentRound = 1
	s.ResetRoundState()
	s.CurrentPlayerID = s.StarterForRound(s.CurrentRound)
	s.Status = domain.StatusWaitingForReady

	return []Event{broadcastEvent(EventGameSetupReady, e.setupPayload(s))}
}

// Transition implements spec.md §4.E's inbound-action dispatch table,
// rejecting actions that arrive in an illegal status or out of turn with a
// single targeted error event (spec.md §7 "Client protocol errors").
func (e *Engine) Transition(ctx context.Context, s *domain.Session, actingPlayer domain.PlayerID, action Action) []Event {
	switch a := action.(type) {
	case ClientReady:
		if s.Status != domain.StatusWaitingForReady {
			return []Event{errorToPlayer(actingPlayer, "game is not awaiting ready")}
		}
		return e.clientReady(s, actingPlayer)

	case SubmitWord:
		if s.Status != domain.StatusInProgress || actingPlayer != s.CurrentPlayerID {
			return []Event{errorToPlayer(actingPlayer, "not your turn")}
		}
		return e.submitWord(ctx, s, actingPlayer, a.Word)

	case Timeout:
		if s.Status != domain.StatusInProgress || actingPlayer != s.CurrentPlayerID {
			return []Event{errorToPlayer(actingPlayer, "not your turn")}
		}
		return e.timeout(ctx, s, actingPlayer)

	case SendEmoji:
		if isTerminal(s.Status) {
			return []Event{errorToPlayer(actingPlayer, "game has ended")}
		}
		return e.sendEmoji(ctx, s, actingPlayer, a.Emoji)

	default:
		return []Event{errorToPlayer(actingPlayer, "unknown action")}
	}
}

func isTerminal(status domain.Status) bool {
	return status.IsTerminal()
}

func errorToPlayer(player domain.PlayerID, message string) Event {
	return targetEvent(EventErrorToPlayer, player, map[string]interface{}{"message": message})
}

// clientReady implements spec.md §4.E "client_ready".
func (e *Engine) clientReady(s *domain.Session, player domain.PlayerID) []Event {
	s.ReadyPlayerIDs[player] = struct{}{}
	if len(s.ReadyPlayerIDs) < s.RequiredReadyCount() {
		return nil
	}

	s.Status = domain.StatusInProgress
	s.CurrentPlayerID = s.StarterForRound(s.CurrentRound)
	s.TurnDeadlineAt = time.Now().Add(e.Game.TurnDuration())

	return []Event{broadcastEvent(EventRoundStarted, map[string]interface{}{
		"round":                 s.CurrentRound,
		"current_player_id":     s.CurrentPlayerID,
		"last_action_timestamp": time.Now(),
		"turn_duration_seconds": e.Game.TurnDurationSeconds,
	})}
}

// submitWord implements spec.md §4.E "submit_word".
func (e *Engine) submitWord(ctx context.Context, s *domain.Session, player domain.PlayerID, rawWord string) []Event {
	word := strings.ToLower(strings.TrimSpace(rawWord))
	state := s.Players[player]
	opponent := s.Opponent(player)

	if _, alreadyPlayed := s.WordsPlayedThisRoundAll[word]; alreadyPlayed {
		state.MistakesInRound++
		s.WordsPlayedThisRoundAll[word] = struct{}{}
		s.ConsecutiveTimeouts = 0

		events := []Event{targetEvent(EventValidationResult, player, map[string]interface{}{
			"word":    word,
			"is_valid": false,
			"message":  "already played",
		})}
		if state.MistakesInRound >= s.MaxMistakes {
			events = append(events, e.roundEnd(ctx, s, &player, domain.ReasonRepeatedWordMaxMistakes)...)
		}
		return events
	}

	result, latencyMS, err := e.Oracle.Validate(ctx, word, s.Prompt.ID, s.Prompt.TargetWord, s.Prompt.PromptText, s.Prompt.Sentence, s.Language)
	if err != nil {
		result = oracle.Result{IsValid: false, CreativityScore: 0, Reason: "Validator unavailable"}
	}

	if !result.FromCache {
		e.Content.LogSubmission(ctx, domain.SubmissionRecord{
			GameID:              s.GameID,
			Round:               s.CurrentRound,
			Player:              player,
			PromptID:            s.Prompt.ID,
			SubmittedWord:       word,
			IsValid:             result.IsValid,
			CreativityScore:     result.CreativityScore,
			Reason:              result.Reason,
			ValidationLatencyMS: latencyMS,
			CreatedAt:           time.Now(),
		})
	}

	if result.IsValid {
		state.WordsPlayed = append(state.WordsPlayed, word)
		state.AcceptedWordsInRound++
		s.WordsPlayedThisRoundAll[word] = struct{}{}
		s.ConsecutiveTimeouts = 0

		s.CurrentPlayerID = opponent
		s.TurnDeadlineAt = time.Now().Add(e.Game.TurnDuration())

		return []Event{
			targetEvent(EventValidationResult, player, map[string]interface{}{
				"word":             word,
				"is_valid":         true,
				"creativity_score": result.CreativityScore,
			}),
			targetEvent(EventOpponentTurnEnded, opponent, map[string]interface{}{
				"opponent_player_id":   player,
				"opponent_played_word": word,
				"creativity_score":     result.CreativityScore,
				"current_player_id":    opponent,
			}),
		}
	}

	state.MistakesInRound++
	events := []Event{
		targetEvent(EventValidationResult, player, map[string]interface{}{
			"word":     word,
			"is_valid": false,
			"message":  e.sanitizer.Sanitize(result.Reason),
		}),
		targetEvent(EventOpponentMistake, opponent, map[string]interface{}{
			"player_id": player,
			"mistakes":  state.MistakesInRound,
		}),
	}
	if state.MistakesInRound >= s.MaxMistakes {
		events = append(events, e.roundEnd(ctx, s, &player, domain.ReasonInvalidWordMaxMistakes)...)
	}
	return events
}

// timeout implements spec.md §4.E "timeout".
func (e *Engine) timeout(ctx context.Context, s *domain.Session, player domain.PlayerID) []Event {
	state := s.Players[player]
	s.ConsecutiveTimeouts++
	state.MistakesInRound++

	if s.ConsecutiveTimeouts >= domain.MaxConsecutiveTimeouts {
		p1, p2 := s.PlayerOrder[0], s.PlayerOrder[1]
		a, b := s.Players[p1].AcceptedWordsInRound, s.Players[p2].AcceptedWordsInRound
		var loser *domain.PlayerID
		switch {
		case a < b:
			loser = playerIDPtr(p1)
		case b < a:
			loser = playerIDPtr(p2)
		default:
			loser = nil
		}
		return e.roundEnd(ctx, s, loser, domain.ReasonDoubleTimeout)
	}

	if state.MistakesInRound >= s.MaxMistakes {
		return e.roundEnd(ctx, s, &player, domain.ReasonTimeoutMaxMistakes)
	}

	opponent := s.Opponent(player)
	s.CurrentPlayerID = opponent
	s.TurnDeadlineAt = time.Now().Add(e.Game.TurnDuration())

	return []Event{broadcastEvent(EventTimeout, map[string]interface{}{
		"player_id":         player,
		"current_player_id": opponent,
	})}
}

// sendEmoji implements spec.md §4.E "send_emoji".
func (e *Engine) sendEmoji(ctx context.Context, s *domain.Session, player domain.PlayerID, emoji string) []Event {
	opponent := s.Opponent(player)
	e.Content.IncrementEmojis(ctx, s.GameDBID, player)
	return []Event{targetEvent(EventEmojiBroadcast, opponent, map[string]interface{}{
		"sender_id": player,
		"emoji":     e.sanitizer.Sanitize(emoji),
	})}
}

// roundEnd implements spec.md §4.E "Round-end". loser == nil means a draw.
func (e *Engine) roundEnd(ctx context.Context, s *domain.Session, loser *domain.PlayerID, reason domain.EndReason) []Event {
	if loser != nil {
		winner := s.Opponent(*loser)
		s.Players[winner].Score++
		e.grantXP(ctx, winner, e.XP.RoundWin, identity.XPRoundWin)
		e.grantXP(ctx, *loser, e.XP.RoundLoss, identity.XPRoundLoss)
	} else {
		for _, p := range s.PlayerOrder {
			e.grantXP(ctx, p, e.XP.RoundDraw, identity.XPRoundDraw)
		}
	}

	for _, p := range s.PlayerOrder {
		e.Content.UpdateScore(ctx, s.GameDBID, p, s.Players[p].Score)
	}

	if e.isGameOver(s) {
		return e.finishGame(ctx, s, reason)
	}
	return e.nextRound(ctx, s, loser, reason)
}

// isGameOver implements spec.md §4.E's game-over check: a side clinches the
// game the moment it reaches rounds_needed_to_win = max_rounds/2 + 1, the
// same floor-division threshold original_source/app/services/game_service.py
// computes, matching spec §8 scenario #1's "ends once one side reaches 2
// wins" for the default best-of-3.
func (e *Engine) isGameOver(s *domain.Session) bool {
	threshold := s.MaxRounds/2 + 1
	p1, p2 := s.PlayerOrder[0], s.PlayerOrder[1]
	if s.Players[p1].Score >= threshold || s.Players[p2].Score >= threshold {
		return true
	}
	return s.CurrentRound >= s.MaxRounds
}

// finishGame implements the terminal branch of spec.md §4.E's game-over
// check.
func (e *Engine) finishGame(ctx context.Context, s *domain.Session, reason domain.EndReason) []Event {
	p1, p2 := s.PlayerOrder[0], s.PlayerOrder[1]
	score1, score2 := s.Players[p1].Score, s.Players[p2].Score

	var winner *domain.PlayerID
	switch {
	case score1 > score2:
		winner = playerIDPtr(p1)
	case score2 > score1:
		winner = playerIDPtr(p2)
	}

	if winner != nil {
		loser := s.Opponent(*winner)
		e.grantXP(ctx, *winner, e.XP.GameWin, identity.XPGameWin)
		e.grantXP(ctx, loser, e.XP.GameLoss, identity.XPGameLoss)
	} else {
		for _, p := range s.PlayerOrder {
			e.grantXP(ctx, p, e.XP.GameDraw, identity.XPGameDraw)
		}
	}

	s.Status = domain.StatusFinished
	s.WinnerUserID = winner
	e.Content.FinalizeGame(ctx, s.GameDBID, winner, domain.StatusFinished, reason)

	return []Event{broadcastEvent(EventGameOver, map[string]interface{}{
		"game_winner_id":       winner,
		"player1_final_score":  score1,
		"player2_final_score":  score2,
		"reason":               reason,
	})}
}

// nextRound implements the non-terminal branch of spec.md §4.E's game-over
// check.
func (e *Engine) nextRound(ctx context.Context, s *domain.Session, loser *domain.PlayerID, reason domain.EndReason) []Event {
	var roundWinner *domain.PlayerID
	if loser != nil {
		roundWinner = playerIDPtr(s.Opponent(*loser))
	}

	s.CurrentRound++
	s.ResetRoundState()

	prompt, err := e.Content.RandomPrompt(ctx, s.Language)
	if err != nil || prompt == nil {
		s.Status = domain.StatusErrorContentLoad
		log.Error().Err(err).Str("game_id", s.GameID).Msg("session: no prompt available for next round")
		return []Event{broadcastEvent(EventErrorBroadcast, map[string]interface{}{
			"message": "no prompts available for this language",
		})}
	}
	s.Prompt = prompt
	s.Status = domain.StatusWaitingForReady

	return []Event{broadcastEvent(EventNewRoundStarted, map[string]interface{}{
		"new_round_number":          s.CurrentRound,
		"round_winner_id":           roundWinner,
		"previous_round_end_reason": reason,
		"player1_state":             playerStatePayload(s.Players[s.PlayerOrder[0]]),
		"player2_state":             playerStatePayload(s.Players[s.PlayerOrder[1]]),
		"sentence":                  prompt.Sentence,
		"prompt":                    prompt.PromptText,
		"word_to_replace":           prompt.TargetWord,
		"game_status":               s.Status,
	})}
}

// Disconnect implements spec.md §4.E "Player disconnect" and §8's boundary
// behavior that a disconnect in matched (pre-ready) is handled the same way.
func (e *Engine) Disconnect(ctx context.Context, s *domain.Session, disconnected domain.PlayerID) []Event {
	if isTerminal(s.Status) {
		return nil
	}

	winner := s.Opponent(disconnected)
	e.grantXP(ctx, winner, e.XP.ForfeitWin, identity.XPForfeitWin)

	s.Status = domain.StatusAbandonedByPlayer
	s.WinnerUserID = &winner
	e.Content.FinalizeGame(ctx, s.GameDBID, &winner, domain.StatusAbandonedByPlayer, domain.ReasonOpponentDisconnected)

	return []Event{
		targetEvent(EventPlayerDisconnectedInform, winner, map[string]interface{}{
			"player_id":      disconnected,
			"game_winner_id": winner,
		}),
		targetEvent(EventGameOver, winner, map[string]interface{}{
			"game_winner_id":      winner,
			"player1_final_score": s.Players[s.PlayerOrder[0]].Score,
			"player2_final_score": s.Players[s.PlayerOrder[1]].Score,
			"reason":              domain.ReasonOpponentDisconnected,
		}),
	}
}

// grantXP is a thin best-effort wrapper: identity failures are logged only,
// matching spec.md §4.C's "fire-and-best-effort" treatment for the sibling
// persistence collaborator.
func (e *Engine) grantXP(ctx context.Context, player domain.PlayerID, amount int, reason identity.XPReason) {
	if err := e.Identity.GrantXP(ctx, player, amount, reason); err != nil {
		log.Warn().Err(err).Int64("player", int64(player)).Str("reason", string(reason)).Msg("session: grant xp failed")
	}
}

func playerStatePayload(p *domain.PlayerState) map[string]interface{} {
	return map[string]interface{}{
		"score":              p.Score,
		"mistakes_in_round":  p.MistakesInRound,
		"words_played":       p.WordsPlayed,
		"is_bot":             p.IsBot,
		"level":              p.Level,
		"display_name":       p.DisplayName,
	}
}

// setupPayload builds the game_setup_ready payload of spec.md §6. Snapshot
// reuses it verbatim with an added game_active field (spec.md: "identical
// shape to setup_ready + game_active").
func (e *Engine) setupPayload(s *domain.Session) map[string]interface{} {
	return map[string]interface{}{
		"game_id":               s.GameID,
		"language":              s.Language,
		"sentence":              s.Prompt.Sentence,
		"prompt":                s.Prompt.PromptText,
		"word_to_replace":       s.Prompt.TargetWord,
		"round":                 s.CurrentRound,
		"player1_server_id":     s.PlayerOrder[0],
		"player2_server_id":     s.PlayerOrder[1],
		"player1_state":         playerStatePayload(s.Players[s.PlayerOrder[0]]),
		"player2_state":         playerStatePayload(s.Players[s.PlayerOrder[1]]),
		"current_player_id":     s.CurrentPlayerID,
		"max_rounds":            s.MaxRounds,
		"turn_duration_seconds": e.Game.TurnDurationSeconds,
		"game_status":           s.Status,
	}
}

// Snapshot builds the game_state_reconnect payload of spec.md §6 for a
// player (re)joining an in-flight game.
func (e *Engine) Snapshot(s *domain.Session) map[string]interface{} {
	payload := e.setupPayload(s)
	payload["game_active"] = s.Status == domain.StatusInProgress || s.Status == domain.StatusWaitingForReady
	return payload
}
