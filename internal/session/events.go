package session

import "github.com/hmcalister/wordduel-server/internal/domain"

// EventType is one of the outbound wire types of spec.md §6's stable
// contract table.
type EventType string

const (
	EventGameSetupReady           EventType = "game_setup_ready"
	EventRoundStarted             EventType = "round_started"
	EventNewRoundStarted          EventType = "new_round_started"
	EventGameStateReconnect       EventType = "game_state_reconnect"
	EventValidationResult         EventType = "validation_result"
	EventOpponentTurnEnded        EventType = "opponent_turn_ended"
	EventOpponentMistake          EventType = "opponent_mistake"
	EventTimeout                  EventType = "timeout"
	EventEmojiBroadcast           EventType = "emoji_broadcast"
	EventPlayerDisconnectedInform EventType = "player_disconnected_inform"
	EventGameOver                 EventType = "game_over"
	EventErrorToPlayer            EventType = "error_message_to_player"
	EventErrorBroadcast           EventType = "error_message_broadcast"
)

// Event is one outbound message produced by a transition. It carries either
// a TargetPlayerID or Broadcast=true with an optional ExcludePlayerID, never
// both a target and a broadcast (spec.md §4.G "Event fanout rules").
type Event struct {
	Type            EventType
	TargetPlayerID  *domain.PlayerID
	Broadcast       bool
	ExcludePlayerID *domain.PlayerID
	Payload         map[string]interface{}
}

func playerIDPtr(p domain.PlayerID) *domain.PlayerID {
	return &p
}

func targetEvent(t EventType, target domain.PlayerID, payload map[string]interface{}) Event {
	return Event{Type: t, TargetPlayerID: playerIDPtr(target), Payload: payload}
}

func broadcastEvent(t EventType, payload map[string]interface{}) Event {
	return Event{Type: t, Broadcast: true, Payload: payload}
}
