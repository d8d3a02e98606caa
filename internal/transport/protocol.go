// Package transport implements the Connection Manager of spec.md §4.G: the
// websocket handshake, the active-connections registry, and the read
// loop that turns inbound frames into session.Action values.
package transport

import (
	"encoding/json"
	"fmt"

	"github.com/hmcalister/wordduel-server/internal/session"
)

// InboundMessage is the client→server envelope of spec.md §6: {"action_type":
// str, "payload": object}.
type InboundMessage struct {
	ActionType string          `json:"action_type"`
	Payload    json.RawMessage `json:"payload"`
}

// OutboundMessage is the server→client envelope: {"type": str, "payload":
// object}.
type OutboundMessage struct {
	Type    session.EventType      `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

type submitWordPayload struct {
	Word string `json:"word"`
}

type sendEmojiPayload struct {
	Emoji string `json:"emoji"`
}

// decodeAction turns an InboundMessage into a session.Action, per the
// inbound action_type set of spec.md §6: client_ready, submit_word,
// timeout, send_emoji.
func decodeAction(msg InboundMessage) (session.Action, error) {
	switch msg.ActionType {
	case "client_ready":
		return session.ClientReady{}, nil
	case "submit_word":
		var p submitWordPayload
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				return nil, fmt.Errorf("malformed submit_word payload: %w", err)
			}
		}
		return session.SubmitWord{Word: p.Word}, nil
	case "timeout":
		return session.Timeout{}, nil
	case "send_emoji":
		var p sendEmojiPayload
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				return nil, fmt.Errorf("malformed send_emoji payload: %w", err)
			}
		}
		return session.SendEmoji{Emoji: p.Emoji}, nil
	default:
		return nil, fmt.Errorf("unknown action_type: %s", msg.ActionType)
	}
}

func infoMessage(eventType session.EventType, message string) OutboundMessage {
	return OutboundMessage{Type: eventType, Payload: map[string]interface{}{"message": message}}
}
