package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/hmcalister/wordduel-server/internal/domain"
	"github.com/hmcalister/wordduel-server/internal/identity"
	"github.com/hmcalister/wordduel-server/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// eventWaitingForOpponent is sent on a fresh socket open in a human-human
// game before the second player has joined (spec.md §4.G step 5).
const eventWaitingForOpponent session.EventType = "waiting_for_opponent"

// wsConn wraps a gorilla connection with the write-serializing mutex every
// concurrent writer (the read loop, the fanout path, the ping loop) must
// hold before calling WriteJSON/WriteMessage.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) writePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// Manager is the Connection Manager of spec.md §4.G: it owns
// active_connections (game_id -> player_id -> socket) and turns inbound
// frames into session.Action values dispatched through the Engine and
// Scheduler, one player-action at a time, always under the session's lock.
type Manager struct {
	mu    sync.Mutex
	conns map[string]map[domain.PlayerID]*wsConn

	registry  *session.Registry
	engine    *session.Engine
	scheduler *session.Scheduler
	identity  identity.Collaborator
}

// NewManager builds a Manager bound to its collaborators.
func NewManager(registry *session.Registry, engine *session.Engine, scheduler *session.Scheduler, identityColl identity.Collaborator) *Manager {
	return &Manager{
		conns:     make(map[string]map[domain.PlayerID]*wsConn),
		registry:  registry,
		engine:    engine,
		scheduler: scheduler,
		identity:  identityColl,
	}
}

// HandleWS implements spec.md §4.G "On socket open" through the terminating
// read loop. Mounted at a route carrying the game id as a URL parameter
// named "gameID"; the bearer token travels as the "token" query parameter
// (spec.md §6 "Authentication: bearer token carried as a URL query
// parameter at handshake time").
func (m *Manager) HandleWS(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	token := r.URL.Query().Get("token")

	player, err := m.identity.Authenticate(r.Context(), token)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	s, ok := m.registry.Get(gameID)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if player.ID != s.PlayerOrder[0] && player.ID != s.PlayerOrder[1] {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("game_id", gameID).Msg("transport: websocket upgrade failed")
		return
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	wsc := &wsConn{conn: conn}
	m.registerReplacing(gameID, player.ID, wsc)
	go m.pingLoop(wsc)

	s.Mu.Lock()
	m.onOpenLocked(r.Context(), s, player.ID, wsc)
	s.Mu.Unlock()

	m.readLoop(r.Context(), s, player.ID, wsc)
}

// onOpenLocked implements spec.md §4.G step 5-6. Caller holds s.Mu.
func (m *Manager) onOpenLocked(ctx context.Context, s *domain.Session, playerID domain.PlayerID, wsc *wsConn) {
	switch {
	case s.Status == domain.StatusMatched:
		humanIDs := s.HumanPlayerIDs()
		if m.connectedCount(s.GameID, humanIDs) == len(humanIDs) {
			events := m.engine.Init(ctx, s)
			m.fanOut(s.GameID, events)
		} else {
			wsc.writeJSON(infoMessage(eventWaitingForOpponent, "waiting for opponent"))
		}

	case s.Status.IsTerminal():
		wsc.writeJSON(OutboundMessage{Type: session.EventGameStateReconnect, Payload: m.engine.Snapshot(s)})
		return

	default: // waiting_for_ready, in_progress
		wsc.writeJSON(OutboundMessage{Type: session.EventGameStateReconnect, Payload: m.engine.Snapshot(s)})
	}

	if s.Status == domain.StatusInProgress {
		if cur := s.Players[s.CurrentPlayerID]; cur != nil && cur.IsBot {
			m.scheduler.Arm(s, m.sink)
		}
	}
}

// readLoop implements spec.md §4.G's inbound dispatch: decode, cancel the
// turn timer, transition, fan out, re-arm.
func (m *Manager) readLoop(ctx context.Context, s *domain.Session, playerID domain.PlayerID, wsc *wsConn) {
	defer m.handleClose(s, playerID)

	for {
		_, data, err := wsc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("game_id", s.GameID).Msg("transport: websocket read error")
			}
			return
		}

		var msg InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			wsc.writeJSON(infoMessage(session.EventErrorToPlayer, "malformed message"))
			continue
		}

		action, err := decodeAction(msg)
		if err != nil {
			wsc.writeJSON(infoMessage(session.EventErrorToPlayer, err.Error()))
			continue
		}

		s.Mu.Lock()
		m.scheduler.Cancel(s)
		events := m.engine.Transition(ctx, s, playerID, action)
		m.fanOut(s.GameID, events)
		m.scheduler.Arm(s, m.sink)
		s.Mu.Unlock()
	}
}

// handleClose implements spec.md §4.G "On socket close". Once the session is
// terminal and the last socket for it has closed, the session is dropped
// from the registry (spec.md §3 Lifecycles: "removed from the process when
// all sockets for that session close after a terminal status").
func (m *Manager) handleClose(s *domain.Session, playerID domain.PlayerID) {
	remaining := m.closeAndDeregister(s.GameID, playerID)

	s.Mu.Lock()
	defer s.Mu.Unlock()

	if s.Status.IsTerminal() {
		if remaining == 0 {
			m.registry.Remove(s.GameID)
		}
		return
	}

	m.scheduler.Cancel(s)
	events := m.engine.Disconnect(context.Background(), s, playerID)
	m.fanOut(s.GameID, events)

	if s.Status.IsTerminal() && remaining == 0 {
		m.registry.Remove(s.GameID)
	}
}

// sink adapts session.EventSink for the Scheduler's timer/bot callbacks,
// which fire on their own goroutines while still holding s.Mu.
func (m *Manager) sink(s *domain.Session, events []session.Event) {
	m.fanOut(s.GameID, events)
}

// fanOut implements spec.md §4.G "Event fanout rules". A write failure
// disconnects and de-registers the affected socket only; it does not abort
// delivery to the rest of the recipients.
func (m *Manager) fanOut(gameID string, events []session.Event) {
	if len(events) == 0 {
		return
	}

	m.mu.Lock()
	group := m.conns[gameID]
	conns := make(map[domain.PlayerID]*wsConn, len(group))
	for id, c := range group {
		conns[id] = c
	}
	m.mu.Unlock()

	for _, ev := range events {
		msg := OutboundMessage{Type: ev.Type, Payload: ev.Payload}
		switch {
		case ev.TargetPlayerID != nil:
			if c, ok := conns[*ev.TargetPlayerID]; ok {
				if err := c.writeJSON(msg); err != nil {
					m.closeAndDeregister(gameID, *ev.TargetPlayerID)
				}
			}
		case ev.Broadcast:
			for id, c := range conns {
				if ev.ExcludePlayerID != nil && id == *ev.ExcludePlayerID {
					continue
				}
				if err := c.writeJSON(msg); err != nil {
					m.closeAndDeregister(gameID, id)
				}
			}
		}
	}
}

func (m *Manager) registerReplacing(gameID string, playerID domain.PlayerID, wsc *wsConn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	group, ok := m.conns[gameID]
	if !ok {
		group = make(map[domain.PlayerID]*wsConn)
		m.conns[gameID] = group
	}
	if old, exists := group[playerID]; exists {
		old.conn.Close()
	}
	group[playerID] = wsc
}

// closeAndDeregister closes and removes playerID's socket from gameID's
// group, returning how many sockets remain in that group afterward.
func (m *Manager) closeAndDeregister(gameID string, playerID domain.PlayerID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	group, ok := m.conns[gameID]
	if !ok {
		return 0
	}
	if c, exists := group[playerID]; exists {
		c.conn.Close()
		delete(group, playerID)
	}
	remaining := len(group)
	if remaining == 0 {
		delete(m.conns, gameID)
	}
	return remaining
}

func (m *Manager) connectedCount(gameID string, ids []domain.PlayerID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	group := m.conns[gameID]
	n := 0
	for _, id := range ids {
		if _, ok := group[id]; ok {
			n++
		}
	}
	return n
}

// pingLoop keeps the connection alive and detects dead peers between game
// actions, mirroring the keepalive pattern of the retrieval pack's other
// gorilla/websocket servers. It exits once a ping write fails.
func (m *Manager) pingLoop(wsc *wsConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		if err := wsc.writePing(); err != nil {
			return
		}
	}
}
