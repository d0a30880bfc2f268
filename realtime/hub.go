package realtime

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Client-observable events.
const (
	EventOnlineUsers     = "getOnlineUsers"
	EventNewGroupMessage = "newGroupMessage"
	EventNewMessage      = "newMessage"
)

// Transport is the pub/sub layer the hub delivers through.
type Transport interface {
	// Emit sends to exactly one live session.
	Emit(sessionID SessionID, event string, args ...any) error
	// EmitAll sends to every live session.
	EmitAll(event string, args ...any) error
}

type State int

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Connection is the hub's view of one transport session.
type Connection struct {
	ID     SessionID
	UserID string
	State  State
}

// Hub binds connection lifecycle events to the presence registry and the
// room router. Lifecycle transitions are serialized by mu; concurrent
// Connect calls for the same user resolve to whichever acquires mu last.
// Room and direct delivery only take the read paths of Rooms and Presence.
type Hub struct {
	mu        sync.Mutex
	conns     map[SessionID]*Connection
	presence  *Presence
	rooms     *Rooms
	transport Transport

	deliveries *prometheus.CounterVec
}

func NewHub(transport Transport) *Hub {
	return &Hub{
		conns:     make(map[SessionID]*Connection),
		presence:  NewPresence(),
		rooms:     NewRooms(),
		transport: orDiscard(transport),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triphub",
			Subsystem: "realtime",
			Name:      "deliveries_total",
			Help:      "Real-time delivery attempts by path and result.",
		}, []string{"path", "result"}),
	}
}

// SetTransport replaces the transport. It exists because the socket.io
// server needs the hub before it can hand out its own transport.
func (h *Hub) SetTransport(transport Transport) {
	h.mu.Lock()
	h.transport = orDiscard(transport)
	h.mu.Unlock()
}

// discardTransport stands in until a real transport is set.
type discardTransport struct{}

func (discardTransport) Emit(SessionID, string, ...any) error { return nil }
func (discardTransport) EmitAll(string, ...any) error        { return nil }

func orDiscard(transport Transport) Transport {
	if transport == nil {
		return discardTransport{}
	}
	return transport
}

// Connect records a new session. A non-empty userID is registered in
// presence, overwriting any earlier session for that user. Every connect
// broadcasts the full presence snapshot.
func (h *Hub) Connect(sessionID SessionID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{"session_id": sessionID, "user_id": userID})
	if _, exists := h.conns[sessionID]; exists {
		log.Warn("Session already connected")
		return
	}

	conn := &Connection{ID: sessionID, UserID: userID, State: StateConnecting}
	h.conns[sessionID] = conn

	if userID != "" {
		if prev, ok := h.presence.Lookup(userID); ok && prev != sessionID {
			log.WithField("previous_session_id", prev).Info("User presence moved to new session")
		}
		h.presence.Register(userID, sessionID)
	}
	conn.State = StateConnected
	log.Info("A user connected")

	h.broadcastPresenceLocked()
}

// Disconnect tears down a session: the user captured at connect time is
// unregistered and the session leaves every room. Unknown sessions are a
// no-op.
func (h *Hub) Disconnect(sessionID SessionID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.conns[sessionID]
	if !ok {
		return
	}
	conn.State = StateDisconnected
	delete(h.conns, sessionID)

	if conn.UserID != "" {
		h.presence.Unregister(conn.UserID)
	}
	left := h.rooms.LeaveAll(sessionID)

	logrus.WithFields(logrus.Fields{
		"session_id": sessionID,
		"user_id":    conn.UserID,
		"rooms_left": left,
	}).Info("A user disconnected")

	h.broadcastPresenceLocked()
}

// JoinRoom adds a connected session to a room. Authorization is the
// caller's job. It reports false only when the session is not connected.
func (h *Hub) JoinRoom(sessionID SessionID, roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.conns[sessionID]
	if !ok || conn.State != StateConnected {
		return false
	}
	h.rooms.Join(sessionID, roomID)
	logrus.WithFields(logrus.Fields{
		"session_id": sessionID,
		"user_id":    conn.UserID,
		"room_id":    roomID,
	}).Debug("Session joined room")
	return true
}

func (h *Hub) LeaveRoom(sessionID SessionID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.rooms.Leave(sessionID, roomID)
	logrus.WithFields(logrus.Fields{
		"session_id": sessionID,
		"room_id":    roomID,
	}).Debug("Session left room")
}

// Broadcast delivers payload to every session joined to roomID, sender
// included, and returns how many sessions it was handed to. An empty room
// delivers to nobody.
func (h *Hub) Broadcast(roomID, event string, payload any) int {
	transport := h.currentTransport()

	delivered := 0
	for _, sid := range h.rooms.Members(roomID) {
		if err := transport.Emit(sid, event, payload); err != nil {
			logrus.WithFields(logrus.Fields{
				"session_id": sid,
				"room_id":    roomID,
				"event":      event,
			}).WithError(err).Warn("Failed to emit to room member")
			h.deliveries.WithLabelValues("room", "failed").Inc()
			continue
		}
		delivered++
	}
	h.deliveries.WithLabelValues("room", "delivered").Add(float64(delivered))
	return delivered
}

// SendDirect delivers payload to the live session of userID, once. An
// offline user is not an error: it returns false and nothing is queued.
func (h *Hub) SendDirect(userID, event string, payload any) (SessionID, bool) {
	sid, ok := h.presence.Lookup(userID)
	if !ok {
		h.deliveries.WithLabelValues("direct", "offline").Inc()
		return "", false
	}

	if err := h.currentTransport().Emit(sid, event, payload); err != nil {
		logrus.WithFields(logrus.Fields{
			"session_id": sid,
			"user_id":    userID,
			"event":      event,
		}).WithError(err).Warn("Failed to emit direct message")
		h.deliveries.WithLabelValues("direct", "failed").Inc()
		return "", false
	}
	h.deliveries.WithLabelValues("direct", "delivered").Inc()
	return sid, true
}

func (h *Hub) Lookup(userID string) (SessionID, bool) {
	return h.presence.Lookup(userID)
}

func (h *Hub) IsOnline(userID string) bool {
	_, ok := h.presence.Lookup(userID)
	return ok
}

func (h *Hub) OnlineUsers() []string {
	return h.presence.LiveUserIDs()
}

// ActiveRooms returns the number of joined sessions per non-empty room.
func (h *Hub) ActiveRooms() map[string]int {
	return h.rooms.Counts()
}

// RoomsOf returns the rooms a session has joined.
func (h *Hub) RoomsOf(sessionID SessionID) []string {
	return h.rooms.RoomsOf(sessionID)
}

// Connection returns a copy of the hub's record for a live session.
func (h *Hub) Connection(sessionID SessionID) (Connection, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.conns[sessionID]
	if !ok {
		return Connection{}, false
	}
	return *conn, true
}

func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) currentTransport() Transport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transport
}

func (h *Hub) broadcastPresenceLocked() {
	ids := h.presence.LiveUserIDs()
	if err := h.transport.EmitAll(EventOnlineUsers, ids); err != nil {
		logrus.WithError(err).Warn("Failed to broadcast online users")
	}
}
