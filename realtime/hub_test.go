package realtime

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type emitted struct {
	session SessionID
	event   string
	args    []any
}

// recordingTransport captures every emit instead of writing to a socket.
type recordingTransport struct {
	mu      sync.Mutex
	direct  []emitted
	all     []emitted
	failFor map[SessionID]bool
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{failFor: make(map[SessionID]bool)}
}

func (t *recordingTransport) Emit(sessionID SessionID, event string, args ...any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failFor[sessionID] {
		return errors.New("socket closed")
	}
	t.direct = append(t.direct, emitted{session: sessionID, event: event, args: args})
	return nil
}

func (t *recordingTransport) EmitAll(event string, args ...any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.all = append(t.all, emitted{event: event, args: args})
	return nil
}

func (t *recordingTransport) received(sessionID SessionID, event string) []any {
	t.mu.Lock()
	defer t.mu.Unlock()

	var payloads []any
	for _, e := range t.direct {
		if e.session == sessionID && e.event == event {
			payloads = append(payloads, e.args[0])
		}
	}
	return payloads
}

func (t *recordingTransport) lastSnapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.all) == 0 {
		return nil
	}
	return t.all[len(t.all)-1].args[0].([]string)
}

func (t *recordingTransport) snapshotCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.all)
}

func TestHub_ConnectBroadcastsPresence(t *testing.T) {
	tr := newRecordingTransport()
	h := NewHub(tr)

	h.Connect("s1", "alice")
	h.Connect("s2", "bob")

	if tr.snapshotCount() != 2 {
		t.Fatalf("snapshot broadcasts = %d, want 2", tr.snapshotCount())
	}
	got := tr.lastSnapshot()
	if len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Errorf("last snapshot = %v, want [alice bob]", got)
	}
	if tr.all[0].event != EventOnlineUsers {
		t.Errorf("event = %q, want %q", tr.all[0].event, EventOnlineUsers)
	}

	conn, ok := h.Connection("s1")
	if !ok || conn.State != StateConnected || conn.UserID != "alice" {
		t.Errorf("Connection(s1) = %+v, %v", conn, ok)
	}
}

func TestHub_AnonymousConnectionNeverInPresence(t *testing.T) {
	tr := newRecordingTransport()
	h := NewHub(tr)

	h.Connect("anon", "")
	if len(h.OnlineUsers()) != 0 {
		t.Errorf("OnlineUsers() = %v, want none", h.OnlineUsers())
	}
	if h.ConnectionCount() != 1 {
		t.Errorf("ConnectionCount() = %d, want 1", h.ConnectionCount())
	}

	h.Disconnect("anon")
	if h.ConnectionCount() != 0 {
		t.Errorf("ConnectionCount() = %d, want 0", h.ConnectionCount())
	}
}

func TestHub_DisconnectCleanup(t *testing.T) {
	tr := newRecordingTransport()
	h := NewHub(tr)

	h.Connect("s1", "u1")
	h.Disconnect("s1")

	if _, ok := h.Lookup("u1"); ok {
		t.Error("Lookup(u1) found a session after disconnect")
	}
	if len(tr.lastSnapshot()) != 0 {
		t.Errorf("last snapshot = %v, want empty", tr.lastSnapshot())
	}
	if _, ok := h.Connection("s1"); ok {
		t.Error("Connection(s1) still tracked after disconnect")
	}
}

func TestHub_DisconnectDropsRoomMembership(t *testing.T) {
	tr := newRecordingTransport()
	h := NewHub(tr)

	h.Connect("s1", "alice")
	h.JoinRoom("s1", "group-1")
	h.JoinRoom("s1", "group-2")
	h.Disconnect("s1")

	if n := h.Broadcast("group-1", EventNewGroupMessage, "x"); n != 0 {
		t.Errorf("Broadcast() after disconnect delivered to %d sessions", n)
	}
	if rooms := h.ActiveRooms(); len(rooms) != 0 {
		t.Errorf("ActiveRooms() = %v, want none", rooms)
	}
	if got := tr.received("s1", EventNewGroupMessage); len(got) != 0 {
		t.Errorf("stale session received %v", got)
	}
}

func TestHub_DisconnectUnknownIsNoop(t *testing.T) {
	tr := newRecordingTransport()
	h := NewHub(tr)

	h.Disconnect("ghost")
	if tr.snapshotCount() != 0 {
		t.Errorf("snapshot broadcasts = %d, want 0", tr.snapshotCount())
	}
}

func TestHub_JoinRequiresConnectedSession(t *testing.T) {
	h := NewHub(newRecordingTransport())

	if h.JoinRoom("ghost", "r") {
		t.Error("JoinRoom() accepted an unknown session")
	}
	if len(h.ActiveRooms()) != 0 {
		t.Error("unknown session must not create room membership")
	}
}

func TestHub_IdempotentJoin(t *testing.T) {
	tr := newRecordingTransport()
	h := NewHub(tr)
	h.Connect("s", "u")

	h.JoinRoom("s", "r")
	h.JoinRoom("s", "r")
	h.LeaveRoom("s", "r")

	if n := h.Broadcast("r", EventNewGroupMessage, "hello"); n != 0 {
		t.Errorf("Broadcast() delivered to %d sessions after single leave, want 0", n)
	}
}

func TestHub_RoomIsolation(t *testing.T) {
	tr := newRecordingTransport()
	h := NewHub(tr)
	h.Connect("s1", "u1")
	h.Connect("s2", "u2")
	h.JoinRoom("s1", "r1")
	h.JoinRoom("s2", "r2")

	h.Broadcast("r1", EventNewGroupMessage, "payload")

	if got := tr.received("s1", EventNewGroupMessage); len(got) != 1 {
		t.Errorf("s1 received %d messages, want 1", len(got))
	}
	if got := tr.received("s2", EventNewGroupMessage); len(got) != 0 {
		t.Errorf("s2 received %v, want nothing", got)
	}
}

func TestHub_BroadcastEmptyRoom(t *testing.T) {
	tr := newRecordingTransport()
	h := NewHub(tr)

	if n := h.Broadcast("nobody-here", EventNewGroupMessage, "x"); n != 0 {
		t.Errorf("Broadcast() = %d, want 0", n)
	}
}

func TestHub_BroadcastIncludesSender(t *testing.T) {
	tr := newRecordingTransport()
	h := NewHub(tr)
	h.Connect("s1", "alice")
	h.JoinRoom("s1", "r")

	h.Broadcast("r", EventNewGroupMessage, "mine")
	if got := tr.received("s1", EventNewGroupMessage); len(got) != 1 {
		t.Errorf("sender received %d copies, want 1", len(got))
	}
}

func TestHub_BroadcastSkipsFailedSessions(t *testing.T) {
	tr := newRecordingTransport()
	h := NewHub(tr)
	h.Connect("s1", "a")
	h.Connect("s2", "b")
	h.JoinRoom("s1", "r")
	h.JoinRoom("s2", "r")
	tr.failFor["s2"] = true

	if n := h.Broadcast("r", EventNewGroupMessage, "x"); n != 1 {
		t.Errorf("Broadcast() = %d, want 1", n)
	}
}

func TestHub_GroupScenario(t *testing.T) {
	tr := newRecordingTransport()
	h := NewHub(tr)
	h.Connect("s1", "alice")
	h.Connect("s2", "bob")
	h.JoinRoom("s1", "group-42")
	h.JoinRoom("s2", "group-42")

	hi := map[string]string{"text": "hi"}
	if n := h.Broadcast("group-42", EventNewGroupMessage, hi); n != 2 {
		t.Fatalf("Broadcast(hi) = %d, want 2", n)
	}

	h.LeaveRoom("s2", "group-42")
	bye := map[string]string{"text": "bye"}
	h.Broadcast("group-42", EventNewGroupMessage, bye)

	s1 := tr.received("s1", EventNewGroupMessage)
	if len(s1) != 2 {
		t.Fatalf("s1 received %d messages, want 2", len(s1))
	}
	if s1[0].(map[string]string)["text"] != "hi" || s1[1].(map[string]string)["text"] != "bye" {
		t.Errorf("s1 received %v, want hi then bye", s1)
	}

	s2 := tr.received("s2", EventNewGroupMessage)
	if len(s2) != 1 || s2[0].(map[string]string)["text"] != "hi" {
		t.Errorf("s2 received %v, want only hi", s2)
	}
}

func TestHub_DirectScenario(t *testing.T) {
	tr := newRecordingTransport()
	h := NewHub(tr)
	h.Connect("s1", "alice")
	before := tr.snapshotCount()

	sid, ok := h.SendDirect("bob", EventNewMessage, "hey bob")
	if ok || sid != "" {
		t.Errorf("SendDirect(bob) = (%q, %v), want not delivered", sid, ok)
	}

	sid, ok = h.SendDirect("alice", EventNewMessage, "hey alice")
	if !ok || sid != "s1" {
		t.Errorf("SendDirect(alice) = (%q, %v), want (s1, true)", sid, ok)
	}
	if got := tr.received("s1", EventNewMessage); len(got) != 1 || got[0] != "hey alice" {
		t.Errorf("s1 received %v", got)
	}
	if tr.snapshotCount() != before {
		t.Error("direct delivery must not broadcast presence")
	}
}

func TestHub_ReconnectStealsPresence(t *testing.T) {
	tr := newRecordingTransport()
	h := NewHub(tr)

	h.Connect("s1", "alice")
	h.Connect("s2", "alice")

	sid, _ := h.Lookup("alice")
	if sid != "s2" {
		t.Errorf("Lookup(alice) = %q, want s2", sid)
	}
	// The superseded session stays connected and is not told.
	if _, ok := h.Connection("s1"); !ok {
		t.Error("superseded session should remain connected")
	}

	// Disconnecting the superseded session drops alice from presence, the
	// same as the user id captured at connect time would.
	h.Disconnect("s1")
	if h.IsOnline("alice") {
		t.Error("alice should be offline after s1 disconnects")
	}
}

func TestHub_DuplicateConnectIgnored(t *testing.T) {
	tr := newRecordingTransport()
	h := NewHub(tr)
	h.Connect("s1", "alice")
	h.Connect("s1", "mallory")

	conn, _ := h.Connection("s1")
	if conn.UserID != "alice" {
		t.Errorf("UserID = %q, want alice", conn.UserID)
	}
	if h.IsOnline("mallory") {
		t.Error("duplicate connect must not register a second user")
	}
}

func TestHub_ConcurrentLifecycle(t *testing.T) {
	tr := newRecordingTransport()
	h := NewHub(tr)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sid := SessionID(fmt.Sprintf("s-%d", i))
			h.Connect(sid, fmt.Sprintf("user-%d", i))
			h.JoinRoom(sid, "lobby")
			h.Broadcast("lobby", EventNewGroupMessage, i)
			h.SendDirect(fmt.Sprintf("user-%d", (i+1)%50), EventNewMessage, i)
			if i%2 == 0 {
				h.Disconnect(sid)
			}
		}(i)
	}
	wg.Wait()

	if got := len(h.OnlineUsers()); got != 25 {
		t.Errorf("OnlineUsers() = %d, want 25", got)
	}
	if got := h.ActiveRooms()["lobby"]; got != 25 {
		t.Errorf("lobby members = %d, want 25", got)
	}
}

func TestHub_Metrics(t *testing.T) {
	tr := newRecordingTransport()
	h := NewHub(tr)
	reg := prometheus.NewRegistry()
	if err := h.RegisterMetrics(reg); err != nil {
		t.Fatalf("RegisterMetrics() failed: %v", err)
	}

	h.Connect("s1", "alice")
	h.Connect("s2", "")
	h.JoinRoom("s1", "r")
	h.Broadcast("r", EventNewGroupMessage, "x")
	h.SendDirect("bob", EventNewMessage, "x")

	if got := testutil.ToFloat64(h.deliveries.WithLabelValues("room", "delivered")); got != 1 {
		t.Errorf("room delivered = %v, want 1", got)
	}
	if got := testutil.ToFloat64(h.deliveries.WithLabelValues("direct", "offline")); got != 1 {
		t.Errorf("direct offline = %v, want 1", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() failed: %v", err)
	}
	values := make(map[string]float64)
	for _, mf := range families {
		if mf.GetType().String() == "GAUGE" {
			values[mf.GetName()] = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	if values["triphub_realtime_online_users"] != 1 {
		t.Errorf("online_users = %v, want 1", values["triphub_realtime_online_users"])
	}
	if values["triphub_realtime_connections"] != 2 {
		t.Errorf("connections = %v, want 2", values["triphub_realtime_connections"])
	}
	if values["triphub_realtime_active_rooms"] != 1 {
		t.Errorf("active_rooms = %v, want 1", values["triphub_realtime_active_rooms"])
	}

	if err := h.RegisterMetrics(reg); err == nil {
		t.Error("registering twice should fail")
	}
}

func TestHub_NilTransportUntilSet(t *testing.T) {
	h := NewHub(nil)
	h.Connect("s1", "alice")
	h.JoinRoom("s1", "g1")
	if got := h.Broadcast("g1", EventNewGroupMessage, "hi"); got != 1 {
		t.Errorf("Broadcast() = %d, want 1", got)
	}
	if !h.IsOnline("alice") {
		t.Error("alice should be online before a transport is set")
	}

	tr := newRecordingTransport()
	h.SetTransport(tr)
	h.Connect("s2", "bob")
	if got := tr.lastSnapshot(); len(got) != 2 {
		t.Errorf("snapshot after SetTransport = %v, want [alice bob]", got)
	}

	h.SetTransport(nil)
	h.Disconnect("s2")
	if h.IsOnline("bob") {
		t.Error("bob should be offline")
	}
}

func TestStateString(t *testing.T) {
	if StateConnecting.String() != "connecting" || StateConnected.String() != "connected" || StateDisconnected.String() != "disconnected" {
		t.Error("unexpected state names")
	}
}
