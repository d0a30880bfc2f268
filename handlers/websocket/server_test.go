package websocket

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
	"triphub-server/realtime"

	socketio "github.com/zishang520/socket.io/v2/socket"
)

// pollingClient speaks Engine.IO v4 long-polling, enough to drive a
// socket.io connection from a test without a client library.
type pollingClient struct {
	t       *testing.T
	http    *http.Client
	url     string
	pending []string
}

func dialPolling(t *testing.T, baseURL, userID string) *pollingClient {
	t.Helper()
	c := &pollingClient{
		t:    t,
		http: &http.Client{Timeout: 10 * time.Second},
	}

	query := url.Values{"EIO": {"4"}, "transport": {"polling"}}
	if userID != "" {
		query.Set("userId", userID)
	}
	c.url = baseURL + "/socket.io/?" + query.Encode()

	packets := c.get()
	if len(packets) == 0 || !strings.HasPrefix(packets[0], "0") {
		t.Fatalf("unexpected handshake: %v", packets)
	}
	var open struct {
		Sid string `json:"sid"`
	}
	if err := json.Unmarshal([]byte(packets[0][1:]), &open); err != nil || open.Sid == "" {
		t.Fatalf("Failed to decode handshake %q: %v", packets[0], err)
	}
	query.Set("sid", open.Sid)
	c.url = baseURL + "/socket.io/?" + query.Encode()

	c.post("40")
	c.waitFor(func(p string) bool { return strings.HasPrefix(p, "40") })
	return c
}

func (c *pollingClient) get() []string {
	c.t.Helper()
	resp, err := c.http.Get(c.url)
	if err != nil {
		c.t.Fatalf("poll failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("poll status %d: %s", resp.StatusCode, body)
	}
	return strings.Split(string(body), "\x1e")
}

func (c *pollingClient) post(packet string) {
	c.t.Helper()
	resp, err := c.http.Post(c.url, "text/plain;charset=UTF-8", strings.NewReader(packet))
	if err != nil {
		c.t.Fatalf("send failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("send status %d", resp.StatusCode)
	}
}

// waitFor returns the first socket.io packet matching match, polling until
// one arrives. Packets seen on the way are kept for later calls.
func (c *pollingClient) waitFor(match func(string) bool) string {
	c.t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		for i, p := range c.pending {
			if match(p) {
				c.pending = append(c.pending[:i], c.pending[i+1:]...)
				return p
			}
		}
		if time.Now().After(deadline) {
			c.t.Fatalf("no matching packet, saw %v", c.pending)
		}
		for _, p := range c.get() {
			switch {
			case p == "2":
				c.post("3")
			case strings.HasPrefix(p, "4"):
				c.pending = append(c.pending, p[1:])
			}
		}
	}
}

// event waits for a socket.io event and returns its first argument.
func (c *pollingClient) event(name string, out any) {
	c.t.Helper()
	prefix := fmt.Sprintf(`2[%q,`, name)
	p := c.waitFor(func(p string) bool { return strings.HasPrefix(p, prefix) })

	var frame []json.RawMessage
	if err := json.Unmarshal([]byte(p[1:]), &frame); err != nil || len(frame) < 2 {
		c.t.Fatalf("Failed to decode event %q: %v", p, err)
	}
	if err := json.Unmarshal(frame[1], out); err != nil {
		c.t.Fatalf("Failed to decode %s payload: %v", name, err)
	}
}

// emitWithAck sends an event with ack id and returns the first ack argument.
func (c *pollingClient) emitWithAck(id int, name string, arg any, out any) {
	c.t.Helper()
	frame, _ := json.Marshal([]any{name, arg})
	c.post(fmt.Sprintf("42%d%s", id, frame))

	prefix := fmt.Sprintf("3%d[", id)
	p := c.waitFor(func(p string) bool { return strings.HasPrefix(p, prefix) })

	var args []json.RawMessage
	if err := json.Unmarshal([]byte(p[len(prefix)-1:]), &args); err != nil || len(args) == 0 {
		c.t.Fatalf("Failed to decode ack %q: %v", p, err)
	}
	if err := json.Unmarshal(args[0], out); err != nil {
		c.t.Fatalf("Failed to decode ack payload: %v", err)
	}
}

func newSocketServer(t *testing.T, groups MembershipChecker) (*realtime.Hub, *socketio.Server, string) {
	t.Helper()
	hub := realtime.NewHub(nil)
	srv := SetupSocketIO(hub, groups, nil, nil)
	ts := httptest.NewServer(srv.ServeHandler(nil))
	t.Cleanup(func() {
		srv.Close(nil)
		ts.Close()
	})
	return hub, srv, ts.URL
}

func TestSetupSocketIO_PresenceSnapshotReachesClients(t *testing.T) {
	hub, _, baseURL := newSocketServer(t, nil)

	alice := dialPolling(t, baseURL, "alice")
	var users []string
	alice.event(realtime.EventOnlineUsers, &users)
	if len(users) != 1 || users[0] != "alice" {
		t.Errorf("snapshot on connect = %v, want [alice]", users)
	}

	dialPolling(t, baseURL, "bob")
	alice.event(realtime.EventOnlineUsers, &users)
	if len(users) != 2 || users[0] != "alice" || users[1] != "bob" {
		t.Errorf("snapshot after bob = %v, want [alice bob]", users)
	}
	if !hub.IsOnline("bob") {
		t.Error("bob should be online in the hub")
	}
}

func TestSetupSocketIO_JoinGroupAckAndFanOut(t *testing.T) {
	groups := &fakeGroups{members: map[string][]string{"g1": {"alice"}}}
	hub, _, baseURL := newSocketServer(t, groups)

	alice := dialPolling(t, baseURL, "alice")

	var ack map[string]any
	alice.emitWithAck(1, "joinGroup", "g1", &ack)
	if ack["status"] != "ok" || ack["groupId"] != "g1" {
		t.Errorf("joinGroup ack = %v, want status ok for g1", ack)
	}

	alice.emitWithAck(2, "joinGroup", "g2", &ack)
	if ack["status"] != "error" || ack["error"] == nil {
		t.Errorf("joinGroup ack for foreign group = %v, want an error", ack)
	}

	if got := hub.Broadcast("g1", realtime.EventNewGroupMessage, map[string]string{"text": "hola"}); got != 1 {
		t.Fatalf("Broadcast() = %d, want 1", got)
	}
	var msg map[string]string
	alice.event(realtime.EventNewGroupMessage, &msg)
	if msg["text"] != "hola" {
		t.Errorf("group message = %v", msg)
	}
}

func TestSetupSocketIO_DirectMessage(t *testing.T) {
	hub, _, baseURL := newSocketServer(t, nil)

	bob := dialPolling(t, baseURL, "bob")
	if _, ok := hub.SendDirect("bob", realtime.EventNewMessage, map[string]string{"text": "hey"}); !ok {
		t.Fatal("SendDirect() reported bob offline")
	}
	var msg map[string]string
	bob.event(realtime.EventNewMessage, &msg)
	if msg["text"] != "hey" {
		t.Errorf("direct message = %v", msg)
	}
}
