package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"chatcore/internal/protocol"
)

func newTestApp(t *testing.T) (*App, *httptest.Server) {
	t.Helper()
	cfg := LoadConfig()
	a, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(a.Handler())
	t.Cleanup(ts.Close)
	return a, ts
}

func dialChat(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	env, ok := protocol.Parse(string(data))
	if !ok {
		t.Fatalf("failed to parse envelope: %s", data)
	}
	return env
}

// Scenario 1 (spec §8): welcome & echo.
func TestScenario_WelcomeAndEcho(t *testing.T) {
	_, ts := newTestApp(t)
	conn := dialChat(t, ts)

	welcome := readEnvelope(t, conn)
	if welcome.Type != "chat.system" {
		t.Fatalf("want chat.system welcome, got %+v", welcome)
	}
	if welcome.Payload.GetString("text") != welcomeText {
		t.Fatalf("unexpected welcome text: %q", welcome.Payload.GetString("text"))
	}

	msg := protocol.NewMap()
	msg.Set("user", protocol.FromString("alice"))
	msg.Set("text", protocol.FromString("hi"))
	wire := protocol.Serialize(protocol.Envelope{Type: "chat.message", Payload: msg})

	if err := conn.Write(context.Background(), websocket.MessageText, []byte(wire)); err != nil {
		t.Fatalf("write: %v", err)
	}

	echoed := readEnvelope(t, conn)
	if echoed.Type != "chat.message" || echoed.Payload.GetString("user") != "alice" || echoed.Payload.GetString("text") != "hi" {
		t.Fatalf("unexpected echo: %+v", echoed)
	}
}

// Scenario 2 (spec §8): join-with-history.
func TestScenario_JoinWithHistory(t *testing.T) {
	a, ts := newTestApp(t)

	seed := protocol.NewMap()
	seed.Set("user", protocol.FromString("seed"))
	for i := 0; i < 2; i++ {
		if _, err := a.store.Append(context.Background(), protocol.Envelope{
			Room: "africa", Type: "chat.message", Payload: seed,
		}); err != nil {
			t.Fatalf("seed append: %v", err)
		}
	}

	conn := dialChat(t, ts)
	readEnvelope(t, conn) // welcome

	join := protocol.NewMap()
	join.Set("room", protocol.FromString("africa"))
	join.Set("user", protocol.FromString("bob"))
	wire := protocol.Serialize(protocol.Envelope{Type: "chat.join", Payload: join})
	if err := conn.Write(context.Background(), websocket.MessageText, []byte(wire)); err != nil {
		t.Fatalf("write: %v", err)
	}

	first := readEnvelope(t, conn)
	second := readEnvelope(t, conn)
	if first.Type != "chat.message" || second.Type != "chat.message" {
		t.Fatalf("expected two history frames, got %+v then %+v", first, second)
	}

	announce := readEnvelope(t, conn)
	if announce.Type != "chat.system" || !strings.Contains(announce.Payload.GetString("text"), "bob joined") {
		t.Fatalf("expected join announcement mentioning bob, got %+v", announce)
	}
}

// Scenario 3 (spec §8): room routing — only room members receive a
// room-scoped broadcast.
func TestScenario_RoomRoutingIsolatesNonMembers(t *testing.T) {
	_, ts := newTestApp(t)

	connA := dialChat(t, ts)
	readEnvelope(t, connA) // welcome
	connB := dialChat(t, ts)
	readEnvelope(t, connB)
	connC := dialChat(t, ts)
	readEnvelope(t, connC)

	joinAfrica := func(conn *websocket.Conn, user string) {
		m := protocol.NewMap()
		m.Set("room", protocol.FromString("africa"))
		m.Set("user", protocol.FromString(user))
		wire := protocol.Serialize(protocol.Envelope{Type: "chat.join", Payload: m})
		if err := conn.Write(context.Background(), websocket.MessageText, []byte(wire)); err != nil {
			t.Fatalf("write: %v", err)
		}
		readEnvelope(t, conn) // own join announcement
	}
	joinAfrica(connA, "a")
	joinAfrica(connB, "b")
	readEnvelope(t, connA) // B's join announcement, already enqueued once B joined

	joinEurope := func(conn *websocket.Conn, user string) {
		m := protocol.NewMap()
		m.Set("room", protocol.FromString("europe"))
		m.Set("user", protocol.FromString(user))
		wire := protocol.Serialize(protocol.Envelope{Type: "chat.join", Payload: m})
		if err := conn.Write(context.Background(), websocket.MessageText, []byte(wire)); err != nil {
			t.Fatalf("write: %v", err)
		}
		readEnvelope(t, conn)
	}
	joinEurope(connC, "c")

	msg := protocol.NewMap()
	msg.Set("user", protocol.FromString("c"))
	msg.Set("text", protocol.FromString("hey"))
	wireMsg := protocol.Serialize(protocol.Envelope{Room: "africa", Type: "chat.message", Payload: msg})
	if err := connC.Write(context.Background(), websocket.MessageText, []byte(wireMsg)); err != nil {
		t.Fatalf("write: %v", err)
	}

	gotA := readEnvelope(t, connA)
	gotB := readEnvelope(t, connB)
	if gotA.Payload.GetString("text") != "hey" || gotB.Payload.GetString("text") != "hey" {
		t.Fatalf("expected both africa members to receive the message: %+v %+v", gotA, gotB)
	}

	roCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, _, err := connC.Read(roCtx); err == nil {
		t.Fatal("expected europe member to not receive africa's message")
	}
}

// Scenario 4 (spec §8): long-poll fallback mirrors WS traffic.
func TestScenario_LongPollFallbackMirrorsWSTraffic(t *testing.T) {
	_, ts := newTestApp(t)

	conn := dialChat(t, ts)
	readEnvelope(t, conn) // welcome

	join := protocol.NewMap()
	join.Set("room", protocol.FromString("africa"))
	join.Set("user", protocol.FromString("a"))
	joinWire := protocol.Serialize(protocol.Envelope{Type: "chat.join", Payload: join})
	if err := conn.Write(context.Background(), websocket.MessageText, []byte(joinWire)); err != nil {
		t.Fatalf("write: %v", err)
	}
	readEnvelope(t, conn) // own join announcement

	msg := protocol.NewMap()
	msg.Set("room", protocol.FromString("africa"))
	msg.Set("user", protocol.FromString("a"))
	msg.Set("text", protocol.FromString("y"))
	wire := protocol.Serialize(protocol.Envelope{Type: "chat.message", Room: "africa", Payload: msg})
	if err := conn.Write(context.Background(), websocket.MessageText, []byte(wire)); err != nil {
		t.Fatalf("write: %v", err)
	}
	readEnvelope(t, conn) // echo to self (now a room member)

	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get(ts.URL + "/ws/poll?session_id=room:africa&max=10")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(raw) != 1 {
		t.Fatalf("want one buffered envelope, got %d", len(raw))
	}
	env, ok := protocol.Parse(string(raw[0]))
	if !ok || env.Type != "chat.message" || env.Payload.GetString("text") != "y" {
		t.Fatalf("unexpected buffered envelope: %s", raw[0])
	}
}

// Scenario 5 (spec §8): HTTP send is queued and forwarded to WS.
func TestScenario_HTTPSendQueuesAndForwards(t *testing.T) {
	_, ts := newTestApp(t)

	conn := dialChat(t, ts)
	readEnvelope(t, conn) // welcome

	join := protocol.NewMap()
	join.Set("room", protocol.FromString("africa"))
	join.Set("user", protocol.FromString("a"))
	wire := protocol.Serialize(protocol.Envelope{Type: "chat.join", Payload: join})
	if err := conn.Write(context.Background(), websocket.MessageText, []byte(wire)); err != nil {
		t.Fatalf("write: %v", err)
	}
	readEnvelope(t, conn) // own join announcement

	body := `{"room":"africa","type":"chat.message","payload":{"user":"http","text":"hi"}}`
	resp, err := http.Post(ts.URL+"/ws/send", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("want 202, got %d", resp.StatusCode)
	}
	var decoded map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["status"] != "queued" || decoded["session_id"] != "room:africa" {
		t.Fatalf("unexpected response body: %+v", decoded)
	}

	forwarded := readEnvelope(t, conn)
	if forwarded.Type != "chat.message" || forwarded.Payload.GetString("user") != "http" {
		t.Fatalf("expected the WS client to observe the forwarded frame, got %+v", forwarded)
	}
}

func TestPoll_MissingSessionIDReturns400(t *testing.T) {
	_, ts := newTestApp(t)
	resp, err := http.Get(ts.URL + "/ws/poll")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", resp.StatusCode)
	}
}

func TestSend_MissingTypeReturns400(t *testing.T) {
	_, ts := newTestApp(t)
	resp, err := http.Post(ts.URL+"/ws/send", "application/json", bytes.NewBufferString(`{"room":"x"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpointServesPrometheusText(t *testing.T) {
	_, ts := newTestApp(t)
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}
}
