package livefeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/careflow/internal/platform/outbox"
)

func bedEvent(t *testing.T, wardID uuid.UUID) *outbox.Event {
	t.Helper()
	e, err := outbox.NewEvent("bed", uuid.New(), outbox.BedAdded, map[string]string{
		"ward_id":    wardID.String(),
		"bed_number": "A-1",
	})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	return e
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data := <-c.Send:
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("decode message: %v", err)
		}
		return m
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
	return Message{}
}

func TestSubscribeAndUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := NewClient("c1")
	hub.Register(c)
	hub.Subscribe(c, "bed", " ", "ward:x")

	if hub.ClientCount() != 1 {
		t.Fatalf("clients = %d, want 1", hub.ClientCount())
	}
	if hub.TopicCount("bed") != 1 || hub.TopicCount("ward:x") != 1 {
		t.Fatal("expected subscriptions on bed and ward:x")
	}
	if hub.TopicCount("") != 0 {
		t.Fatal("blank topic must be ignored")
	}

	hub.Unsubscribe(c, "bed")
	if hub.TopicCount("bed") != 0 {
		t.Fatal("bed subscription should be gone")
	}

	hub.Unregister(c)
	if hub.ClientCount() != 0 || hub.TopicCount("ward:x") != 0 {
		t.Fatal("unregister should clear client and topics")
	}
	if _, ok := <-c.Send; ok {
		t.Fatal("send channel should be closed")
	}
	hub.Unregister(c)
}

func TestSubscribeUnknownClientIgnored(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.Subscribe(NewClient("ghost"), "bed")
	if hub.TopicCount("bed") != 0 {
		t.Fatal("unregistered client must not subscribe")
	}
}

func TestProcessMessage(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := NewClient("c1")
	hub.Register(c)

	hub.ProcessMessage(c, ClientMessage{Action: "subscribe", Topics: []string{"bill.generated"}})
	if hub.TopicCount("bill.generated") != 1 {
		t.Fatal("subscribe action not applied")
	}
	hub.ProcessMessage(c, ClientMessage{Action: "bogus", Topics: []string{"x"}})
	if hub.TopicCount("x") != 0 {
		t.Fatal("unknown action must be ignored")
	}
	hub.ProcessMessage(c, ClientMessage{Action: "unsubscribe", Topics: []string{"bill.generated"}})
	if hub.TopicCount("bill.generated") != 0 {
		t.Fatal("unsubscribe action not applied")
	}
}

func TestTopicsFor(t *testing.T) {
	wardID := uuid.New()
	e := bedEvent(t, wardID)
	got := TopicsFor(e)
	want := []string{outbox.BedAdded, "bed", "bed:" + e.AggregateID.String(), "ward:" + wardID.String(), TopicAll}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("topics = %v, want %v", got, want)
	}

	noWard, _ := outbox.NewEvent("bill", uuid.New(), "bill.generated", map[string]int{"total": 1})
	if got := TopicsFor(noWard); len(got) != 4 {
		t.Fatalf("topics without ward = %v", got)
	}
}

func TestPublishRoutesByWardAndDeduplicates(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	wardA, wardB := uuid.New(), uuid.New()

	follower := NewClient("follower")
	other := NewClient("other")
	hub.Register(follower)
	hub.Register(other)
	hub.Subscribe(follower, "ward:"+wardA.String(), "bed", TopicAll)
	hub.Subscribe(other, "ward:"+wardB.String())

	e := bedEvent(t, wardA)
	if err := hub.Publish(context.Background(), e); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	m := receive(t, follower)
	if m.EventID != e.ID || m.EventType != outbox.BedAdded || m.AggregateType != "bed" {
		t.Fatalf("unexpected message %+v", m)
	}
	select {
	case <-follower.Send:
		t.Fatal("event delivered twice to one client")
	default:
	}
	select {
	case <-other.Send:
		t.Fatal("client on another ward received the event")
	default:
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := NewClient("slow")
	hub.Register(c)
	hub.Subscribe(c, TopicAll)

	for i := 0; i < sendBuffer+5; i++ {
		if err := hub.Publish(context.Background(), bedEvent(t, uuid.New())); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}
	if len(c.Send) != sendBuffer {
		t.Fatalf("buffered = %d, want %d", len(c.Send), sendBuffer)
	}
}

func TestHubIsOutboxSink(t *testing.T) {
	var s outbox.Sink = NewHub(zerolog.Nop())
	if s.Name() != "livefeed" {
		t.Fatalf("Name = %q", s.Name())
	}
}

func TestCheckOrigin(t *testing.T) {
	h := NewHandler(NewHub(zerolog.Nop()), []string{"https://ward.example"})
	req := httptest.NewRequest(http.MethodGet, "/feed", nil)
	req.Header.Set("Origin", "https://evil.example")
	if h.upgrader.CheckOrigin(req) {
		t.Fatal("foreign origin accepted")
	}
	req.Header.Set("Origin", "https://ward.example")
	if !h.upgrader.CheckOrigin(req) {
		t.Fatal("allowed origin rejected")
	}

	open := NewHandler(NewHub(zerolog.Nop()), []string{"*"})
	req.Header.Set("Origin", "https://anywhere.example")
	if !open.upgrader.CheckOrigin(req) {
		t.Fatal("wildcard should accept any origin")
	}
}

func TestConnectRejectsPlainHTTP(t *testing.T) {
	h := NewHandler(NewHub(zerolog.Nop()), nil)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/feed", nil)
	rec := httptest.NewRecorder()
	_ = h.Connect(e.NewContext(req, rec))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestFeedOverWebsocket(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	e := echo.New()
	e.GET("/feed", NewHandler(hub, nil).Connect)
	srv := httptest.NewServer(e)
	defer srv.Close()

	wardID := uuid.New()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/feed?topics=ward:" + wardID.String()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status = %d, want 101", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.TopicCount("ward:"+wardID.String()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := conn.WriteJSON(ClientMessage{Action: "subscribe", Topics: []string{"bill.generated"}}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	for hub.TopicCount("bill.generated") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscribe message not processed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ev := bedEvent(t, wardID)
	if err := hub.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Message
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.EventID != ev.ID || got.EventType != outbox.BedAdded {
		t.Fatalf("unexpected message %+v", got)
	}

	conn.Close()
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline.Add(2 * time.Second)) {
			t.Fatal("client not unregistered after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
