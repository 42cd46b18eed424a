package notify

import (
	"context"
	"errors"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantURL string
		wantErr bool
	}{
		{"Full", `{"title":"Outbid","body":"Someone bid more","url":"/auctions/42"}`, "/auctions/42", false},
		{"Default URL", `{"title":"Hello"}`, "/", false},
		{"Absolute URL", `{"title":"Hello","url":"https://example.com/a"}`, "https://example.com/a", false},
		{"Relative URL", `{"title":"Hello","url":"listing/1"}`, "listing/1", false},
		{"Missing Title", `{"body":"no title"}`, "", true},
		{"Empty", ``, "", true},
		{"Not JSON", `title=hello`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePayload([]byte(tt.data))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPayload) {
					t.Errorf("err = %v, want ErrInvalidPayload", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePayload: %v", err)
			}
			if p.URL != tt.wantURL {
				t.Errorf("url = %q, want %q", p.URL, tt.wantURL)
			}
		})
	}
}

func TestBuild(t *testing.T) {
	n := Build(Payload{Title: "Outbid", Body: "b"})
	if n.Icon != "/icons/icon-192x192.png" || n.Badge != "/icons/icon-72x72.png" {
		t.Errorf("icon=%q badge=%q", n.Icon, n.Badge)
	}
	if !reflect.DeepEqual(n.Vibrate, []int{100, 50, 100}) {
		t.Errorf("vibrate = %v", n.Vibrate)
	}
	if n.Data.URL != "/" {
		t.Errorf("data.url = %q", n.Data.URL)
	}
	if len(n.Actions) != 2 || n.Actions[0].Action != ActionOpen || n.Actions[1].Action != ActionClose {
		t.Errorf("actions = %+v", n.Actions)
	}
}

type fakeWindows struct {
	clients []ClientInfo
	sent    map[string][]Message
}

func (w *fakeWindows) Clients() []ClientInfo { return w.clients }

func (w *fakeWindows) Send(id string, msg Message) error {
	if w.sent == nil {
		w.sent = make(map[string][]Message)
	}
	w.sent[id] = append(w.sent[id], msg)
	return nil
}

func (w *fakeWindows) Broadcast(msg Message) int {
	for _, c := range w.clients {
		_ = w.Send(c.ID, msg)
	}
	return len(w.clients)
}

func TestDispatcher_Click(t *testing.T) {
	ctx := context.Background()
	windows := []ClientInfo{
		{ID: "a", URL: "https://aucsafe.example/"},
		{ID: "b", URL: "https://aucsafe.example/auctions/42"},
	}

	tests := []struct {
		name        string
		clients     []ClientInfo
		click       Click
		wantOutcome string
		wantClient  string
		wantErr     error
	}{
		{"Close Dismisses", windows, Click{Action: ActionClose, URL: "/auctions/42"}, OutcomeDismissed, "", nil},
		{"Focus Matching Window", windows, Click{Action: ActionOpen, URL: "/auctions/42"}, OutcomeFocused, "b", nil},
		{"Body Click Focuses Too", windows, Click{URL: "/auctions/42"}, OutcomeFocused, "b", nil},
		{"Open When No Match", windows, Click{URL: "/settings"}, OutcomeOpened, "a", nil},
		{"Default URL Matches First", windows, Click{}, OutcomeFocused, "a", nil},
		{"No Clients", nil, Click{URL: "/"}, "", "", ErrNoClients},
		{"Close Without Clients", nil, Click{Action: ActionClose}, OutcomeDismissed, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &fakeWindows{clients: tt.clients}
			res, err := NewDispatcher(w, nil).Click(ctx, tt.click)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if res.Outcome != tt.wantOutcome || res.ClientID != tt.wantClient {
				t.Errorf("result = %+v, want %s on %q", res, tt.wantOutcome, tt.wantClient)
			}
			if tt.wantOutcome == OutcomeDismissed && len(w.sent) != 0 {
				t.Errorf("dismiss sent messages: %v", w.sent)
			}
		})
	}
}

func TestDispatcher_PushInvalid(t *testing.T) {
	w := &fakeWindows{clients: []ClientInfo{{ID: "a"}}}
	if _, _, err := NewDispatcher(w, nil).Push(context.Background(), []byte(`{"body":"x"}`)); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("err = %v, want ErrInvalidPayload", err)
	}
	if len(w.sent) != 0 {
		t.Error("invalid payload was shown")
	}
}

func dial(t *testing.T, srv *httptest.Server, url string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?url=" + url
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, n int) []ClientInfo {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c := hub.Clients(); len(c) == n {
			return c
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("hub never reached %d clients (have %d)", n, len(hub.Clients()))
	return nil
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestHub(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	home := dial(t, srv, "/")
	auction := dial(t, srv, "/auctions/42")
	waitClients(t, hub, 2)

	d := NewDispatcher(hub, nil)
	n, shown, err := d.Push(context.Background(), []byte(`{"title":"Outbid","url":"/auctions/42"}`))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if shown != 2 {
		t.Errorf("shown on %d windows, want 2", shown)
	}
	for _, conn := range []*websocket.Conn{home, auction} {
		msg := readMessage(t, conn)
		if msg.Type != MessageNotification || msg.Notification == nil || msg.Notification.Title != "Outbid" {
			t.Errorf("message = %+v", msg)
		}
	}

	res, err := d.Click(context.Background(), Click{Action: ActionOpen, URL: n.Data.URL})
	if err != nil {
		t.Fatalf("Click: %v", err)
	}
	if res.Outcome != OutcomeFocused {
		t.Errorf("outcome = %s", res.Outcome)
	}
	if msg := readMessage(t, auction); msg.Type != MessageFocus || msg.URL != "/auctions/42" {
		t.Errorf("focus message = %+v", msg)
	}

	// A window reporting a new location is matched by it.
	if err := home.WriteJSON(Message{Type: MessageLocation, URL: "/settings"}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && hub.Clients()[0].URL != "/settings" {
		time.Sleep(10 * time.Millisecond)
	}
	if got := hub.Clients()[0].URL; got != "/settings" {
		t.Errorf("location not updated: %q", got)
	}

	auction.Close()
	waitClients(t, hub, 1)
}
