package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/christopherjohns/chatto/internal/message"
	"github.com/christopherjohns/chatto/internal/ws"
	"nhooyr.io/websocket"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv := New(":0", WithSessionTTL(time.Hour))
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return srv
}

func doJSON(srv *Server, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)
	return w
}

// registerAndLogin creates an account and returns its session cookie.
func registerAndLogin(t *testing.T, srv *Server, username string) *http.Cookie {
	t.Helper()
	w := doJSON(srv, http.MethodPost, "/register", `{"username":"`+username+`","password":"secret"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("register %s: expected 200, got %d: %s", username, w.Code, w.Body.String())
	}
	w = doJSON(srv, http.MethodPost, "/login", `{"username":"`+username+`","password":"secret"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d: %s", username, w.Code, w.Body.String())
	}
	for _, c := range w.Result().Cookies() {
		if c.Name == ws.CookieName {
			return c
		}
	}
	t.Fatalf("login %s: no session cookie set", username)
	return nil
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(srv, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", body["status"])
	}
}

func TestRegisterValidation(t *testing.T) {
	srv := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing password", `{"username":"alice"}`},
		{"missing username", `{"password":"secret"}`},
		{"empty body", `{}`},
		{"invalid json", `{broken`},
	}
	for _, tc := range cases {
		w := doJSON(srv, http.MethodPost, "/register", tc.body, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tc.name, w.Code)
		}
	}
}

func TestRegisterDuplicate(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(srv, http.MethodPost, "/register", `{"username":"alice","password":"a"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w = doJSON(srv, http.MethodPost, "/register", `{"username":"alice","password":"b"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate, got %d", w.Code)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	srv := newTestServer(t)

	doJSON(srv, http.MethodPost, "/register", `{"username":"alice","password":"right"}`, nil)

	w := doJSON(srv, http.MethodPost, "/login", `{"username":"alice","password":"wrong"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	// Unknown users fail with the same status and message.
	w2 := doJSON(srv, http.MethodPost, "/login", `{"username":"nobody","password":"wrong"}`, nil)
	if w2.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w2.Code)
	}
	if w.Body.String() != w2.Body.String() {
		t.Error("login failures should not reveal whether the username exists")
	}
}

func TestCheckAuthLifecycle(t *testing.T) {
	srv := newTestServer(t)

	// Before login.
	w := doJSON(srv, http.MethodGet, "/check-auth", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("check-auth must never error, got %d", w.Code)
	}
	var body map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if body["authenticated"] != false {
		t.Errorf("expected authenticated=false, got %v", body["authenticated"])
	}

	cookie := registerAndLogin(t, srv, "alice")

	w = doJSON(srv, http.MethodGet, "/check-auth", "", cookie)
	body = map[string]any{}
	json.NewDecoder(w.Body).Decode(&body)
	if body["authenticated"] != true || body["username"] != "alice" {
		t.Errorf("expected authenticated alice, got %v", body)
	}

	// Logout invalidates the session.
	if w := doJSON(srv, http.MethodPost, "/logout", "", cookie); w.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", w.Code)
	}
	w = doJSON(srv, http.MethodGet, "/check-auth", "", cookie)
	body = map[string]any{}
	json.NewDecoder(w.Body).Decode(&body)
	if body["authenticated"] != false {
		t.Errorf("expected authenticated=false after logout, got %v", body)
	}
}

func TestSearchUser(t *testing.T) {
	srv := newTestServer(t)
	registerAndLogin(t, srv, "alice")

	w := doJSON(srv, http.MethodGet, "/search-user?username=alice", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["user"] != "alice" {
		t.Errorf("expected user 'alice', got %q", body["user"])
	}

	if w := doJSON(srv, http.MethodGet, "/search-user?username=nobody", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown user, got %d", w.Code)
	}
	if w := doJSON(srv, http.MethodGet, "/search-user", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing username, got %d", w.Code)
	}
}

func TestConversationsRequireAuth(t *testing.T) {
	srv := newTestServer(t)

	if w := doJSON(srv, http.MethodGet, "/get-conversations", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	cookie := registerAndLogin(t, srv, "alice")
	w := doJSON(srv, http.MethodGet, "/get-conversations", "", cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string][]string
	json.NewDecoder(w.Body).Decode(&body)
	if len(body["conversations"]) != 0 {
		t.Errorf("expected empty conversation list, got %v", body["conversations"])
	}
}

func TestClearMessagesRequiresAuth(t *testing.T) {
	srv := newTestServer(t)

	if w := doJSON(srv, http.MethodPost, "/clear-messages", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

// dialWithCookie opens a websocket connection through a live test server.
func dialWithCookie(t *testing.T, serverURL string, cookie *http.Cookie) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
	header := http.Header{}
	header.Set("Cookie", cookie.Name+"="+cookie.Value)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) ws.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	var env ws.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

func TestPublicMessageScenario(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.mux)
	defer ts.Close()

	aliceCookie := registerAndLogin(t, srv, "alice")
	bobCookie := registerAndLogin(t, srv, "bob")

	alice := dialWithCookie(t, ts.URL, aliceCookie)
	defer alice.Close(websocket.StatusNormalClosure, "")
	readEnvelope(t, alice) // previousMessages

	bob := dialWithCookie(t, ts.URL, bobCookie)
	defer bob.Close(websocket.StatusNormalClosure, "")
	readEnvelope(t, bob)   // previousMessages
	readEnvelope(t, alice) // bob joined

	// Alice posts "hi" over the realtime channel.
	payload, _ := json.Marshal(ws.SendMessagePayload{Text: "hi"})
	env, _ := json.Marshal(ws.Envelope{Type: ws.EventSendMessage, Payload: payload})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := alice.Write(ctx, websocket.MessageText, env); err != nil {
		t.Fatalf("write error: %v", err)
	}
	cancel()

	// Bob's connection receives the broadcast...
	got := readEnvelope(t, bob)
	if got.Type != ws.EventReceiveMessage {
		t.Fatalf("expected %q, got %q", ws.EventReceiveMessage, got.Type)
	}
	var received message.Public
	json.Unmarshal(got.Payload, &received)
	if received.Username != "alice" || received.Text != "hi" {
		t.Errorf("unexpected broadcast: %+v", received)
	}

	// ...and the history endpoint returns the same message.
	w := doJSON(srv, http.MethodGet, "/get-public-messages", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Messages []message.Public `json:"messages"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if len(body.Messages) != 1 {
		t.Fatalf("expected 1 message in history, got %d", len(body.Messages))
	}
	if body.Messages[0].ID != received.ID || body.Messages[0].Text != "hi" {
		t.Errorf("history and broadcast disagree: %+v vs %+v", body.Messages[0], received)
	}
}

func TestPrivateHistoryScenario(t *testing.T) {
	srv := newTestServer(t)

	aliceCookie := registerAndLogin(t, srv, "alice")
	registerAndLogin(t, srv, "bob")

	// Seed one private message from alice to bob.
	alice, _ := srv.users.ByName(context.Background(), "alice")
	bob, _ := srv.users.ByName(context.Background(), "bob")
	if _, err := srv.messages.AppendPrivate(context.Background(),
		message.Party{ID: alice.ID, Username: "alice"},
		message.Party{ID: bob.ID, Username: "bob"}, "hey"); err != nil {
		t.Fatalf("seed private message: %v", err)
	}

	// Both directions return the same single message.
	for _, path := range []string{
		"/get-private-messages?sender=alice&recipient=bob",
		"/get-private-messages?sender=bob&recipient=alice",
	} {
		w := doJSON(srv, http.MethodGet, path, "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
		var body struct {
			Messages []message.Private `json:"messages"`
		}
		json.NewDecoder(w.Body).Decode(&body)
		if len(body.Messages) != 1 || body.Messages[0].Text != "hey" {
			t.Fatalf("%s: unexpected messages %+v", path, body.Messages)
		}
	}

	// Public history does not include it.
	w := doJSON(srv, http.MethodGet, "/get-public-messages", "", nil)
	var pub struct {
		Messages []message.Public `json:"messages"`
	}
	json.NewDecoder(w.Body).Decode(&pub)
	if len(pub.Messages) != 0 {
		t.Fatalf("private message leaked into public history: %+v", pub.Messages)
	}

	// Conversation shows up for alice.
	w = doJSON(srv, http.MethodGet, "/get-conversations", "", aliceCookie)
	var convs map[string][]string
	json.NewDecoder(w.Body).Decode(&convs)
	if len(convs["conversations"]) != 1 || convs["conversations"][0] != "bob" {
		t.Fatalf("expected conversation with bob, got %v", convs["conversations"])
	}

	// Validation and not-found paths.
	if w := doJSON(srv, http.MethodGet, "/get-private-messages?sender=alice", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing recipient, got %d", w.Code)
	}
	if w := doJSON(srv, http.MethodGet, "/get-private-messages?sender=alice&recipient=ghost", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown recipient, got %d", w.Code)
	}
}

func TestDeleteConversation(t *testing.T) {
	srv := newTestServer(t)

	aliceCookie := registerAndLogin(t, srv, "alice")
	registerAndLogin(t, srv, "bob")
	registerAndLogin(t, srv, "carol")

	ctx := context.Background()
	alice, _ := srv.users.ByName(ctx, "alice")
	bob, _ := srv.users.ByName(ctx, "bob")
	carol, _ := srv.users.ByName(ctx, "carol")

	srv.messages.AppendPrivate(ctx, message.Party{ID: alice.ID, Username: "alice"}, message.Party{ID: bob.ID, Username: "bob"}, "one")
	srv.messages.AppendPrivate(ctx, message.Party{ID: alice.ID, Username: "alice"}, message.Party{ID: carol.ID, Username: "carol"}, "keep")

	if w := doJSON(srv, http.MethodPost, "/delete-conversation", `{"recipient":"bob"}`, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", w.Code)
	}
	if w := doJSON(srv, http.MethodPost, "/delete-conversation", `{}`, aliceCookie); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without recipient, got %d", w.Code)
	}
	if w := doJSON(srv, http.MethodPost, "/delete-conversation", `{"recipient":"ghost"}`, aliceCookie); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown recipient, got %d", w.Code)
	}

	if w := doJSON(srv, http.MethodPost, "/delete-conversation", `{"recipient":"bob"}`, aliceCookie); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	ab, _ := srv.messages.ListPrivate(ctx, alice.ID, bob.ID)
	if len(ab) != 0 {
		t.Errorf("expected alice/bob conversation deleted, got %d messages", len(ab))
	}
	ac, _ := srv.messages.ListPrivate(ctx, alice.ID, carol.ID)
	if len(ac) != 1 {
		t.Errorf("expected alice/carol conversation intact, got %d messages", len(ac))
	}
}

func TestClearMessages(t *testing.T) {
	srv := newTestServer(t)

	cookie := registerAndLogin(t, srv, "alice")
	ctx := context.Background()
	alice, _ := srv.users.ByName(ctx, "alice")
	srv.messages.AppendPublic(ctx, message.Party{ID: alice.ID, Username: "alice"}, "wipe me")

	if w := doJSON(srv, http.MethodPost, "/clear-messages", "", cookie); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	msgs, _ := srv.messages.ListPublic(ctx)
	if len(msgs) != 0 {
		t.Errorf("expected empty public history, got %d", len(msgs))
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	srv := New(":0", WithSessionTTL(time.Hour))

	// Shutdown stops the limiter-prune and session-reaper loops; a
	// second call must not panic on the already-closed stop channel.
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("first shutdown errored: %v", err)
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown errored: %v", err)
	}
}

func TestCredentialRateLimit(t *testing.T) {
	srv := newTestServer(t)

	var last int
	for i := 0; i < loginRateLimit+1; i++ {
		w := doJSON(srv, http.MethodPost, "/login", `{"username":"alice","password":"nope"}`, nil)
		last = w.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after %d attempts, got %d", loginRateLimit+1, last)
	}
}
