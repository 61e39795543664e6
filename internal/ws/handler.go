package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/christopherjohns/chatto/internal/message"
	"github.com/christopherjohns/chatto/internal/session"
	"github.com/christopherjohns/chatto/internal/user"
	"nhooyr.io/websocket"
)

const (
	// maxMessageLength is the longest accepted message text.
	maxMessageLength = 2000

	// persistTimeout bounds a single append to the message store.
	persistTimeout = 5 * time.Second
)

// CookieName is the session cookie checked during the handshake. It is
// the same cookie the HTTP login endpoint sets.
const CookieName = "session_token"

// Handler authenticates WebSocket upgrade requests against the session
// manager and runs the persist-then-broadcast loop for each client.
type Handler struct {
	hub      *Hub
	sessions session.Manager
	users    user.Store
	messages message.Store
}

// NewHandler creates a new WebSocket Handler.
func NewHandler(hub *Hub, sessions session.Manager, users user.Store, messages message.Store) *Handler {
	return &Handler{
		hub:      hub,
		sessions: sessions,
		users:    users,
		messages: messages,
	}
}

// ServeHTTP authenticates the upgrade request, upgrades it, and runs the
// read loop. A request without a valid session cookie is rejected before
// the upgrade; a rejected connection never receives history.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u, err := h.authenticate(r)
	if err != nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow all origins in dev; tighten in production.
	})
	if err != nil {
		log.Printf("ws: accept error: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	client := &Client{
		conn:     conn,
		userID:   u.ID,
		username: u.Username,
	}

	connCtx := h.hub.Add(client)
	select {
	case <-connCtx.Done():
		return
	default:
	}

	h.sendHistory(r.Context(), client)
	h.broadcastPresence(EventUserJoined, client, true)

	h.readLoop(r.Context(), connCtx, client)

	// The client authenticated, so its departure is announced exactly
	// once, to the connections that remain.
	h.hub.Remove(client)
	h.broadcastPresence(EventUserLeft, client, false)
}

// authenticate resolves the session cookie to a registered user.
func (h *Handler) authenticate(r *http.Request) (*user.User, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil, errors.New("ws: no session cookie")
	}
	userID, err := h.sessions.Resolve(r.Context(), cookie.Value)
	if err != nil {
		return nil, err
	}
	return h.users.ByID(r.Context(), userID)
}

// sendHistory writes the full public history to a newly accepted client.
// The envelope is always sent, even when the history is empty, so clients
// can treat it as the end of the handshake.
func (h *Handler) sendHistory(ctx context.Context, client *Client) {
	listCtx, cancel := context.WithTimeout(ctx, persistTimeout)
	history, err := h.messages.ListPublic(listCtx)
	cancel()
	if err != nil {
		log.Printf("ws: failed to load history for %s: %v", client.username, err)
		return
	}
	if history == nil {
		history = []*message.Public{}
	}

	env, err := encodeEvent(EventPreviousMessages, history)
	if err != nil {
		log.Printf("ws: failed to marshal history: %v", err)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := client.conn.Write(writeCtx, websocket.MessageText, env); err != nil {
		log.Printf("ws: failed to write history to %s: %v", client.username, err)
	}
}

// broadcastPresence announces a join or leave. Joins skip the client's
// own connection; leaves go to everyone still registered.
func (h *Handler) broadcastPresence(eventType string, client *Client, skipSelf bool) {
	verb := "left"
	if eventType == EventUserJoined {
		verb = "joined"
	}
	env, err := encodeEvent(eventType, PresencePayload{
		Username: client.username,
		Message:  client.username + " " + verb + " the chat",
	})
	if err != nil {
		log.Printf("ws: failed to marshal presence event: %v", err)
		return
	}
	if skipSelf {
		h.hub.BroadcastExcept(client, env)
	} else {
		h.hub.Broadcast(env)
	}
}

// readLoop reads events from the client until the connection closes
// or the connection manager cancels connCtx. Invalid events are logged
// and dropped; they never tear down the connection.
func (h *Handler) readLoop(ctx context.Context, connCtx context.Context, client *Client) {
	for {
		select {
		case <-connCtx.Done():
			return
		default:
		}

		_, data, err := client.conn.Read(ctx)
		if err != nil {
			// Normal close or context cancelled.
			return
		}

		h.hub.ConnMgr().TouchActivity(client)

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		switch env.Type {
		case EventSendMessage:
			var payload SendMessagePayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				continue
			}
			h.handlePublicSend(client, payload.Text)
		case EventSendPrivateMessage:
			var payload SendPrivateMessagePayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				continue
			}
			h.handlePrivateSend(client, payload.Recipient, payload.Text)
		}
	}
}

// handlePublicSend persists a public message and fans it out to every
// connected client, including the sender.
func (h *Handler) handlePublicSend(client *Client, text string) {
	text = strings.TrimSpace(text)
	if !validText(client, text) {
		return
	}

	// Persist on a detached context: a disconnect mid-send must not
	// abort a message other recipients should still get.
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	msg, err := h.messages.AppendPublic(ctx, message.Party{ID: client.userID, Username: client.username}, text)
	if err != nil {
		log.Printf("ws: failed to persist message from %s: %v", client.username, err)
		return
	}

	env, err := encodeEvent(EventReceiveMessage, msg)
	if err != nil {
		log.Printf("ws: failed to marshal message: %v", err)
		return
	}
	h.hub.Broadcast(env)
}

// handlePrivateSend persists a direct message and delivers it only to
// the sender's and the recipient's connections.
func (h *Handler) handlePrivateSend(client *Client, recipientName, text string) {
	text = strings.TrimSpace(text)
	if !validText(client, text) {
		return
	}
	if recipientName == "" {
		log.Printf("ws: dropping private message from %s: no recipient", client.username)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	recipient, err := h.users.ByName(ctx, recipientName)
	if err != nil {
		log.Printf("ws: dropping private message from %s to unknown user %q", client.username, recipientName)
		return
	}

	msg, err := h.messages.AppendPrivate(ctx,
		message.Party{ID: client.userID, Username: client.username},
		message.Party{ID: recipient.ID, Username: recipient.Username},
		text)
	if err != nil {
		log.Printf("ws: failed to persist private message from %s: %v", client.username, err)
		return
	}

	env, err := encodeEvent(EventReceivePrivateMessage, msg)
	if err != nil {
		log.Printf("ws: failed to marshal private message: %v", err)
		return
	}

	// The sender always gets its own echo, on every device.
	h.hub.SendToUser(client.userID, env)
	if recipient.ID != client.userID {
		h.hub.SendToUser(recipient.ID, env)
	}
}

// validText reports whether the message text is acceptable, logging the
// reason when it is not.
func validText(client *Client, text string) bool {
	if text == "" {
		log.Printf("ws: dropping empty message from %s", client.username)
		return false
	}
	if len(text) > maxMessageLength {
		log.Printf("ws: dropping oversized message from %s (%d bytes)", client.username, len(text))
		return false
	}
	return true
}
