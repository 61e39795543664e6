package ws

import "encoding/json"

// Event types emitted by the server.
const (
	EventPreviousMessages      = "previousMessages"
	EventReceiveMessage        = "receiveMessage"
	EventReceivePrivateMessage = "receivePrivateMessage"
	EventUserJoined            = "userJoined"
	EventUserLeft              = "userLeft"
)

// Event types accepted from clients.
const (
	EventSendMessage        = "sendMessage"
	EventSendPrivateMessage = "sendPrivateMessage"
)

// Envelope is the JSON structure exchanged over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// SendMessagePayload is sent by the client to post a public message.
type SendMessagePayload struct {
	Text string `json:"text"`
}

// SendPrivateMessagePayload is sent by the client to message one user.
type SendPrivateMessagePayload struct {
	Recipient string `json:"recipient"`
	Text      string `json:"text"`
}

// PresencePayload announces a user joining or leaving the chat.
type PresencePayload struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

// encodeEvent marshals a payload into a typed envelope.
func encodeEvent(eventType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: eventType, Payload: data})
}
