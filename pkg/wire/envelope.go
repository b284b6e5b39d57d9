package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Request is the client-to-server envelope: an action name plus a payload
// whose shape depends on the action.
type Request struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Response is the server-to-client envelope.
type Response struct {
	Status  string      `json:"status"` // "success" or "error"
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Handshake is the first frame a client sends to fix the connection's role.
type Handshake struct {
	ClientType string `json:"client_type"` // "developer" or "player"
}

// HandshakeReply confirms (or rejects) a handshake. ServerType is "developer"
// for the developer listener and "lobby" for the player listener.
type HandshakeReply struct {
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	ServerType string `json:"server_type,omitempty"`
}

// OK builds a success response with an optional payload.
func OK(message string, data interface{}) Response {
	return Response{Status: "success", Message: message, Data: data}
}

// Err builds an error response.
func Err(format string, args ...interface{}) Response {
	return Response{Status: "error", Message: fmt.Sprintf(format, args...)}
}

// IsSuccess reports whether the response carries a success status.
func (r Response) IsSuccess() bool {
	return r.Status == "success"
}

// ReadRequest reads and decodes one request frame.
func (c *Conn) ReadRequest(deadline time.Duration) (Request, error) {
	raw, err := c.ReadFrame(deadline)
	if err != nil {
		return Request{}, err
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, fmt.Errorf("wire: decode request: %w", err)
	}
	return req, nil
}

// WriteJSON marshals v and writes it as a single frame.
func (c *Conn) WriteJSON(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: encode frame: %w", err)
	}
	return c.WriteFrame(payload)
}

// DecodeData unmarshals a request payload into dst. A missing payload decodes
// into the zero value.
func DecodeData(data json.RawMessage, dst interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}
