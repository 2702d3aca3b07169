// Package protocol defines the WebSocket message types shared between the
// server and the desktop tray clients.
package protocol

import "encoding/json"

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewMessage creates a message with the given type and payload.
func NewMessage(msgType string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    msgType,
		Payload: data,
	}, nil
}

// ParsePayload unmarshals the payload into the given target.
func (m *Message) ParsePayload(target any) error {
	return json.Unmarshal(m.Payload, target)
}

// Message types (client → server)
const (
	TypeIdentify = "identificar"
	TypeCreate   = "novaNotificacao"
)

// Message types (server → client)
const (
	TypeDelivery = "nova_mensagem"
	TypeAck      = "ack"
)

// IdentifyPayload carries the client identity. The field names are the tray
// client's legacy ones: userId is the machine name, nome the user name.
type IdentifyPayload struct {
	Machine string `json:"userId" validate:"required"`
	User    string `json:"nome" validate:"required"`
}

// DeliveryPayload is the fixed payload of a nova_mensagem event.
type DeliveryPayload struct {
	ID        int64  `json:"id"`
	Kind      string `json:"tipo"`
	Title     string `json:"titulo"`
	Body      string `json:"mensagem"`
	Icon      string `json:"icone"`
	Link      string `json:"link"`
	Timestamp string `json:"timestamp"`
}

// CreatePayload is an inbound create-notification request. Times arrive as
// RFC 3339 strings; repete/intervalo are absent when the operator left the
// recurrence fields blank.
type CreatePayload struct {
	Kind     string   `json:"tipo" validate:"required"`
	Title    string   `json:"titulo" validate:"required"`
	Body     string   `json:"mensagem" validate:"required"`
	Link     string   `json:"link"`
	Icon     string   `json:"icone"`
	User     string   `json:"usuario"`
	Sectors  []string `json:"setores"`
	At       string   `json:"horario"`
	Repeats  *int     `json:"repete"`
	Interval *int     `json:"intervalo"`
}

// AckPayload answers an inbound request.
type AckPayload struct {
	Status string `json:"status"` // "ok" or "error"
	Error  string `json:"error,omitempty"`
	ID     int64  `json:"id,omitempty"`
}
