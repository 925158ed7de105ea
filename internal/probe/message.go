package probe

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Message is the single payload written after the handshake.
type Message struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

func DefaultMessage() Message {
	return Message{Type: "ping", Data: "test"}
}

// Encode returns the wire text of m. Fields keep their declaration order and
// are separated by ", " and ": ", so the default message is exactly
// {"type": "ping", "data": "test"}, the form the tunnel server's clients send.
func (m Message) Encode() ([]byte, error) {
	typ, err := encodeString(m.Type)
	if err != nil {
		return nil, fmt.Errorf("marshal probe message type: %w", err)
	}
	data, err := encodeString(m.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal probe message data: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(`{"type": `)
	buf.Write(typ)
	buf.WriteString(`, "data": `)
	buf.Write(data)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func encodeString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
