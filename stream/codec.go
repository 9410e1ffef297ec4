package stream

import (
	"encoding/json"

	"github.com/gobwas/ws"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec defines the serialization contract for events on the wire.
type Codec interface {
	// Encode serializes an event to bytes.
	Encode(evt *Event) ([]byte, error)

	// Decode deserializes bytes into an event.
	Decode(data []byte) (*Event, error)

	// Name returns the codec identifier ("json" or "msgpack").
	Name() string

	// OpCode returns the WebSocket frame type the codec writes.
	OpCode() ws.OpCode
}

// CodecName constants for format negotiation.
const (
	CodecNameJSON    = "json"
	CodecNameMsgpack = "msgpack"
)

// GetCodec returns a codec by name. Defaults to JSON.
func GetCodec(name string) Codec {
	switch name {
	case CodecNameMsgpack:
		return &MsgpackCodec{}
	default:
		return &JSONCodec{}
	}
}

// JSONCodec encodes events as JSON text frames.
type JSONCodec struct{}

func (c *JSONCodec) Encode(evt *Event) ([]byte, error) {
	return json.Marshal(evt)
}

func (c *JSONCodec) Decode(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *JSONCodec) Name() string { return CodecNameJSON }

func (c *JSONCodec) OpCode() ws.OpCode { return ws.OpText }

// MsgpackCodec encodes events as MessagePack binary frames. The payload
// stays JSON inside the envelope.
type MsgpackCodec struct{}

func (c *MsgpackCodec) Encode(evt *Event) ([]byte, error) {
	return msgpack.Marshal(evt)
}

func (c *MsgpackCodec) Decode(data []byte) (*Event, error) {
	var e Event
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *MsgpackCodec) Name() string { return CodecNameMsgpack }

func (c *MsgpackCodec) OpCode() ws.OpCode { return ws.OpBinary }
