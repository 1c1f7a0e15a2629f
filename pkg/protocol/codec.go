package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type frameHead struct {
	Type EventType `json:"type"`
}

// Decode turns one inbound frame into its concrete variant
// The returned value is one of the Inbound value types in this package
func Decode(data []byte) (Inbound, error) {
	var head frameHead
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, ErrMalformedFrame
	}

	switch head.Type {
	case TypeJoinRoom:
		return decodeInto[JoinRoom](data)
	case TypeLeaveRoom:
		return decodeInto[LeaveRoom](data)
	case TypeSignal:
		return decodeInto[SendSignal](data)
	case TypeChatMessage:
		return decodeInto[SendChat](data)
	case TypeWhiteboardUpdate:
		return decodeInto[UpdateWhiteboard](data)
	case TypeRaiseHand:
		return decodeInto[RaiseHand](data)
	case "":
		return nil, ErrMissingType
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, head.Type)
	}
}

func decodeInto[T Inbound](data []byte) (Inbound, error) {
	var ev T
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, ErrMalformedFrame
	}
	if err := validateInbound(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Encode renders an outbound variant as a flat JSON object with its type
func Encode(ev Outbound) ([]byte, error) {
	return encodeTyped(ev.EventType(), ev)
}

// EncodeInbound renders a client -> server event; used by Go clients
func EncodeInbound(ev Inbound) ([]byte, error) {
	return encodeTyped(ev.EventType(), ev)
}

func encodeTyped(t EventType, v any) ([]byte, error) {
	var enc bytes.Buffer
	e := json.NewEncoder(&enc)
	e.SetEscapeHTML(false)
	if err := e.Encode(v); err != nil {
		return nil, err
	}
	body := bytes.TrimRight(enc.Bytes(), "\n")
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("protocol: %s did not encode as an object", t)
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(t) + 12)
	buf.WriteString(`{"type":`)
	typeJSON, _ := json.Marshal(string(t))
	buf.Write(typeJSON)
	if len(body) > 2 {
		buf.WriteByte(',')
	}
	buf.Write(body[1:])
	return buf.Bytes(), nil
}

// DecodeOutbound parses a server -> client frame; used by Go clients
func DecodeOutbound(data []byte) (Outbound, error) {
	var head frameHead
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, ErrMalformedFrame
	}

	switch head.Type {
	case TypeWelcome:
		return decodeOut[Welcome](data)
	case TypeRoomSnapshot:
		return decodeOut[RoomSnapshot](data)
	case TypeMemberJoined:
		return decodeOut[MemberJoined](data)
	case TypeMemberLeft:
		return decodeOut[MemberLeft](data)
	case TypeSignal:
		return decodeOut[SignalRelay](data)
	case TypeChatMessage:
		return decodeOut[ChatBroadcast](data)
	case TypeWhiteboardUpdate:
		return decodeOut[WhiteboardBroadcast](data)
	case TypeHandRaised:
		return decodeOut[HandRaised](data)
	case TypeRoomClosed:
		return decodeOut[RoomClosed](data)
	case TypeProtocolError:
		return decodeOut[ProtocolError](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOutbound, head.Type)
	}
}

func decodeOut[T Outbound](data []byte) (Outbound, error) {
	var ev T
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, ErrMalformedFrame
	}
	return ev, nil
}
