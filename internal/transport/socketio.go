// Package transport maintains the socket.io channel to the downstream
// controller: engine.io framing over a websocket, the emit queue, and the
// request acknowledgement lifecycle.
package transport

import (
	"bytes"
	"encoding/json"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Engine.io v4 packet type bytes.
const (
	engineOpen    = '0'
	engineClose   = '1'
	enginePing    = '2'
	enginePong    = '3'
	engineMessage = '4'
)

// Socket.io packet type bytes, carried inside engine.io message packets.
const (
	socketConnect      = '0'
	socketDisconnect   = '1'
	socketEvent        = '2'
	socketConnectError = '4'
)

// handshake is the engine.io open payload.
type handshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
}

// encodeEvent frames one socket.io event: engine.io message + socket.io event
// + a JSON array of [name, payload].
func encodeEvent(event string, payload any) ([]byte, error) {
	body, err := jsonAPI.Marshal([]any{event, payload})
	if err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", event, err)
	}
	frame := make([]byte, 0, len(body)+2)
	frame = append(frame, engineMessage, socketEvent)
	return append(frame, body...), nil
}

// connectFrame is the namespace connect request sent after the engine.io
// handshake.
func connectFrame() []byte {
	return []byte{engineMessage, socketConnect}
}

func pongFrame() []byte {
	return []byte{enginePong}
}

// decodedFrame is one parsed inbound frame.
type decodedFrame struct {
	engineType byte
	socketType byte

	// event and payload are set for socket.io event frames.
	event   string
	payload json.RawMessage

	// handshake is set for engine.io open frames.
	handshake *handshake
}

// decodeFrame parses one inbound engine.io frame. Unknown or empty frames
// decode to an engineType of zero value and are skipped by the caller.
func decodeFrame(data []byte) (decodedFrame, error) {
	if len(data) == 0 {
		return decodedFrame{}, fmt.Errorf("empty frame")
	}
	frame := decodedFrame{engineType: data[0]}
	rest := data[1:]

	switch frame.engineType {
	case engineOpen:
		var hs handshake
		if err := jsonAPI.Unmarshal(rest, &hs); err != nil {
			return frame, fmt.Errorf("decoding handshake: %w", err)
		}
		frame.handshake = &hs
		return frame, nil
	case enginePing, enginePong, engineClose:
		return frame, nil
	case engineMessage:
		if len(rest) == 0 {
			return frame, fmt.Errorf("empty socket.io packet")
		}
		frame.socketType = rest[0]
		body := trimNamespace(rest[1:])
		if frame.socketType != socketEvent {
			return frame, nil
		}
		return decodeEventBody(frame, body)
	default:
		return frame, fmt.Errorf("unexpected engine.io packet type %q", frame.engineType)
	}
}

func decodeEventBody(frame decodedFrame, body []byte) (decodedFrame, error) {
	var parts []json.RawMessage
	if err := jsonAPI.Unmarshal(body, &parts); err != nil {
		return frame, fmt.Errorf("decoding event body: %w", err)
	}
	if len(parts) == 0 {
		return frame, fmt.Errorf("event body without a name")
	}
	if err := jsonAPI.Unmarshal(parts[0], &frame.event); err != nil {
		return frame, fmt.Errorf("decoding event name: %w", err)
	}
	if len(parts) > 1 {
		frame.payload = parts[1]
	}
	return frame, nil
}

// isNamespaceAck reports whether a frame acknowledges the namespace connect.
func isNamespaceAck(frame decodedFrame) bool {
	return frame.engineType == engineMessage && frame.socketType == socketConnect
}

// trimNamespace strips an optional namespace prefix like "/admin," from a
// socket.io body. The adapter speaks only the default namespace.
func trimNamespace(body []byte) []byte {
	if len(body) == 0 || body[0] != '/' {
		return body
	}
	if idx := bytes.IndexByte(body, ','); idx >= 0 {
		return body[idx+1:]
	}
	return body
}
