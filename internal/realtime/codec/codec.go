// Package codec implements the versioned binary framing used for audio on
// the backend websocket. Version 1 sends raw payload bytes; version 2 adds a
// compact fixed-width header carrying the payload kind and size so JSON
// commands can share the binary channel.
package codec

import (
	"encoding/binary"
	"errors"
	"math"
)

const (
	// Version1 uses raw audio payload frames.
	Version1 = 1
	// Version2 uses a 4-byte header with payload kind and size.
	Version2 = 2

	kindAudio   = 0
	kindCommand = 1
)

// PayloadKind describes the decoded payload category.
type PayloadKind int

const (
	// PayloadKindAudio indicates audio bytes.
	PayloadKindAudio PayloadKind = iota
	// PayloadKindCommand indicates JSON command bytes.
	PayloadKindCommand
)

// NormalizeVersion returns a supported protocol version.
func NormalizeVersion(version int) int {
	if version == Version2 {
		return Version2
	}
	return Version1
}

// ErrPayloadTooLarge reports a payload that cannot fit the v2 uint16 size
// header.
var ErrPayloadTooLarge = errors.New("binary v2 payload exceeds 65535 bytes")

// Pack creates a binary audio frame according to protocol version.
func Pack(version int, payload []byte) ([]byte, error) {
	if NormalizeVersion(version) == Version1 {
		return payload, nil
	}
	if len(payload) > math.MaxUint16 {
		return nil, ErrPayloadTooLarge
	}
	head := make([]byte, 4)
	head[0] = kindAudio
	head[1] = 0
	binary.BigEndian.PutUint16(head[2:4], uint16(len(payload)))
	return append(head, payload...), nil
}

// Decode parses a binary frame according to protocol version.
func Decode(version int, frame []byte) ([]byte, PayloadKind, error) {
	if NormalizeVersion(version) == Version1 {
		return frame, PayloadKindAudio, nil
	}

	const headerSize = 4
	if len(frame) < headerSize {
		return nil, PayloadKindAudio, errors.New("binary v2 frame too short")
	}
	payloadSize := binary.BigEndian.Uint16(frame[2:4])
	if int(payloadSize) > len(frame)-headerSize {
		return nil, PayloadKindAudio, errors.New("binary v2 invalid payload size")
	}
	payload := frame[headerSize : headerSize+int(payloadSize)]
	switch frame[0] {
	case kindAudio:
		return payload, PayloadKindAudio, nil
	case kindCommand:
		return payload, PayloadKindCommand, nil
	default:
		return nil, PayloadKindAudio, errors.New("binary v2 unsupported payload kind")
	}
}
