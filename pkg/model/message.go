package model

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/ugorji/go/codec"
)

// MessageKind discriminates the coordination messages on the wire.
type MessageKind int

const (
	// KindKeyframe resynchronizes the shared phase counter
	KindKeyframe MessageKind = iota + 1
	// KindModeUpdate steers the followers' animation mode
	KindModeUpdate
)

// keyframeTag is the wire value of the msg field for a keyframe
const keyframeTag = "KEYFRAME"

// SyncMessage is a decoded coordination message.
type SyncMessage struct {
	Kind MessageKind
	// Mode is only meaningful for KindModeUpdate
	Mode AnimationMode
	// Timestamp is the sender's logical clock reading at send time
	Timestamp uint32
}

// wireMessage is the wire shape, {"msg": "KEYFRAME" | integer-mode, "timestamp": integer}.
// The msg field is either a string or a number, so it is carried as any and
// classified after decoding.
type wireMessage struct {
	Msg       any    `json:"msg"`
	Timestamp uint32 `json:"timestamp"`
}

var jsonHandle = &codec.JsonHandle{}

// EncodeKeyframe serializes a keyframe message stamped with the given
// logical clock reading.
func EncodeKeyframe(timestamp uint32) ([]byte, error) {
	return encodeWire(&wireMessage{Msg: keyframeTag, Timestamp: timestamp})
}

// EncodeModeUpdate serializes a mode update message.
func EncodeModeUpdate(mode AnimationMode, timestamp uint32) ([]byte, error) {
	return encodeWire(&wireMessage{Msg: int(mode), Timestamp: timestamp})
}

func encodeWire(w *wireMessage) ([]byte, error) {
	var out []byte
	if err := codec.NewEncoderBytes(&out, jsonHandle).Encode(w); err != nil {
		return nil, fmt.Errorf("encode sync message: %w", err)
	}
	return out, nil
}

// DecodeSyncMessage parses a received payload. A payload that is not valid
// JSON, misses a field or carries the wrong types is rejected with an error;
// callers treat that as transport noise and drop it.
func DecodeSyncMessage(payload []byte) (*SyncMessage, error) {
	raw := map[string]any{}
	if err := codec.NewDecoderBytes(payload, jsonHandle).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode sync message: %w", err)
	}
	if _, ok := raw["msg"]; !ok {
		return nil, fmt.Errorf("decode sync message: missing msg field")
	}
	if _, ok := raw["timestamp"]; !ok {
		return nil, fmt.Errorf("decode sync message: missing timestamp field")
	}

	wire := &wireMessage{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           wire,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode sync message: %w", err)
	}

	msg := &SyncMessage{Timestamp: wire.Timestamp}
	switch v := wire.Msg.(type) {
	case string:
		if v != keyframeTag {
			return nil, fmt.Errorf("decode sync message: unknown msg %q", v)
		}
		msg.Kind = KindKeyframe
	case int64:
		msg.Kind = KindModeUpdate
		msg.Mode = AnimationMode(v)
	case uint64:
		msg.Kind = KindModeUpdate
		msg.Mode = AnimationMode(v)
	case float64:
		msg.Kind = KindModeUpdate
		msg.Mode = AnimationMode(v)
	default:
		return nil, fmt.Errorf("decode sync message: msg field has type %T", wire.Msg)
	}

	if msg.Kind == KindModeUpdate && !ValidMode(msg.Mode) {
		return nil, fmt.Errorf("decode sync message: unknown mode %d", msg.Mode)
	}
	return msg, nil
}
