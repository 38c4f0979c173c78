package protocol

import (
	"encoding/binary"
	"math"
	"unicode/utf8"
)

// EncodePublishPayload builds a Publish payload:
// [2-byte BE topic length][topic][application bytes].
func EncodePublishPayload(topic string, data []byte) ([]byte, error) {
	if len(topic) > math.MaxUint16 {
		return nil, ErrTopicTooLong
	}
	if !utf8.ValidString(topic) {
		return nil, ErrTopicNotUTF8
	}
	out := make([]byte, 2+len(topic)+len(data))
	binary.BigEndian.PutUint16(out[0:2], uint16(len(topic)))
	copy(out[2:], topic)
	copy(out[2+len(topic):], data)
	return out, nil
}

// DecodePublishPayload splits a Publish payload into topic and application
// bytes. The returned data aliases payload.
func DecodePublishPayload(payload []byte) (string, []byte, error) {
	if len(payload) < 2 {
		return "", nil, ErrPublishTruncated
	}
	n := int(binary.BigEndian.Uint16(payload[0:2]))
	if len(payload)-2 < n {
		return "", nil, ErrPublishTruncated
	}
	topic := payload[2 : 2+n]
	if !utf8.Valid(topic) {
		return "", nil, ErrTopicNotUTF8
	}
	return string(topic), payload[2+n:], nil
}
