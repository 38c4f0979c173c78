package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishPayload(t *testing.T) {
	payload, err := EncodePublishPayload("t", []byte("P"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x01, 't', 'P'}, payload)

	topic, data, err := DecodePublishPayload(payload)
	require.NoError(t, err)
	assert.Equal(t, "t", topic)
	assert.Equal(t, []byte("P"), data)
}

func TestPublishPayloadEmptyParts(t *testing.T) {
	topic, data, err := DecodePublishPayload([]byte{0, 0})
	require.NoError(t, err)
	assert.Equal(t, "", topic)
	assert.Empty(t, data)
}

func TestDecodePublishPayloadRejects(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    error
	}{
		{"empty", nil, ErrPublishTruncated},
		{"one byte", []byte{0}, ErrPublishTruncated},
		{"length exceeds remaining", []byte{0, 5, 'a', 'b'}, ErrPublishTruncated},
		{"invalid utf8", []byte{0, 2, 0xff, 0xfe, 'x'}, ErrTopicNotUTF8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodePublishPayload(tt.payload)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEncodePublishPayloadRejects(t *testing.T) {
	_, err := EncodePublishPayload(strings.Repeat("x", 1<<16), nil)
	assert.ErrorIs(t, err, ErrTopicTooLong)

	_, err = EncodePublishPayload(string([]byte{0xff}), nil)
	assert.ErrorIs(t, err, ErrTopicNotUTF8)
}
