package speech

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRequestLayout(t *testing.T) {
	f, err := newRequestFrame([]byte(`{"a":1}`), false)
	require.NoError(t, err)

	data := f.marshal()
	// version 1, header size 1 word; full client request, no flags; JSON, no compression.
	assert.Equal(t, []byte{0x11, 0x10, 0x10, 0x00}, data[:4])
	assert.Equal(t, []byte{0, 0, 0, 7}, data[4:8])
	assert.Equal(t, `{"a":1}`, string(data[8:]))
}

func TestFrameAudioLastPacketNegatesSequence(t *testing.T) {
	f, err := newAudioFrame([]byte("pcm"), 5, true)
	require.NoError(t, err)

	parsed, err := parseFrame(f.marshal())
	require.NoError(t, err)
	assert.Equal(t, frameAudioOnlyRequest, parsed.Type)
	assert.Equal(t, int32(-5), parsed.Sequence)
	assert.True(t, parsed.isLast())

	body, err := parsed.body()
	require.NoError(t, err)
	assert.Equal(t, "pcm", string(body))
}

func TestFrameAudioMiddlePacket(t *testing.T) {
	f, err := newAudioFrame([]byte("pcm"), 3, false)
	require.NoError(t, err)

	parsed, err := parseFrame(f.marshal())
	require.NoError(t, err)
	assert.Equal(t, int32(3), parsed.Sequence)
	assert.False(t, parsed.isLast())
}

func TestFrameEventMetadata(t *testing.T) {
	session := &frame{
		Type:      frameFullServerResponse,
		Flags:     flagWithEvent,
		Event:     eventSessionFinished,
		SessionID: "sess-1",
		Payload:   []byte(`{}`),
	}
	parsed, err := parseFrame(session.marshal())
	require.NoError(t, err)
	assert.Equal(t, eventSessionFinished, parsed.Event)
	assert.Equal(t, "sess-1", parsed.SessionID)
	assert.Empty(t, parsed.ConnectID)

	conn := &frame{
		Type:      frameFullServerResponse,
		Flags:     flagWithEvent,
		Event:     eventConnectionStarted,
		ConnectID: "conn-9",
	}
	parsed, err = parseFrame(conn.marshal())
	require.NoError(t, err)
	assert.Equal(t, "conn-9", parsed.ConnectID)
	assert.Empty(t, parsed.SessionID)
}

func TestFrameErrorCode(t *testing.T) {
	f := &frame{Type: frameError, ErrorCode: 45000001, Payload: []byte("bad request")}
	parsed, err := parseFrame(f.marshal())
	require.NoError(t, err)
	assert.Equal(t, uint32(45000001), parsed.ErrorCode)
	assert.Equal(t, "bad request", string(parsed.Payload))
}

func TestParseFrameRejectsGarbage(t *testing.T) {
	_, err := parseFrame([]byte{0x11})
	assert.Error(t, err)

	_, err = parseFrame([]byte{0x21, 0x90, 0x10, 0x00, 0, 0, 0, 0})
	assert.Error(t, err, "unknown protocol version")

	// Declares a 10 byte payload but carries 2.
	_, err = parseFrame([]byte{0x11, 0x90, 0x10, 0x00, 0, 0, 0, 10, 'h', 'i'})
	assert.ErrorIs(t, err, errShortFrame)
}

func TestGzipHelpers(t *testing.T) {
	data := bytes.Repeat([]byte("speech "), 100)
	gz, err := gzipBytes(data)
	require.NoError(t, err)
	assert.Less(t, len(gz), len(data))

	out, err := gunzip(gz)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}
