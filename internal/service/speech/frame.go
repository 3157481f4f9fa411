package speech

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Volcengine speech websockets exchange binary frames:
//
//	byte 0   protocol version (hi nibble) | header size in 4-byte words (lo)
//	byte 1   message type (hi)            | flags (lo)
//	byte 2   serialization (hi)           | compression (lo)
//	byte 3   reserved
//	[int32 sequence]                       when flags carry a sequence
//	[int32 event][session id][connect id]  when flags carry an event
//	[uint32 error code]                    error frames only
//	uint32 payload size, payload
const protocolVersion = 0b0001

type frameType uint8

const (
	frameFullClientRequest  frameType = 0b0001
	frameAudioOnlyRequest   frameType = 0b0010
	frameFullServerResponse frameType = 0b1001
	frameAudioOnlyResponse  frameType = 0b1011
	frameError              frameType = 0b1111
)

type frameFlags uint8

const (
	flagNoSequence       frameFlags = 0b0000
	flagPositiveSequence frameFlags = 0b0001
	flagLastNoSequence   frameFlags = 0b0010
	flagNegativeSequence frameFlags = 0b0011
	flagWithEvent        frameFlags = 0b0100
)

const (
	serializationNone uint8 = 0b0000
	serializationJSON uint8 = 0b0001
)

const (
	compressionNone uint8 = 0b0000
	compressionGzip uint8 = 0b0001
)

type eventType int32

const (
	eventStartConnection    eventType = 1
	eventFinishConnection   eventType = 2
	eventConnectionStarted  eventType = 50
	eventConnectionFailed   eventType = 51
	eventConnectionFinished eventType = 52
	eventSessionStarted     eventType = 150
	eventSessionFinished    eventType = 152
	eventSessionFailed      eventType = 153
)

// frame is one decoded websocket message.
type frame struct {
	Type          frameType
	Flags         frameFlags
	Serialization uint8
	Compression   uint8
	Sequence      int32
	Event         eventType
	SessionID     string
	ConnectID     string
	ErrorCode     uint32
	Payload       []byte
}

func (f *frame) hasSequence() bool {
	switch f.Flags & 0b0011 {
	case flagPositiveSequence, flagNegativeSequence:
		return true
	}
	return false
}

func (f *frame) hasEvent() bool {
	return f.Flags&flagWithEvent != 0
}

// isLast reports whether the sender marked this as the final frame.
func (f *frame) isLast() bool {
	switch f.Flags & 0b0011 {
	case flagLastNoSequence, flagNegativeSequence:
		return true
	}
	return false
}

// marshal encodes f. Payload is written as-is; compress it beforehand.
func (f *frame) marshal() []byte {
	var buf bytes.Buffer
	buf.Write([]byte{
		protocolVersion<<4 | 1,
		uint8(f.Type)<<4 | uint8(f.Flags),
		f.Serialization<<4 | f.Compression,
		0,
	})

	putUint32 := func(v uint32) {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v)
		buf.Write(b[:])
	}
	putString := func(s string) {
		putUint32(uint32(len(s)))
		buf.WriteString(s)
	}

	if f.hasSequence() {
		putUint32(uint32(f.Sequence))
	}
	if f.hasEvent() {
		putUint32(uint32(f.Event))
		if !connectionLevel(f.Event) {
			putString(f.SessionID)
		}
		if carriesConnectID(f.Event) {
			putString(f.ConnectID)
		}
	}
	if f.Type == frameError {
		putUint32(f.ErrorCode)
	}
	putUint32(uint32(len(f.Payload)))
	buf.Write(f.Payload)
	return buf.Bytes()
}

var errShortFrame = errors.New("speech frame truncated")

// parseFrame decodes one websocket message.
func parseFrame(data []byte) (*frame, error) {
	if len(data) < 4 {
		return nil, errShortFrame
	}
	if version := data[0] >> 4; version != protocolVersion {
		return nil, fmt.Errorf("unsupported protocol version %d", version)
	}

	f := &frame{
		Type:          frameType(data[1] >> 4),
		Flags:         frameFlags(data[1] & 0x0F),
		Serialization: data[2] >> 4,
		Compression:   data[2] & 0x0F,
	}

	headerSize := int(data[0]&0x0F) * 4
	if headerSize < 4 || len(data) < headerSize {
		return nil, errShortFrame
	}
	r := bytes.NewReader(data[headerSize:])

	readUint32 := func() (uint32, error) {
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, errShortFrame
		}
		return binary.BigEndian.Uint32(b[:]), nil
	}
	readBytes := func() ([]byte, error) {
		n, err := readUint32()
		if err != nil {
			return nil, err
		}
		if int64(n) > int64(r.Len()) {
			return nil, errShortFrame
		}
		out := make([]byte, n)
		_, _ = io.ReadFull(r, out)
		return out, nil
	}

	if f.hasSequence() {
		seq, err := readUint32()
		if err != nil {
			return nil, err
		}
		f.Sequence = int32(seq)
	}

	if f.hasEvent() {
		event, err := readUint32()
		if err != nil {
			return nil, err
		}
		f.Event = eventType(int32(event))

		if !connectionLevel(f.Event) {
			id, err := readBytes()
			if err != nil {
				return nil, err
			}
			f.SessionID = string(id)
		}
		if carriesConnectID(f.Event) {
			id, err := readBytes()
			if err != nil {
				return nil, err
			}
			f.ConnectID = string(id)
		}
	}

	if f.Type == frameError {
		code, err := readUint32()
		if err != nil {
			return nil, err
		}
		f.ErrorCode = code
	}

	payload, err := readBytes()
	if err != nil {
		return nil, err
	}
	f.Payload = payload
	return f, nil
}

// body returns the payload with compression removed.
func (f *frame) body() ([]byte, error) {
	switch f.Compression {
	case compressionNone:
		return f.Payload, nil
	case compressionGzip:
		return gunzip(f.Payload)
	default:
		return nil, fmt.Errorf("unsupported compression %d", f.Compression)
	}
}

func connectionLevel(e eventType) bool {
	switch e {
	case eventStartConnection, eventFinishConnection,
		eventConnectionStarted, eventConnectionFailed, eventConnectionFinished:
		return true
	}
	return false
}

func carriesConnectID(e eventType) bool {
	switch e {
	case eventConnectionStarted, eventConnectionFailed, eventConnectionFinished:
		return true
	}
	return false
}

// newRequestFrame wraps a JSON request body.
func newRequestFrame(body []byte, compress bool) (*frame, error) {
	f := &frame{Type: frameFullClientRequest, Serialization: serializationJSON}
	if !compress {
		f.Payload = body
		return f, nil
	}
	gz, err := gzipBytes(body)
	if err != nil {
		return nil, err
	}
	f.Compression = compressionGzip
	f.Payload = gz
	return f, nil
}

// newAudioFrame wraps one gzip-compressed audio chunk. The final chunk is
// sent with a negated sequence number.
func newAudioFrame(chunk []byte, seq int32, last bool) (*frame, error) {
	gz, err := gzipBytes(chunk)
	if err != nil {
		return nil, err
	}
	f := &frame{
		Type:          frameAudioOnlyRequest,
		Flags:         flagPositiveSequence,
		Serialization: serializationNone,
		Compression:   compressionGzip,
		Sequence:      seq,
		Payload:       gz,
	}
	if last {
		f.Flags = flagNegativeSequence
		f.Sequence = -seq
	}
	return f, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		_ = zw.Close()
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	return out, nil
}
