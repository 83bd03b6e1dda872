package speech

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
)

// Binary framing of the Volcengine streaming TTS protocol. Every frame has a
// 4-byte header followed by optional sequence and event fields, a big-endian
// payload size and the payload.

const frameVersion = 0b0001

// FrameType is the high nibble of the second header byte.
type FrameType uint8

const (
	FrameFullClientRequest FrameType = 0b0001
	FrameFullServerReply   FrameType = 0b1001
	FrameAudioOnlyReply    FrameType = 0b1011
	FrameError             FrameType = 0b1111
)

// FrameFlags is the low nibble of the second header byte.
type FrameFlags uint8

const (
	FlagNone        FrameFlags = 0b0000
	FlagSequence    FrameFlags = 0b0001
	FlagLastNoSeq   FrameFlags = 0b0010
	FlagLastWithSeq FrameFlags = 0b0011
	FlagEvent       FrameFlags = 0b0100
)

// Event identifies the server-side lifecycle event carried by a frame.
type Event int32

const (
	EventConnectionStarted  Event = 50
	EventConnectionFailed   Event = 51
	EventConnectionFinished Event = 52
	EventSessionStarted     Event = 150
	EventSessionFinished    Event = 152
	EventSessionFailed      Event = 153
)

// Serialization of the payload.
type Serialization uint8

const (
	SerializationNone Serialization = 0b0000
	SerializationJSON Serialization = 0b0001
)

// Compression of the payload.
type Compression uint8

const (
	CompressionNone Compression = 0b0000
	CompressionGzip Compression = 0b0001
)

// Frame is one decoded protocol message.
type Frame struct {
	Type          FrameType
	Flags         FrameFlags
	Serialization Serialization
	Compression   Compression
	Sequence      int32
	Event         Event
	SessionID     string
	ConnectID     string
	ErrorCode     uint32
	Payload       []byte
}

// NewRequestFrame builds the single JSON request a synthesis session starts
// with.
func NewRequestFrame(payload []byte) *Frame {
	return &Frame{
		Type:          FrameFullClientRequest,
		Flags:         FlagNone,
		Serialization: SerializationJSON,
		Compression:   CompressionNone,
		Payload:       payload,
	}
}

func (f *Frame) hasSequence() bool {
	flags := f.Flags & 0b0011
	return flags == FlagSequence || flags == FlagLastWithSeq
}

func (f *Frame) hasEvent() bool {
	return f.Flags&FlagEvent == FlagEvent
}

// IsLast reports whether the frame closes the audio stream.
func (f *Frame) IsLast() bool {
	flags := f.Flags & 0b0011
	return flags == FlagLastNoSeq || flags == FlagLastWithSeq || (f.hasSequence() && f.Sequence < 0)
}

// connection-level events carry a connect id and no session id
func isConnectionEvent(e Event) bool {
	return e == EventConnectionStarted || e == EventConnectionFailed || e == EventConnectionFinished
}

// Encode serializes the frame.
func (f *Frame) Encode() []byte {
	var buf bytes.Buffer
	buf.Write([]byte{
		frameVersion<<4 | 0b0001,
		uint8(f.Type)<<4 | uint8(f.Flags),
		uint8(f.Serialization)<<4 | uint8(f.Compression),
		0,
	})

	writeU32 := func(v uint32) {
		_ = binary.Write(&buf, binary.BigEndian, v)
	}
	writeString := func(s string) {
		writeU32(uint32(len(s)))
		buf.WriteString(s)
	}

	if f.hasSequence() {
		writeU32(uint32(f.Sequence))
	}
	if f.hasEvent() {
		writeU32(uint32(f.Event))
		if isConnectionEvent(f.Event) {
			writeString(f.ConnectID)
		} else {
			writeString(f.SessionID)
		}
	}
	if f.Type == FrameError {
		writeU32(f.ErrorCode)
	}
	writeU32(uint32(len(f.Payload)))
	buf.Write(f.Payload)
	return buf.Bytes()
}

// DecodeFrame parses one frame.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("frame too short: %d bytes", len(data))
	}
	if version := data[0] >> 4; version != frameVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", version)
	}

	f := &Frame{
		Type:          FrameType(data[1] >> 4),
		Flags:         FrameFlags(data[1] & 0x0F),
		Serialization: Serialization(data[2] >> 4),
		Compression:   Compression(data[2] & 0x0F),
	}

	r := bytes.NewReader(data[4:])
	if extra := int(data[0]&0x0F)*4 - 4; extra > 0 {
		if _, err := r.Seek(int64(extra), io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("skip extended header: %w", err)
		}
	}

	readU32 := func(what string) (uint32, error) {
		var v uint32
		if err := binary.Read(r, binary.BigEndian, &v); err != nil {
			return 0, fmt.Errorf("read %s: %w", what, err)
		}
		return v, nil
	}
	readBytes := func(what string) ([]byte, error) {
		size, err := readU32(what + " size")
		if err != nil {
			return nil, err
		}
		if int64(size) > int64(r.Len()) {
			return nil, fmt.Errorf("read %s: size %d exceeds frame", what, size)
		}
		out := make([]byte, size)
		if _, err := io.ReadFull(r, out); err != nil {
			return nil, fmt.Errorf("read %s: %w", what, err)
		}
		return out, nil
	}

	if f.hasSequence() {
		seq, err := readU32("sequence")
		if err != nil {
			return nil, err
		}
		f.Sequence = int32(seq)
	}
	if f.hasEvent() {
		event, err := readU32("event")
		if err != nil {
			return nil, err
		}
		f.Event = Event(event)
		id, err := readBytes("event id")
		if err != nil {
			return nil, err
		}
		if isConnectionEvent(f.Event) {
			f.ConnectID = string(id)
		} else {
			f.SessionID = string(id)
		}
	}
	if f.Type == FrameError {
		code, err := readU32("error code")
		if err != nil {
			return nil, err
		}
		f.ErrorCode = code
	}

	payload, err := readBytes("payload")
	if err != nil {
		return nil, err
	}
	f.Payload = payload
	return f, nil
}

// Body returns the payload with compression removed.
func (f *Frame) Body() ([]byte, error) {
	switch f.Compression {
	case CompressionNone:
		return f.Payload, nil
	case CompressionGzip:
		zr, err := gzip.NewReader(bytes.NewReader(f.Payload))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	default:
		return nil, fmt.Errorf("unsupported compression method: %d", f.Compression)
	}
}

// GzipPayload compresses data for a frame with CompressionGzip.
func GzipPayload(data []byte) ([]byte, error) {
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
