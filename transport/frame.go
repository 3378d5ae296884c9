package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/opd-ai/mtpxfer/limits"
)

// FrameType identifies the type of a device frame.
type FrameType byte

const (
	// Session setup
	FrameOpenSession FrameType = iota + 1
	FrameSessionAck
	FrameObjectInfo
	FrameObjectInfoAck

	// Upload data path
	FrameData
	FrameDataAck
	FrameCommit
	FrameCommitAck

	// Download data path
	FrameOpenRead
	FrameReadInfo
	FrameReadChunk
	FrameReadData

	// Session teardown and failures
	FrameClose
	FrameError FrameType = 255
)

var frameTypeNames = map[FrameType]string{
	FrameOpenSession:   "OpenSession",
	FrameSessionAck:    "SessionAck",
	FrameObjectInfo:    "ObjectInfo",
	FrameObjectInfoAck: "ObjectInfoAck",
	FrameData:          "Data",
	FrameDataAck:       "DataAck",
	FrameCommit:        "Commit",
	FrameCommitAck:     "CommitAck",
	FrameOpenRead:      "OpenRead",
	FrameReadInfo:      "ReadInfo",
	FrameReadChunk:     "ReadChunk",
	FrameReadData:      "ReadData",
	FrameClose:         "Close",
	FrameError:         "Error",
}

// String returns the frame type name.
func (t FrameType) String() string {
	if name, ok := frameTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("FrameType(%d)", byte(t))
}

// ErrFrameTooShort indicates a frame or payload shorter than its fixed header.
var ErrFrameTooShort = errors.New("frame too short")

// Frame represents one device protocol frame.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// Serialize converts a frame to a byte slice for transmission.
func (f *Frame) Serialize() ([]byte, error) {
	if err := limits.ValidateFramePayload(len(f.Payload)); err != nil {
		return nil, err
	}

	// Format: [frame type (1 byte)][payload length (4 bytes, big endian)][payload]
	result := make([]byte, limits.FrameHeaderSize+len(f.Payload))
	result[0] = byte(f.Type)
	binary.BigEndian.PutUint32(result[1:5], uint32(len(f.Payload)))
	copy(result[limits.FrameHeaderSize:], f.Payload)

	return result, nil
}

// ParseFrame converts a serialized frame back into a Frame.
func ParseFrame(data []byte) (*Frame, error) {
	if len(data) < limits.FrameHeaderSize {
		return nil, ErrFrameTooShort
	}

	length := binary.BigEndian.Uint32(data[1:5])
	if err := limits.ValidateFramePayload(int(length)); err != nil {
		return nil, err
	}
	if len(data)-limits.FrameHeaderSize != int(length) {
		return nil, fmt.Errorf("%w: header says %d bytes, have %d", ErrFrameTooShort, length, len(data)-limits.FrameHeaderSize)
	}

	frame := &Frame{
		Type:    FrameType(data[0]),
		Payload: make([]byte, length),
	}
	copy(frame.Payload, data[limits.FrameHeaderSize:])

	return frame, nil
}

// WriteFrame serializes frame and writes it to w in a single Write call.
func WriteFrame(w io.Writer, frame *Frame) error {
	data, err := frame.Serialize()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ReadFrame reads exactly one frame from r. Partial reads on stream
// connections are reassembled; a payload above MaxFramePayload is rejected
// before it is allocated.
func ReadFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, limits.FrameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[1:5])
	if err := limits.ValidateFramePayload(int(length)); err != nil {
		return nil, err
	}

	frame := &Frame{
		Type:    FrameType(header[0]),
		Payload: make([]byte, length),
	}
	if _, err := io.ReadFull(r, frame.Payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return frame, nil
}
