package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/mtpxfer/interfaces"
	"github.com/opd-ai/mtpxfer/limits"
)

// objectInfoFixedSize is objectID(4) + parent(4) + storage(4) + size(8) +
// mtime(8) + type(2) + name length(2).
const objectInfoFixedSize = 32

// ErrorCode classifies a FrameError payload.
type ErrorCode byte

const (
	CodeProtocol ErrorCode = iota + 1
	CodeObjectNotFound
	CodeChecksum
	CodeSessionClosed
	CodeDeviceClosed
)

// EncodeObjectInfo serializes object info.
// Format: [object id][parent id][storage id][size (8)][mtime (8)][type (2)][name len (2)][name]
// mtime is in unix seconds; 0 encodes the zero time.
func EncodeObjectInfo(info interfaces.ObjectInfo) ([]byte, error) {
	if err := limits.ValidateFileName(info.Filename); err != nil {
		return nil, err
	}

	buf := make([]byte, objectInfoFixedSize+len(info.Filename))
	binary.BigEndian.PutUint32(buf[0:4], info.ObjectID)
	binary.BigEndian.PutUint32(buf[4:8], info.ParentID)
	binary.BigEndian.PutUint32(buf[8:12], info.StorageID)
	binary.BigEndian.PutUint64(buf[12:20], info.Size)
	binary.BigEndian.PutUint64(buf[20:28], uint64(encodeTime(info.ModTime)))
	binary.BigEndian.PutUint16(buf[28:30], info.Type)
	binary.BigEndian.PutUint16(buf[30:32], uint16(len(info.Filename)))
	copy(buf[objectInfoFixedSize:], info.Filename)

	return buf, nil
}

// DecodeObjectInfo parses a payload produced by EncodeObjectInfo.
func DecodeObjectInfo(data []byte) (interfaces.ObjectInfo, error) {
	if len(data) < objectInfoFixedSize {
		return interfaces.ObjectInfo{}, fmt.Errorf("%w: object info", ErrFrameTooShort)
	}

	nameLen := int(binary.BigEndian.Uint16(data[30:32]))
	if len(data) != objectInfoFixedSize+nameLen {
		return interfaces.ObjectInfo{}, fmt.Errorf("%w: object info name length %d, payload %d",
			interfaces.ErrProtocol, nameLen, len(data))
	}

	info := interfaces.ObjectInfo{
		ObjectID:  binary.BigEndian.Uint32(data[0:4]),
		ParentID:  binary.BigEndian.Uint32(data[4:8]),
		StorageID: binary.BigEndian.Uint32(data[8:12]),
		Size:      binary.BigEndian.Uint64(data[12:20]),
		ModTime:   decodeTime(int64(binary.BigEndian.Uint64(data[20:28]))),
		Type:      binary.BigEndian.Uint16(data[28:30]),
		Filename:  string(data[objectInfoFixedSize:]),
	}
	if err := limits.ValidateFileName(info.Filename); err != nil {
		return interfaces.ObjectInfo{}, err
	}

	return info, nil
}

func encodeTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func decodeTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// EncodeSessionInfo prefixes an object info payload with a session id.
func EncodeSessionInfo(sessionID uint32, info interfaces.ObjectInfo) ([]byte, error) {
	body, err := EncodeObjectInfo(info)
	if err != nil {
		return nil, err
	}
	return append(EncodeSession(sessionID), body...), nil
}

// DecodeSessionInfo parses a payload produced by EncodeSessionInfo.
func DecodeSessionInfo(data []byte) (uint32, interfaces.ObjectInfo, error) {
	sessionID, rest, err := splitSession(data)
	if err != nil {
		return 0, interfaces.ObjectInfo{}, err
	}
	info, err := DecodeObjectInfo(rest)
	return sessionID, info, err
}

// EncodeSession serializes a bare session id.
func EncodeSession(sessionID uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, sessionID)
	return buf
}

// DecodeSession parses a payload that carries only a session id.
func DecodeSession(data []byte) (uint32, error) {
	sessionID, rest, err := splitSession(data)
	if err != nil {
		return 0, err
	}
	if len(rest) != 0 {
		return 0, fmt.Errorf("%w: %d trailing bytes after session id", interfaces.ErrProtocol, len(rest))
	}
	return sessionID, nil
}

// EncodeSessionValue serializes a session id followed by one 32-bit value
// (object id in ObjectInfoAck/CommitAck, max length in ReadChunk).
func EncodeSessionValue(sessionID, value uint32) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], sessionID)
	binary.BigEndian.PutUint32(buf[4:8], value)
	return buf
}

// DecodeSessionValue parses a payload produced by EncodeSessionValue.
func DecodeSessionValue(data []byte) (uint32, uint32, error) {
	if len(data) != 8 {
		return 0, 0, fmt.Errorf("%w: session value payload is %d bytes", interfaces.ErrProtocol, len(data))
	}
	return binary.BigEndian.Uint32(data[0:4]), binary.BigEndian.Uint32(data[4:8]), nil
}

// EncodeData serializes a data chunk for FrameData and FrameReadData.
func EncodeData(sessionID uint32, chunk []byte) []byte {
	buf := make([]byte, 4+len(chunk))
	binary.BigEndian.PutUint32(buf[0:4], sessionID)
	copy(buf[4:], chunk)
	return buf
}

// DecodeData parses a payload produced by EncodeData.
func DecodeData(data []byte) (uint32, []byte, error) {
	sessionID, rest, err := splitSession(data)
	if err != nil {
		return 0, nil, err
	}
	if err := limits.ValidateChunk(rest, limits.MaxChunkSize); err != nil {
		return 0, nil, err
	}
	return sessionID, rest, nil
}

// EncodeDataAck serializes the running byte count acknowledged by the device.
func EncodeDataAck(sessionID uint32, received uint64) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], sessionID)
	binary.BigEndian.PutUint64(buf[4:12], received)
	return buf
}

// DecodeDataAck parses a payload produced by EncodeDataAck.
func DecodeDataAck(data []byte) (uint32, uint64, error) {
	if len(data) != 12 {
		return 0, 0, fmt.Errorf("%w: data ack payload is %d bytes", interfaces.ErrProtocol, len(data))
	}
	return binary.BigEndian.Uint32(data[0:4]), binary.BigEndian.Uint64(data[4:12]), nil
}

// EncodeCommit serializes a commit request with the content digest.
func EncodeCommit(sessionID uint32, digest []byte) []byte {
	return EncodeData(sessionID, digest)
}

// DecodeCommit parses a payload produced by EncodeCommit.
func DecodeCommit(data []byte) (uint32, []byte, error) {
	return splitSession(data)
}

// EncodeError serializes a device error reply.
func EncodeError(code ErrorCode, message string) []byte {
	buf := make([]byte, 1+len(message))
	buf[0] = byte(code)
	copy(buf[1:], message)
	return buf
}

// DecodeError turns a FrameError payload into an error wrapping the matching
// interfaces sentinel.
func DecodeError(data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("%w: empty error frame", interfaces.ErrProtocol)
	}
	message := string(data[1:])
	return fmt.Errorf("%w: %s", sentinelFor(ErrorCode(data[0])), message)
}

// ErrorCodeFor maps an error to the code a device reports it with.
func ErrorCodeFor(err error) ErrorCode {
	switch {
	case errors.Is(err, interfaces.ErrObjectNotFound):
		return CodeObjectNotFound
	case errors.Is(err, interfaces.ErrChecksum):
		return CodeChecksum
	case errors.Is(err, interfaces.ErrSessionClosed):
		return CodeSessionClosed
	case errors.Is(err, interfaces.ErrDeviceClosed):
		return CodeDeviceClosed
	default:
		return CodeProtocol
	}
}

func sentinelFor(code ErrorCode) error {
	switch code {
	case CodeObjectNotFound:
		return interfaces.ErrObjectNotFound
	case CodeChecksum:
		return interfaces.ErrChecksum
	case CodeSessionClosed:
		return interfaces.ErrSessionClosed
	case CodeDeviceClosed:
		return interfaces.ErrDeviceClosed
	default:
		return interfaces.ErrProtocol
	}
}

func splitSession(data []byte) (uint32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, fmt.Errorf("%w: missing session id", ErrFrameTooShort)
	}
	return binary.BigEndian.Uint32(data[0:4]), data[4:], nil
}
