package real

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/opd-ai/mtpxfer/interfaces"
	"github.com/opd-ai/mtpxfer/limits"
	"github.com/opd-ai/mtpxfer/transport"
	"github.com/sirupsen/logrus"
)

// DefaultResetDelay is how long Reset waits before redialing, giving the
// device bridge time to drop the previous link.
const DefaultResetDelay = 250 * time.Millisecond

// Sleeper provides an abstraction over time.Sleep for deterministic testing.
type Sleeper interface {
	// Sleep pauses execution for the specified duration.
	Sleep(d time.Duration)
}

// DefaultSleeper implements Sleeper using the standard library time.Sleep.
type DefaultSleeper struct{}

// Sleep pauses execution for the specified duration using time.Sleep.
func (DefaultSleeper) Sleep(d time.Duration) {
	time.Sleep(d)
}

// DialFunc opens a new link to the device bridge.
type DialFunc func(ctx context.Context) (io.ReadWriteCloser, error)

// deadliner is implemented by net.Conn and os.File.
type deadliner interface {
	SetDeadline(t time.Time) error
}

// StreamTransport implements interfaces.Transport over a reliable byte stream
// using the transport frame codec. One request is in flight at a time.
type StreamTransport struct {
	conn    io.ReadWriteCloser
	dial    DialFunc
	config  *interfaces.TransportConfig
	sleeper Sleeper

	mu     sync.Mutex
	broken error
	closed bool
}

// NewStreamTransport wraps an established link. Without a DialFunc the
// transport cannot Reset.
func NewStreamTransport(conn io.ReadWriteCloser, config *interfaces.TransportConfig, dial DialFunc) *StreamTransport {
	logrus.WithFields(logrus.Fields{
		"function":   "NewStreamTransport",
		"io_timeout": config.IOTimeout,
		"can_reset":  dial != nil,
	}).Info("Creating stream device transport")

	return &StreamTransport{
		conn:    conn,
		dial:    dial,
		config:  config,
		sleeper: DefaultSleeper{},
	}
}

// Dial connects to the device bridge at config.Address over TCP.
func Dial(ctx context.Context, config *interfaces.TransportConfig) (*StreamTransport, error) {
	dial := func(ctx context.Context) (io.ReadWriteCloser, error) {
		d := net.Dialer{Timeout: config.IOTimeout}
		return d.DialContext(ctx, "tcp", config.Address)
	}

	conn, err := dial(ctx)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Dial",
			"address":  config.Address,
			"error":    err.Error(),
		}).Error("Failed to connect to device bridge")
		return nil, fmt.Errorf("dial device bridge %s: %w", config.Address, err)
	}

	return NewStreamTransport(conn, config, dial), nil
}

// SetSleeper sets a custom Sleeper implementation (primarily for testing).
func (s *StreamTransport) SetSleeper(sl Sleeper) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeper = sl
}

// MaxChunkSize implements interfaces.Transport.
func (s *StreamTransport) MaxChunkSize() int {
	return limits.MaxChunkSize
}

// OpenSession implements interfaces.Transport. It opens a device session and
// sends the object info, returning once the device assigned an object id.
func (s *StreamTransport) OpenSession(ctx context.Context, info interfaces.ObjectInfo) (interfaces.SessionHandle, error) {
	reply, err := s.roundTrip(ctx, &transport.Frame{Type: transport.FrameOpenSession}, transport.FrameSessionAck)
	if err != nil {
		return interfaces.SessionHandle{}, fmt.Errorf("open session: %w", err)
	}
	sessionID, err := transport.DecodeSession(reply.Payload)
	if err != nil {
		return interfaces.SessionHandle{}, fmt.Errorf("open session: %w", err)
	}

	payload, err := transport.EncodeSessionInfo(sessionID, info)
	if err != nil {
		s.CloseSession(interfaces.SessionHandle{ID: sessionID})
		return interfaces.SessionHandle{}, fmt.Errorf("encode object info: %w", err)
	}

	reply, err = s.roundTrip(ctx, &transport.Frame{Type: transport.FrameObjectInfo, Payload: payload}, transport.FrameObjectInfoAck)
	if err != nil {
		s.CloseSession(interfaces.SessionHandle{ID: sessionID})
		return interfaces.SessionHandle{}, fmt.Errorf("send object info: %w", err)
	}
	ackSession, objectID, err := transport.DecodeSessionValue(reply.Payload)
	if err != nil {
		return interfaces.SessionHandle{}, fmt.Errorf("object info ack: %w", err)
	}
	if err := checkSession(sessionID, ackSession); err != nil {
		return interfaces.SessionHandle{}, err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "StreamTransport.OpenSession",
		"session_id": sessionID,
		"object_id":  objectID,
		"file_name":  info.Filename,
	}).Debug("Device accepted object info")

	return interfaces.SessionHandle{ID: sessionID, ObjectID: objectID}, nil
}

// WriteChunk implements interfaces.Transport.
func (s *StreamTransport) WriteChunk(ctx context.Context, h interfaces.SessionHandle, chunk []byte) error {
	if err := limits.ValidateChunk(chunk, limits.MaxChunkSize); err != nil {
		return err
	}

	frame := &transport.Frame{Type: transport.FrameData, Payload: transport.EncodeData(h.ID, chunk)}
	reply, err := s.roundTrip(ctx, frame, transport.FrameDataAck)
	if err != nil {
		return fmt.Errorf("write chunk: %w", err)
	}

	ackSession, _, err := transport.DecodeDataAck(reply.Payload)
	if err != nil {
		return fmt.Errorf("data ack: %w", err)
	}
	return checkSession(h.ID, ackSession)
}

// Commit implements interfaces.Transport.
func (s *StreamTransport) Commit(ctx context.Context, h interfaces.SessionHandle, digest []byte) error {
	frame := &transport.Frame{Type: transport.FrameCommit, Payload: transport.EncodeCommit(h.ID, digest)}
	reply, err := s.roundTrip(ctx, frame, transport.FrameCommitAck)
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	ackSession, objectID, err := transport.DecodeSessionValue(reply.Payload)
	if err != nil {
		return fmt.Errorf("commit ack: %w", err)
	}
	if err := checkSession(h.ID, ackSession); err != nil {
		return err
	}
	if objectID != h.ObjectID {
		return fmt.Errorf("%w: commit acknowledged object %d, expected %d", interfaces.ErrProtocol, objectID, h.ObjectID)
	}
	return nil
}

// OpenRead implements interfaces.Transport.
func (s *StreamTransport) OpenRead(ctx context.Context, objectID uint32) (interfaces.SessionHandle, interfaces.ObjectInfo, error) {
	frame := &transport.Frame{Type: transport.FrameOpenRead, Payload: transport.EncodeSession(objectID)}
	reply, err := s.roundTrip(ctx, frame, transport.FrameReadInfo)
	if err != nil {
		return interfaces.SessionHandle{}, interfaces.ObjectInfo{}, fmt.Errorf("open read: %w", err)
	}

	sessionID, info, err := transport.DecodeSessionInfo(reply.Payload)
	if err != nil {
		return interfaces.SessionHandle{}, interfaces.ObjectInfo{}, fmt.Errorf("read info: %w", err)
	}
	if info.ObjectID != objectID {
		s.CloseSession(interfaces.SessionHandle{ID: sessionID})
		return interfaces.SessionHandle{}, interfaces.ObjectInfo{}, fmt.Errorf("%w: device opened object %d, requested %d",
			interfaces.ErrProtocol, info.ObjectID, objectID)
	}

	return interfaces.SessionHandle{ID: sessionID, ObjectID: objectID}, info, nil
}

// ReadChunk implements interfaces.Transport.
func (s *StreamTransport) ReadChunk(ctx context.Context, h interfaces.SessionHandle, max int) ([]byte, error) {
	if err := limits.ValidateChunkSize(max); err != nil {
		return nil, err
	}

	frame := &transport.Frame{Type: transport.FrameReadChunk, Payload: transport.EncodeSessionValue(h.ID, uint32(max))}
	reply, err := s.roundTrip(ctx, frame, transport.FrameReadData)
	if err != nil {
		return nil, fmt.Errorf("read chunk: %w", err)
	}

	sessionID, chunk, err := transport.DecodeData(reply.Payload)
	if err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}
	if err := checkSession(h.ID, sessionID); err != nil {
		return nil, err
	}
	if len(chunk) > max {
		return nil, fmt.Errorf("%w: device sent %d bytes, asked for at most %d", interfaces.ErrProtocol, len(chunk), max)
	}
	return chunk, nil
}

// CloseSession implements interfaces.Transport. The device does not answer
// Close, so only the write is bounded by the I/O timeout.
func (s *StreamTransport) CloseSession(h interfaces.SessionHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usableLocked(); err != nil {
		return err
	}

	s.setDeadlineLocked(context.Background())
	err := transport.WriteFrame(s.conn, &transport.Frame{Type: transport.FrameClose, Payload: transport.EncodeSession(h.ID)})
	if err != nil {
		s.markBrokenLocked(err)
		return fmt.Errorf("close session %d: %w", h.ID, mapIOError(err))
	}
	return nil
}

// Reset implements interfaces.Resetter by dropping the link and dialing again.
func (s *StreamTransport) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return interfaces.ErrDeviceClosed
	}
	if s.dial == nil {
		return errors.New("stream transport has no dialer; cannot reset")
	}

	logrus.WithFields(logrus.Fields{
		"function": "StreamTransport.Reset",
		"broken":   s.broken != nil,
	}).Warn("Resetting device link")

	if err := s.conn.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "StreamTransport.Reset",
			"error":    err.Error(),
		}).Debug("Closing previous link failed")
	}
	s.sleeper.Sleep(DefaultResetDelay)

	conn, err := s.dial(ctx)
	if err != nil {
		s.broken = err
		return fmt.Errorf("reopen device link: %w", err)
	}
	s.conn = conn
	s.broken = nil
	return nil
}

// Close shuts the link down. Further calls fail with interfaces.ErrDeviceClosed.
func (s *StreamTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// roundTrip sends one request frame and reads the single reply frame.
func (s *StreamTransport) roundTrip(ctx context.Context, req *transport.Frame, want transport.FrameType) (*transport.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usableLocked(); err != nil {
		return nil, err
	}

	s.setDeadlineLocked(ctx)

	if err := transport.WriteFrame(s.conn, req); err != nil {
		s.markBrokenLocked(err)
		return nil, mapIOError(err)
	}

	reply, err := transport.ReadFrame(s.conn)
	if err != nil {
		s.markBrokenLocked(err)
		return nil, mapIOError(err)
	}

	switch reply.Type {
	case want:
		return reply, nil
	case transport.FrameError:
		return nil, transport.DecodeError(reply.Payload)
	default:
		// The stream is out of step with the device; refuse further requests.
		err := fmt.Errorf("%w: expected %s reply to %s, got %s", interfaces.ErrProtocol, want, req.Type, reply.Type)
		s.markBrokenLocked(err)
		return nil, err
	}
}

func (s *StreamTransport) usableLocked() error {
	if s.closed {
		return interfaces.ErrDeviceClosed
	}
	if s.broken != nil {
		return fmt.Errorf("%w: link broken: %v", interfaces.ErrDeviceClosed, s.broken)
	}
	return nil
}

// setDeadlineLocked bounds the next exchange by IOTimeout and ctx's deadline.
func (s *StreamTransport) setDeadlineLocked(ctx context.Context) {
	d, ok := s.conn.(deadliner)
	if !ok {
		return
	}
	deadline := time.Now().Add(s.config.IOTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := d.SetDeadline(deadline); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "StreamTransport.setDeadline",
			"error":    err.Error(),
		}).Debug("Link does not support deadlines")
	}
}

func (s *StreamTransport) markBrokenLocked(err error) {
	logrus.WithFields(logrus.Fields{
		"function": "StreamTransport",
		"error":    err.Error(),
	}).Warn("Device link failed; further requests refused until reset")
	s.broken = err
}

func checkSession(want, got uint32) error {
	if want != got {
		return fmt.Errorf("%w: reply for session %d, expected %d", interfaces.ErrProtocol, got, want)
	}
	return nil
}

// mapIOError wraps link-level failures around the interfaces sentinels.
func mapIOError(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %v", interfaces.ErrTimeout, err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return fmt.Errorf("%w: %v", interfaces.ErrDeviceClosed, err)
	default:
		return err
	}
}
