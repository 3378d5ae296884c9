package file

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/opd-ai/mtpxfer/interfaces"
	"github.com/sirupsen/logrus"
)

// ErrInvalidTransition indicates a session was driven out of protocol order.
var ErrInvalidTransition = errors.New("invalid session state transition")

// Direction indicates whether a session uploads to or downloads from the device.
type Direction uint8

const (
	// DirectionUpload sends a local file to the device.
	DirectionUpload Direction = iota
	// DirectionDownload copies a device object to a local file.
	DirectionDownload
)

// String returns the direction name.
func (d Direction) String() string {
	if d == DirectionDownload {
		return "download"
	}
	return "upload"
}

// State is the protocol state of a transfer session.
type State uint8

const (
	StateIdle State = iota
	StateOpening
	StateAwaitingInfoAck
	StateSendingData
	StateReceivingData
	StateCommitting
	StateClosed
	StateFailed
	StateCancelled
)

var stateNames = map[State]string{
	StateIdle:            "Idle",
	StateOpening:         "Opening",
	StateAwaitingInfoAck: "AwaitingInfoAck",
	StateSendingData:     "SendingData",
	StateReceivingData:   "ReceivingData",
	StateCommitting:      "Committing",
	StateClosed:          "Closed",
	StateFailed:          "Failed",
	StateCancelled:       "Cancelled",
}

// String returns the state name.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed || s == StateCancelled
}

// transitions lists the states reachable from each non-terminal state.
// Every state appears after its predecessors, so following the table can
// never revisit a state.
var transitions = map[State][]State{
	StateIdle:            {StateOpening, StateFailed},
	StateOpening:         {StateAwaitingInfoAck, StateFailed, StateCancelled},
	StateAwaitingInfoAck: {StateSendingData, StateReceivingData, StateFailed, StateCancelled},
	StateSendingData:     {StateCommitting, StateFailed, StateCancelled},
	StateReceivingData:   {StateCommitting, StateFailed, StateCancelled},
	StateCommitting:      {StateClosed, StateFailed},
}

// CanTransition reports whether a session may move from one state to another.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Session sequences the device handshake for one transfer and owns its
// transport handle. It is driven by a single goroutine and takes no locks.
type Session struct {
	id          string
	direction   Direction
	state       State
	history     []State
	err         error
	meta        ObjectMetadata
	objectID    uint32
	transferred uint64
	total       uint64

	transport interfaces.Transport
	handle    interfaces.SessionHandle
	hasHandle bool
	logger    logrus.FieldLogger
}

// NewSession creates an idle upload session for meta.
func NewSession(t interfaces.Transport, meta ObjectMetadata, logger logrus.FieldLogger) *Session {
	s := newSession(t, DirectionUpload, logger)
	s.meta = meta
	s.total = meta.Size
	return s
}

// NewDownloadSession creates an idle download session for objectID.
func NewDownloadSession(t interfaces.Transport, objectID uint32, logger logrus.FieldLogger) *Session {
	s := newSession(t, DirectionDownload, logger)
	s.objectID = objectID
	return s
}

func newSession(t interfaces.Transport, dir Direction, logger logrus.FieldLogger) *Session {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	id := uuid.NewString()
	return &Session{
		id:        id,
		direction: dir,
		state:     StateIdle,
		history:   []State{StateIdle},
		transport: t,
		logger: logger.WithFields(logrus.Fields{
			"session_id": id,
			"direction":  dir.String(),
		}),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State { return s.state }

// History returns every state the session has entered, in order.
func (s *Session) History() []State { return append([]State(nil), s.history...) }

// Err returns the reason for a Failed or Cancelled session.
func (s *Session) Err() error { return s.err }

// ObjectID returns the device object id, once assigned.
func (s *Session) ObjectID() uint32 { return s.objectID }

// Metadata returns the object metadata. For downloads it is filled in by Open.
func (s *Session) Metadata() ObjectMetadata { return s.meta }

// Transferred returns the bytes moved so far.
func (s *Session) Transferred() uint64 { return s.transferred }

// Total returns the declared object size.
func (s *Session) Total() uint64 { return s.total }

// Open performs the open-session and object-info handshake and leaves the
// session in SendingData, or ReceivingData for downloads.
func (s *Session) Open(ctx context.Context) error {
	if err := s.transition(StateOpening); err != nil {
		return err
	}
	if err := contextError(ctx); err != nil {
		return s.abort(err)
	}

	if s.direction == DirectionDownload {
		return s.openRead(ctx)
	}

	h, err := s.transport.OpenSession(context.WithoutCancel(ctx), s.meta.ObjectInfo())
	if err != nil {
		return s.Fail(transportError("open session", err))
	}
	s.handle = h
	s.hasHandle = true
	if err := s.transition(StateAwaitingInfoAck); err != nil {
		return err
	}

	if h.ObjectID == 0 {
		return s.Fail(transportError("object info ack", fmt.Errorf("%w: device assigned no object id", interfaces.ErrProtocol)))
	}
	s.objectID = h.ObjectID

	s.logger.WithFields(logrus.Fields{
		"function":  "Session.Open",
		"object_id": s.objectID,
		"file_name": s.meta.Filename,
		"file_size": s.total,
	}).Debug("Device accepted object info")

	return s.transition(StateSendingData)
}

func (s *Session) openRead(ctx context.Context) error {
	h, info, err := s.transport.OpenRead(context.WithoutCancel(ctx), s.objectID)
	if err != nil {
		return s.Fail(transportError("open read", err))
	}
	s.handle = h
	s.hasHandle = true
	if err := s.transition(StateAwaitingInfoAck); err != nil {
		return err
	}

	if info.ObjectID != 0 && info.ObjectID != s.objectID {
		return s.Fail(transportError("read info", fmt.Errorf("%w: device opened object %d, requested %d",
			interfaces.ErrProtocol, info.ObjectID, s.objectID)))
	}
	s.meta = ObjectMetadata{
		Filename:  info.Filename,
		ParentID:  info.ParentID,
		StorageID: info.StorageID,
		Size:      info.Size,
		Type:      FileType(info.Type),
	}
	s.total = info.Size

	s.logger.WithFields(logrus.Fields{
		"function":  "Session.Open",
		"object_id": s.objectID,
		"file_name": info.Filename,
		"file_size": info.Size,
	}).Debug("Device opened object for reading")

	return s.transition(StateReceivingData)
}

// WriteChunk sends chunk to the device and counts it once acknowledged.
func (s *Session) WriteChunk(ctx context.Context, chunk []byte) error {
	if s.state != StateSendingData {
		return fmt.Errorf("%w: write in state %s", ErrInvalidTransition, s.state)
	}
	if s.transferred+uint64(len(chunk)) > s.total {
		return s.Fail(fmt.Errorf("%w: chunk of %d bytes after %d would exceed declared size %d",
			ErrSizeMismatch, len(chunk), s.transferred, s.total))
	}
	if err := s.transport.WriteChunk(ctx, s.handle, chunk); err != nil {
		return s.Fail(transportError(fmt.Sprintf("write chunk at offset %d", s.transferred), err))
	}
	s.transferred += uint64(len(chunk))
	return nil
}

// ReadChunk requests up to max bytes from the device. The chunk is counted
// by Accept once the caller has stored it.
func (s *Session) ReadChunk(ctx context.Context, max int) ([]byte, error) {
	if s.state != StateReceivingData {
		return nil, fmt.Errorf("%w: read in state %s", ErrInvalidTransition, s.state)
	}
	chunk, err := s.transport.ReadChunk(ctx, s.handle, max)
	if err != nil {
		return nil, s.Fail(transportError(fmt.Sprintf("read chunk at offset %d", s.transferred), err))
	}
	if len(chunk) == 0 {
		return nil, s.Fail(fmt.Errorf("%w: device ended object after %d of %d bytes", ErrSizeMismatch, s.transferred, s.total))
	}
	if s.transferred+uint64(len(chunk)) > s.total {
		return nil, s.Fail(fmt.Errorf("%w: device sent %d bytes after %d, object size %d",
			ErrSizeMismatch, len(chunk), s.transferred, s.total))
	}
	return chunk, nil
}

// Accept counts n received bytes.
func (s *Session) Accept(n int) {
	s.transferred += uint64(n)
}

// Commit finishes an upload: the device verifies digest and persists the
// object. The byte count must already equal the declared size.
func (s *Session) Commit(ctx context.Context, digest []byte) error {
	if s.transferred != s.total {
		return s.Fail(fmt.Errorf("%w: source ended after %d of %d bytes", ErrSizeMismatch, s.transferred, s.total))
	}
	if err := s.transition(StateCommitting); err != nil {
		return err
	}
	if err := s.transport.Commit(ctx, s.handle, digest); err != nil {
		return s.Fail(transportError("commit", err))
	}
	return s.transition(StateClosed)
}

// CommitSink finishes a download by committing the local sink.
func (s *Session) CommitSink(sink Sink) error {
	if s.transferred != s.total {
		return s.Fail(fmt.Errorf("%w: received %d of %d bytes", ErrSizeMismatch, s.transferred, s.total))
	}
	if err := s.transition(StateCommitting); err != nil {
		return err
	}
	if err := sink.Commit(); err != nil {
		return s.Fail(err)
	}
	return s.transition(StateClosed)
}

// Fail moves the session to Failed with reason err and returns err.
// Reasons wrapping ErrCancelled move it to Cancelled instead.
func (s *Session) Fail(err error) error {
	return s.abort(err)
}

// Cancel moves the session to Cancelled.
func (s *Session) Cancel() error {
	return s.abort(fmt.Errorf("%w: cancelled by caller", ErrCancelled))
}

func (s *Session) abort(err error) error {
	if s.state.Terminal() {
		return err
	}
	target := StateFailed
	if errors.Is(err, ErrCancelled) && CanTransition(s.state, StateCancelled) {
		target = StateCancelled
	}
	s.err = err
	if terr := s.transition(target); terr != nil {
		return terr
	}
	return err
}

// transition moves to next and closes the transport handle on entering a
// terminal state.
func (s *Session) transition(next State) error {
	if !CanTransition(s.state, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, next)
	}

	s.logger.WithFields(logrus.Fields{
		"function": "Session.transition",
		"from":     s.state.String(),
		"to":       next.String(),
	}).Debug("Session state change")

	s.state = next
	s.history = append(s.history, next)
	if next.Terminal() {
		s.closeHandle()
	}
	return nil
}

func (s *Session) closeHandle() {
	if !s.hasHandle {
		return
	}
	s.hasHandle = false
	if err := s.transport.CloseSession(s.handle); err != nil {
		s.logger.WithFields(logrus.Fields{
			"function":  "Session.closeHandle",
			"handle_id": s.handle.ID,
			"error":     err.Error(),
		}).Warn("Failed to close device session")
	}
}

// contextError maps a done context to the error the transfer ends with. An
// expired deadline is a device timeout; anything else is caller cancellation.
func contextError(ctx context.Context) error {
	err := ctx.Err()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return transportError("transfer deadline", fmt.Errorf("%w: %w", interfaces.ErrTimeout, err))
	default:
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
}
