package file

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors wrapped by Result.Err. Match them with errors.Is.
var (
	// ErrSourceUnavailable indicates the local data could not be read.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrSinkUnavailable indicates the local download destination could not be written.
	ErrSinkUnavailable = errors.New("sink unavailable")
	// ErrTransport indicates a failure talking to the device.
	ErrTransport = errors.New("transport error")
	// ErrSizeMismatch indicates the bytes moved disagree with the declared object size.
	ErrSizeMismatch = errors.New("size mismatch")
	// ErrCancelled indicates the caller cancelled the transfer.
	ErrCancelled = errors.New("transfer cancelled")
	// ErrInvalidRequest indicates the transfer was rejected before a session was opened.
	ErrInvalidRequest = errors.New("invalid transfer request")
)

// Outcome classifies how a transfer ended.
type Outcome uint8

const (
	// OutcomeSuccess indicates the device persisted the object, or the download was committed locally.
	OutcomeSuccess Outcome = iota
	// OutcomeCancelled indicates cooperative cancellation at a chunk boundary.
	OutcomeCancelled
	// OutcomeTransportError indicates a device communication failure.
	OutcomeTransportError
	// OutcomeSizeMismatch indicates the data was shorter or longer than declared.
	OutcomeSizeMismatch
	// OutcomeSourceUnavailable indicates the local source failed.
	OutcomeSourceUnavailable
	// OutcomeSinkUnavailable indicates the local download destination failed.
	OutcomeSinkUnavailable
	// OutcomeInvalidRequest indicates the metadata or arguments were rejected.
	OutcomeInvalidRequest
)

var outcomeNames = map[Outcome]string{
	OutcomeSuccess:           "Success",
	OutcomeCancelled:         "Cancelled",
	OutcomeTransportError:    "TransportError",
	OutcomeSizeMismatch:      "SizeMismatch",
	OutcomeSourceUnavailable: "SourceUnavailable",
	OutcomeSinkUnavailable:   "SinkUnavailable",
	OutcomeInvalidRequest:    "InvalidRequest",
}

// String returns the outcome name.
func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Outcome(%d)", uint8(o))
}

// Result is the single value every transfer returns.
type Result struct {
	Outcome     Outcome
	SessionID   string
	ObjectID    uint32
	Transferred uint64
	Total       uint64
	Elapsed     time.Duration
	// Err is nil on success and otherwise wraps the sentinel matching Outcome.
	Err error
}

// OK reports whether the transfer succeeded.
func (r Result) OK() bool {
	return r.Outcome == OutcomeSuccess
}

// Retryable reports whether a fresh attempt with a new session may succeed.
func (r Result) Retryable() bool {
	return r.Outcome == OutcomeTransportError
}

// classify maps an error to its outcome by the sentinel it wraps.
func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrCancelled):
		return OutcomeCancelled
	case errors.Is(err, ErrSizeMismatch):
		return OutcomeSizeMismatch
	case errors.Is(err, ErrSourceUnavailable):
		return OutcomeSourceUnavailable
	case errors.Is(err, ErrSinkUnavailable):
		return OutcomeSinkUnavailable
	case errors.Is(err, ErrInvalidRequest):
		return OutcomeInvalidRequest
	default:
		return OutcomeTransportError
	}
}

// transportError wraps a device failure so it matches both ErrTransport and
// the underlying interfaces sentinel.
func transportError(op string, err error) error {
	if errors.Is(err, ErrTransport) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}
