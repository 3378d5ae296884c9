//go:generate go run go.uber.org/mock/mockgen -source=transport.go -destination=mocks/transport_mock.go -package=mocks

package interfaces

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrProtocol indicates the device answered with an unexpected or malformed reply.
	ErrProtocol = errors.New("device protocol error")

	// ErrTimeout indicates the device did not answer within the I/O timeout.
	ErrTimeout = errors.New("device timeout")

	// ErrDeviceClosed indicates the transport was closed.
	ErrDeviceClosed = errors.New("device closed")

	// ErrObjectNotFound indicates the device has no object with the requested id.
	ErrObjectNotFound = errors.New("object not found")

	// ErrChecksum indicates the device rejected a commit because the stored
	// content digest differs from the one sent.
	ErrChecksum = errors.New("object checksum mismatch")

	// ErrSessionClosed indicates a call on a handle that is no longer open.
	ErrSessionClosed = errors.New("session not open")
)

// ObjectInfo describes an object on the device.
// ObjectID is zero on upload requests and assigned by the device.
// ModTime travels with one-second resolution; the zero time means unset.
type ObjectInfo struct {
	ObjectID  uint32
	ParentID  uint32
	StorageID uint32
	Filename  string
	Size      uint64
	Type      uint16
	ModTime   time.Time
}

// SessionHandle identifies one open transfer session on the device.
type SessionHandle struct {
	ID       uint32
	ObjectID uint32
}

// Transport is the duplex channel to one device. It is owned by the caller;
// the transfer engine assumes exclusive use of it for the duration of one
// transfer and never multiplexes sessions on it.
type Transport interface {
	// OpenSession sends the object info and returns once the device has
	// acknowledged it. The returned handle carries the device-assigned object id.
	OpenSession(ctx context.Context, info ObjectInfo) (SessionHandle, error)

	// WriteChunk sends one data chunk and waits for its acknowledgement.
	WriteChunk(ctx context.Context, h SessionHandle, chunk []byte) error

	// Commit asks the device to persist the object. digest is the BLAKE2b-256
	// of the sent content; a device may ignore it.
	Commit(ctx context.Context, h SessionHandle, digest []byte) error

	// OpenRead opens an existing object for download and reports its info.
	OpenRead(ctx context.Context, objectID uint32) (SessionHandle, ObjectInfo, error)

	// ReadChunk reads at most max bytes of the object. An empty chunk means
	// the device has nothing more to send.
	ReadChunk(ctx context.Context, h SessionHandle, max int) ([]byte, error)

	// CloseSession releases the session on the device. It is safe to call
	// after a failed session; it never blocks on the device.
	CloseSession(h SessionHandle) error

	// MaxChunkSize is the largest chunk the device link accepts in one frame.
	MaxChunkSize() int
}

// Resetter is implemented by transports that can reopen a wedged device link.
type Resetter interface {
	Reset(ctx context.Context) error
}

// TransportConfig holds configuration for transport implementations.
type TransportConfig struct {
	// UseSimulation selects the in-memory simulated device.
	UseSimulation bool `envconfig:"USE_SIMULATION" default:"false"`

	// Address is the device bridge address for the stream transport.
	Address string `envconfig:"ADDRESS" default:"127.0.0.1:7070" validate:"required_if=UseSimulation false"`

	// IOTimeout bounds every device request/ack round trip.
	IOTimeout time.Duration `envconfig:"IO_TIMEOUT" default:"10s" validate:"gte=100ms,lte=10m"`

	// TransferTimeout bounds one transfer attempt; zero disables it.
	TransferTimeout time.Duration `envconfig:"TRANSFER_TIMEOUT" default:"0s" validate:"gte=0"`

	// RetryAttempts is the number of extra attempts after a transport failure.
	RetryAttempts int `envconfig:"RETRY_ATTEMPTS" default:"0" validate:"gte=0,lte=100"`

	// ChunkSize is the preferred data chunk size in bytes.
	ChunkSize int `envconfig:"CHUNK_SIZE" default:"16384" validate:"gte=1,lte=65536"`

	// SimulationRoot stores simulated device objects on disk; empty keeps them in memory.
	SimulationRoot string `envconfig:"SIMULATION_ROOT"`
}

var configValidator = validator.New()

// Validate checks the configuration bounds.
func (c *TransportConfig) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid transport config: %w", err)
	}
	return nil
}
