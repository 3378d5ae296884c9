package mtpxfer

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/opd-ai/mtpxfer/factory"
	"github.com/opd-ai/mtpxfer/file"
	"github.com/opd-ai/mtpxfer/interfaces"
	"github.com/sirupsen/logrus"
)

// ErrDeviceClosed is returned by transfers started after Close.
var ErrDeviceClosed = interfaces.ErrDeviceClosed

// Options configures a Device.
type Options struct {
	// Config selects and tunes the device transport. Nil loads it from the
	// MTPX_* environment.
	Config *interfaces.TransportConfig

	// Transport, when set, is used instead of creating one from Config. The
	// device takes ownership of it and closes it on Close.
	Transport factory.DeviceTransport

	// Filesystem resolves local paths. Nil uses the host filesystem.
	Filesystem billy.Filesystem

	// Logger receives transfer diagnostics. Nil uses the standard logger.
	Logger logrus.FieldLogger
}

// NewOptions returns options whose transport configuration comes from the
// environment, falling back to defaults when it is invalid.
func NewOptions() *Options {
	config, err := factory.LoadConfig()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewOptions",
			"error":    err.Error(),
		}).Warn("Ignoring invalid environment configuration, using defaults")
		config = factory.DefaultConfig()
	}
	return &Options{Config: config}
}

// Device is an open connection to one portable device. Transfers on a
// device run one at a time.
type Device struct {
	transport factory.DeviceTransport
	manager   *file.Manager
	logger    logrus.FieldLogger

	mu     sync.RWMutex
	closed bool
}

// New opens a device described by options.
func New(ctx context.Context, options *Options) (*Device, error) {
	if options == nil {
		options = NewOptions()
	}
	config := options.Config
	if config == nil {
		config = NewOptions().Config
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := options.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	t := options.Transport
	if t == nil {
		f, err := factory.NewTransportFactoryWithConfig(config)
		if err != nil {
			return nil, err
		}
		t, err = f.CreateTransport(ctx)
		if err != nil {
			return nil, fmt.Errorf("open device: %w", err)
		}
	}

	managerOpts := []file.ManagerOption{file.WithConfig(config), file.WithLogger(logger)}
	if options.Filesystem != nil {
		managerOpts = append(managerOpts, file.WithFilesystem(options.Filesystem))
	}

	logger.WithFields(logrus.Fields{
		"function":   "New",
		"simulation": config.UseSimulation,
		"address":    config.Address,
	}).Info("Device opened")

	return &Device{
		transport: t,
		manager:   file.NewManager(t, managerOpts...),
		logger:    logger,
	}, nil
}

// SendFile uploads the file at path to the device.
func (d *Device) SendFile(ctx context.Context, path string, meta file.ObjectMetadata, progress file.ProgressFunc) file.Result {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return closedResult(meta.Size)
	}
	return d.manager.SendFile(ctx, path, meta, progress)
}

// SendFileFromDescriptor uploads the bytes read from r to the device. r is
// never closed.
func (d *Device) SendFileFromDescriptor(ctx context.Context, r io.Reader, meta file.ObjectMetadata, progress file.ProgressFunc) file.Result {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return closedResult(meta.Size)
	}
	return d.manager.SendFileFromDescriptor(ctx, r, meta, progress)
}

// GetFile downloads object objectID into the file at path.
func (d *Device) GetFile(ctx context.Context, objectID uint32, path string, progress file.ProgressFunc) file.Result {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return closedResult(0)
	}
	return d.manager.GetFile(ctx, objectID, path, progress)
}

// GetFileToDescriptor downloads object objectID into w. w is never closed.
func (d *Device) GetFileToDescriptor(ctx context.Context, objectID uint32, w io.Writer, progress file.ProgressFunc) file.Result {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return closedResult(0)
	}
	return d.manager.GetFileToDescriptor(ctx, objectID, w, progress)
}

// Close waits for the running transfer, then releases the device link. It is
// safe to call more than once.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	d.logger.WithField("function", "Close").Info("Closing device")
	return d.transport.Close()
}

func closedResult(total uint64) file.Result {
	return file.Result{
		Outcome: file.OutcomeInvalidRequest,
		Total:   total,
		Err:     fmt.Errorf("%w: %w", file.ErrInvalidRequest, ErrDeviceClosed),
	}
}
