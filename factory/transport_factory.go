package factory

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/kelseyhightower/envconfig"
	"github.com/opd-ai/mtpxfer/interfaces"
	"github.com/opd-ai/mtpxfer/real"
	"github.com/opd-ai/mtpxfer/testing"
	"github.com/sirupsen/logrus"
)

// EnvPrefix is prepended to every environment variable read by LoadConfig,
// e.g. MTPX_USE_SIMULATION.
const EnvPrefix = "MTPX"

// DeviceTransport is a transport that owns a device link.
type DeviceTransport interface {
	interfaces.Transport
	io.Closer
}

// TransportFactory creates device transports based on configuration.
// It is safe for concurrent use; all methods are protected by an internal mutex.
type TransportFactory struct {
	mu            sync.RWMutex
	defaultConfig *interfaces.TransportConfig
}

// TestConfigOption is a functional option for customizing test simulation configuration.
type TestConfigOption func(*interfaces.TransportConfig)

// NewTransportFactory creates a factory whose defaults come from the
// environment. Invalid environment values are logged and ignored.
func NewTransportFactory() *TransportFactory {
	config, err := LoadConfig()
	if err != nil {
		config = DefaultConfig()
		logrus.WithFields(logrus.Fields{
			"function": "NewTransportFactory",
			"prefix":   EnvPrefix,
			"error":    err.Error(),
		}).Warn("Ignoring invalid environment configuration, using defaults")
	}
	logConfigurationInfo(config)

	return &TransportFactory{defaultConfig: config}
}

// NewTransportFactoryWithConfig creates a factory with an explicit default configuration.
func NewTransportFactoryWithConfig(config *interfaces.TransportConfig) (*TransportFactory, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	c := *config
	return &TransportFactory{defaultConfig: &c}, nil
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *interfaces.TransportConfig {
	return &interfaces.TransportConfig{
		UseSimulation: false, // Default to real implementation
		Address:       "127.0.0.1:7070",
		IOTimeout:     10 * time.Second,
		RetryAttempts: 0,
		ChunkSize:     16 * 1024,
	}
}

// LoadConfig reads MTPX_* environment variables on top of the defaults and
// validates the result.
func LoadConfig() (*interfaces.TransportConfig, error) {
	var config interfaces.TransportConfig
	if err := envconfig.Process(EnvPrefix, &config); err != nil {
		return nil, fmt.Errorf("read %s environment: %w", EnvPrefix, err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func logConfigurationInfo(config *interfaces.TransportConfig) {
	logrus.WithFields(logrus.Fields{
		"function":        "NewTransportFactory",
		"use_simulation":  config.UseSimulation,
		"address":         config.Address,
		"io_timeout":      config.IOTimeout,
		"retry_attempts":  config.RetryAttempts,
		"chunk_size":      config.ChunkSize,
		"simulation_root": config.SimulationRoot,
	}).Info("Transport factory initialized")
}

// CreateTransport creates a transport using the factory's default configuration.
func (f *TransportFactory) CreateTransport(ctx context.Context) (DeviceTransport, error) {
	return f.CreateTransportWithConfig(ctx, f.GetCurrentConfig())
}

// CreateTransportWithConfig creates a transport for config: a simulated device
// when UseSimulation is set, otherwise a stream transport dialed to Address.
func (f *TransportFactory) CreateTransportWithConfig(ctx context.Context, config *interfaces.TransportConfig) (DeviceTransport, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.UseSimulation {
		var fs billy.Filesystem
		if config.SimulationRoot != "" {
			fs = osfs.New(config.SimulationRoot)
		}
		logrus.WithFields(logrus.Fields{
			"function":        "CreateTransportWithConfig",
			"simulation_root": config.SimulationRoot,
		}).Info("Creating simulated device transport")
		return testing.NewSimulatedDevice(fs), nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "CreateTransportWithConfig",
		"address":  config.Address,
	}).Info("Creating stream device transport")
	st, err := real.Dial(ctx, config)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// CreateSimulationForTesting returns a simulated device regardless of the
// factory's default mode.
func (f *TransportFactory) CreateSimulationForTesting(opts ...TestConfigOption) *testing.SimulatedDevice {
	config := f.GetCurrentConfig()
	config.UseSimulation = true
	for _, opt := range opts {
		opt(config)
	}

	var fs billy.Filesystem
	if config.SimulationRoot != "" {
		fs = osfs.New(config.SimulationRoot)
	}
	return testing.NewSimulatedDevice(fs)
}

// WithSimulationRoot stores simulated objects under root on disk.
func WithSimulationRoot(root string) TestConfigOption {
	return func(c *interfaces.TransportConfig) {
		c.SimulationRoot = root
	}
}

// GetCurrentConfig returns a copy of the default configuration.
func (f *TransportFactory) GetCurrentConfig() *interfaces.TransportConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c := *f.defaultConfig
	return &c
}

// UpdateDefaultConfig replaces the default configuration after validating it.
func (f *TransportFactory) UpdateDefaultConfig(config *interfaces.TransportConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	c := *config
	f.defaultConfig = &c

	logrus.WithFields(logrus.Fields{
		"function":       "UpdateDefaultConfig",
		"use_simulation": c.UseSimulation,
	}).Info("Updated default transport configuration")
	return nil
}

// SwitchToSimulation makes later CreateTransport calls return a simulated device.
func (f *TransportFactory) SwitchToSimulation() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaultConfig.UseSimulation = true
}

// SwitchToReal makes later CreateTransport calls dial the device bridge.
func (f *TransportFactory) SwitchToReal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaultConfig.UseSimulation = false
}
