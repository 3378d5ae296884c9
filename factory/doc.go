// Package factory creates device transports from configuration.
//
// The factory hides the choice between the simulated device (testing package)
// and the stream transport (real package) so the file manager and the CLI
// never name a concrete implementation.
//
// # Configuration
//
// Defaults are read from the environment with envconfig:
//   - MTPX_USE_SIMULATION: "true" selects the simulated device
//   - MTPX_ADDRESS: host:port of the device bridge
//   - MTPX_IO_TIMEOUT: duration bounding each device round trip
//   - MTPX_TRANSFER_TIMEOUT: duration bounding one transfer attempt, 0 disables
//   - MTPX_RETRY_ATTEMPTS: extra attempts after a transport failure
//   - MTPX_CHUNK_SIZE: preferred chunk size in bytes
//   - MTPX_SIMULATION_ROOT: keep simulated objects on disk under this directory
//
// Values outside the bounds validated by interfaces.TransportConfig are
// rejected by LoadConfig; NewTransportFactory then falls back to DefaultConfig.
//
// # Usage
//
//	f := factory.NewTransportFactory()
//	t, err := f.CreateTransport(ctx)
//	if err != nil {
//	    return err
//	}
//	defer t.Close()
package factory
