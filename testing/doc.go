// Package testing provides a simulated device for deterministic testing of
// the transfer engine and the stream transport.
//
// # Overview
//
// [SimulatedDevice] implements interfaces.Transport and interfaces.Resetter
// against an object store kept on a billy filesystem. Objects are written to a
// staging file and only appear in the store after a commit whose size and
// digest match what the device received.
//
// # Simulation vs Real Implementation
//
//   - Simulation (this package): the engine calls the device in process, or
//     the device serves the frame protocol on a listener via [SimulatedDevice.Serve].
//   - Real (real package): frames travel over a TCP link to a device bridge.
//
// Both conform to interfaces.Transport, so the factory package can select
// either from an interfaces.TransportConfig.
//
// # Usage
//
//	dev := testing.NewSimulatedDevice(nil)
//	dev.SetFaults(testing.Faults{FailWriteAt: 2})
//
//	// run a transfer against dev ...
//
//	sizes := dev.WriteSizes()
//	content, info, err := dev.Object(objectID)
//
// # Fault Injection
//
// [Faults] fails an open, the nth chunk write or read, or a commit. Faults
// fire once unless Persistent is set, which lets tests exercise retry paths.
//
// # Thread Safety
//
// All methods on SimulatedDevice are safe for concurrent use.
package testing
