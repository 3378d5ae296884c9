// Package interfaces defines the device transport boundary consumed by the
// transfer engine.
//
// # Core Interfaces
//
// [Transport] is the duplex channel to one device: session open with object
// info, chunk writes acknowledged one at a time, commit, and the read-side
// counterparts used for downloads. The engine treats it as opaque
// request/acknowledgement pairs.
//
//	h, err := t.OpenSession(ctx, interfaces.ObjectInfo{Filename: "a.mp3", Size: 10})
//	if err != nil {
//	    return err
//	}
//	defer t.CloseSession(h)
//
// [Resetter] is optional. Transports that can reopen a wedged link implement
// it and the file manager calls it before retrying a failed transfer.
//
// # Implementations
//
//   - real.StreamTransport speaks the frame protocol over a net.Conn.
//   - testing.SimulatedDevice keeps objects in memory or on a billy filesystem
//     and supports fault injection.
//
// Use the factory package to choose one from a [TransportConfig].
//
// # Error Handling
//
// Transports wrap their failures around the sentinels in this package
// (ErrProtocol, ErrTimeout, ErrDeviceClosed, ErrObjectNotFound, ErrChecksum,
// ErrSessionClosed) so callers can match with errors.Is.
//
// # Thread Safety
//
// A Transport serves one transfer at a time. Implementations in this module
// guard their state with a mutex, but callers must still serialize transfers.
package interfaces
