// Package limits provides centralized size constants and validation functions
// for device file transfers.
//
// # Size Hierarchy
//
//   - DefaultChunkSize (16 KiB): chunk size used when the caller has no preference.
//   - MaxChunkSize (64 KiB): the largest data chunk the engine will write or accept.
//   - MaxFramePayload: MaxChunkSize plus room for the frame's session id.
//   - MaxFileNameLength (255 bytes): object file names sent to the device.
//
// # Validation Functions
//
//	if err := limits.ValidateChunkSize(size); err != nil {
//	    // errors.Is(err, limits.ErrChunkSizeInvalid)
//	}
//
//	size := limits.EffectiveChunkSize(requested, transport.MaxChunkSize())
//
// All errors wrap a package sentinel and carry the offending and limiting sizes.
package limits
