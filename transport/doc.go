// Package transport defines the wire format spoken between the stream
// transport and a device bridge.
//
// # Framing
//
// Every message is a frame on a reliable byte stream:
//
//	[type:1][length:4 big-endian][payload:length]
//
// Payloads are bounded by limits.MaxFramePayload. ReadFrame and WriteFrame
// move single frames over an io.Reader or io.Writer.
//
// # Exchanges
//
// Each request is answered by exactly one frame, either its acknowledgement
// or FrameError:
//
//	OpenSession  -> SessionAck
//	ObjectInfo   -> ObjectInfoAck
//	Data         -> DataAck
//	Commit       -> CommitAck
//	OpenRead     -> ReadInfo
//	ReadChunk    -> ReadData
//	Close        (no reply)
//
// Error frames carry an ErrorCode that maps back to the interfaces
// sentinels, so errors.Is works across the link.
package transport
