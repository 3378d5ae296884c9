// Package file implements chunked file transfer between local files and a
// portable device reached through an interfaces.Transport.
//
// # Overview
//
// The package is layered:
//
//   - Source and Sink: local data. A PathSource opens and owns a file; a
//     DescriptorSource or DescriptorSink borrows a caller's reader or writer
//     and never closes it.
//   - Session: the device handshake state machine
//     (Idle, Opening, AwaitingInfoAck, SendingData or ReceivingData,
//     Committing, Closed) with the terminal Failed and Cancelled states.
//   - Engine: moves the bytes chunk by chunk, reports progress, and returns
//     one Result. It never retries.
//   - Manager: the caller-facing API. It serializes transfers on a device,
//     detects file types, applies timeouts, and retries transport failures
//     with a brand-new session.
//
// # Uploads
//
//	m := file.NewManager(transport, file.WithRetryAttempts(2))
//	res := m.SendFile(ctx, "/music/track.mp3", file.ObjectMetadata{
//	    ParentID:  parent,
//	    StorageID: storage,
//	    Size:      uint64(info.Size()),
//	}, func(ev file.ProgressEvent) {
//	    fmt.Printf("%.1f%%\n", ev.Percent())
//	})
//	if !res.OK() {
//	    return res.Err
//	}
//
// The declared Size is a contract: a source that ends early or runs long
// fails with OutcomeSizeMismatch and the device never commits the object.
//
// # Downloads
//
//	res := m.GetFile(ctx, objectID, "/tmp/track.mp3", nil)
//
// Path downloads are written to a temporary file and renamed into place once
// every byte has arrived.
//
// # Cancellation
//
// Cancelling ctx is observed between chunks; a chunk already handed to the
// device is always allowed to finish. An expired deadline is reported as a
// transport timeout so the Manager may retry it.
//
// # Errors
//
// Result.Err wraps one of ErrSourceUnavailable, ErrSinkUnavailable,
// ErrTransport, ErrSizeMismatch, ErrCancelled, or ErrInvalidRequest, and
// transport failures additionally wrap the interfaces sentinel reported by
// the device:
//
//	if errors.Is(res.Err, interfaces.ErrTimeout) {
//	    // device stopped answering
//	}
package file
