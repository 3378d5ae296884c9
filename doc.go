// Package mtpxfer moves files to and from a portable media device over a
// chunked, session-based transport.
//
// A Device wraps one device link. Uploads stream a local file or an
// arbitrary reader to the device in bounded chunks; downloads stream a
// device object into a local file or writer. Every call returns exactly one
// file.Result describing how the transfer ended.
//
// # Getting Started
//
//	dev, err := mtpxfer.New(ctx, mtpxfer.NewOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dev.Close()
//
//	res := dev.SendFile(ctx, "/music/track.mp3", file.ObjectMetadata{
//	    ParentID:  0,
//	    StorageID: 0x00010001,
//	}, func(ev file.ProgressEvent) {
//	    fmt.Printf("%d/%d\n", ev.Transferred, ev.Total)
//	})
//	if !res.OK() {
//	    log.Printf("upload failed: %s: %v", res.Outcome, res.Err)
//	}
//
// # Configuration
//
// NewOptions reads MTPX_* environment variables (see factory.LoadConfig).
// With MTPX_USE_SIMULATION=true the device is an in-process simulator,
// otherwise a stream transport is dialed to MTPX_ADDRESS.
//
// # Retries and Timeouts
//
// Transport failures are retried MTPX_RETRY_ATTEMPTS times with a fresh
// session; a path source is reopened and a seekable descriptor rewound.
// MTPX_TRANSFER_TIMEOUT bounds each attempt. Caller cancellation is never
// retried.
//
// # Concurrency
//
// Transfers on one Device are serialized. Close waits for the running
// transfer before releasing the link.
package mtpxfer
