// Package real provides the production device transport.
//
// [StreamTransport] implements interfaces.Transport by exchanging
// transport frames with a device bridge over a reliable byte stream
// (usually a TCP connection obtained with [Dial]). Every request waits for
// exactly one reply; no two requests are ever in flight.
//
//	cfg := &interfaces.TransportConfig{Address: "127.0.0.1:7070", IOTimeout: 10 * time.Second}
//	t, err := real.Dial(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer t.Close()
//
// # Timeouts
//
// Each round trip is bounded by TransportConfig.IOTimeout, or by the request
// context's deadline when that is earlier. Expired deadlines surface as
// interfaces.ErrTimeout.
//
// # Broken Links
//
// After an I/O failure or an out-of-sequence reply the stream can no longer be
// trusted, so the transport refuses further requests with
// interfaces.ErrDeviceClosed until [StreamTransport.Reset] redials. Device
// error replies (FrameError) do not break the link.
package real
