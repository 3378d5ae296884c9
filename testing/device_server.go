package testing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/opd-ai/mtpxfer/interfaces"
	"github.com/opd-ai/mtpxfer/transport"
	"github.com/sirupsen/logrus"
)

// Serve accepts links on l and serves each on its own goroutine until ctx is
// done or the listener fails. Open links are closed and drained before Serve
// returns.
func (d *SimulatedDevice) Serve(ctx context.Context, l net.Listener) error {
	logrus.WithFields(logrus.Fields{
		"function": "SimulatedDevice.Serve",
		"address":  l.Addr().String(),
	}).Info("Simulated device listening")

	var (
		mu    sync.Mutex
		conns = make(map[net.Conn]struct{})
		wg    sync.WaitGroup
	)
	defer wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		l.Close()
		mu.Lock()
		for conn := range conns {
			conn.Close()
		}
		mu.Unlock()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		mu.Lock()
		if ctx.Err() != nil {
			mu.Unlock()
			conn.Close()
			return nil
		}
		conns[conn] = struct{}{}
		mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				mu.Lock()
				delete(conns, conn)
				mu.Unlock()
			}()
			if err := d.ServeConn(conn); err != nil && ctx.Err() == nil {
				logrus.WithFields(logrus.Fields{
					"function": "SimulatedDevice.Serve",
					"remote":   conn.RemoteAddr().String(),
					"error":    err.Error(),
				}).Warn("Device link ended with error")
			}
		}()
	}
}

// ServeConn answers frames on conn until the peer disconnects. Sessions opened
// over the link are dropped when it ends.
func (d *SimulatedDevice) ServeConn(conn io.ReadWriteCloser) error {
	defer conn.Close()

	owned := make(map[uint32]struct{})
	defer func() {
		for id := range owned {
			d.CloseSession(interfaces.SessionHandle{ID: id})
		}
	}()

	for {
		req, err := transport.ReadFrame(conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		reply := d.handleFrame(req, owned)
		if reply == nil {
			continue
		}
		if err := transport.WriteFrame(conn, reply); err != nil {
			return err
		}
	}
}

func (d *SimulatedDevice) handleFrame(req *transport.Frame, owned map[uint32]struct{}) *transport.Frame {
	logrus.WithFields(logrus.Fields{
		"function":     "SimulatedDevice.handleFrame",
		"frame_type":   req.Type.String(),
		"payload_size": len(req.Payload),
	}).Debug("Simulated device received frame")

	reply, err := d.dispatch(req, owned)
	if err != nil {
		return &transport.Frame{
			Type:    transport.FrameError,
			Payload: transport.EncodeError(transport.ErrorCodeFor(err), err.Error()),
		}
	}
	return reply
}

func (d *SimulatedDevice) dispatch(req *transport.Frame, owned map[uint32]struct{}) (*transport.Frame, error) {
	switch req.Type {
	case transport.FrameOpenSession:
		id, err := d.openSession()
		if err != nil {
			return nil, err
		}
		owned[id] = struct{}{}
		return &transport.Frame{Type: transport.FrameSessionAck, Payload: transport.EncodeSession(id)}, nil

	case transport.FrameObjectInfo:
		sessionID, info, err := transport.DecodeSessionInfo(req.Payload)
		if err != nil {
			return nil, err
		}
		objectID, err := d.acceptObjectInfo(sessionID, info)
		if err != nil {
			return nil, err
		}
		return &transport.Frame{Type: transport.FrameObjectInfoAck, Payload: transport.EncodeSessionValue(sessionID, objectID)}, nil

	case transport.FrameData:
		sessionID, chunk, err := transport.DecodeData(req.Payload)
		if err != nil {
			return nil, err
		}
		if err := d.WriteChunk(context.Background(), interfaces.SessionHandle{ID: sessionID}, chunk); err != nil {
			return nil, err
		}
		received := d.received(sessionID)
		return &transport.Frame{Type: transport.FrameDataAck, Payload: transport.EncodeDataAck(sessionID, received)}, nil

	case transport.FrameCommit:
		sessionID, digest, err := transport.DecodeCommit(req.Payload)
		if err != nil {
			return nil, err
		}
		objectID, err := d.commit(sessionID, digest)
		if err != nil {
			return nil, err
		}
		return &transport.Frame{Type: transport.FrameCommitAck, Payload: transport.EncodeSessionValue(sessionID, objectID)}, nil

	case transport.FrameOpenRead:
		objectID, err := transport.DecodeSession(req.Payload)
		if err != nil {
			return nil, err
		}
		h, info, err := d.OpenRead(context.Background(), objectID)
		if err != nil {
			return nil, err
		}
		owned[h.ID] = struct{}{}
		payload, err := transport.EncodeSessionInfo(h.ID, info)
		if err != nil {
			return nil, err
		}
		return &transport.Frame{Type: transport.FrameReadInfo, Payload: payload}, nil

	case transport.FrameReadChunk:
		sessionID, max, err := transport.DecodeSessionValue(req.Payload)
		if err != nil {
			return nil, err
		}
		chunk, err := d.ReadChunk(context.Background(), interfaces.SessionHandle{ID: sessionID}, int(max))
		if err != nil {
			return nil, err
		}
		return &transport.Frame{Type: transport.FrameReadData, Payload: transport.EncodeData(sessionID, chunk)}, nil

	case transport.FrameClose:
		sessionID, err := transport.DecodeSession(req.Payload)
		if err != nil {
			return nil, err
		}
		delete(owned, sessionID)
		if err := d.CloseSession(interfaces.SessionHandle{ID: sessionID}); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "SimulatedDevice.dispatch",
				"session_id": sessionID,
				"error":      err.Error(),
			}).Debug("Close for unknown session")
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: unexpected frame %s", interfaces.ErrProtocol, req.Type)
	}
}

func (d *SimulatedDevice) received(sessionID uint32) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.sessions[sessionID]; ok {
		return s.received
	}
	return 0
}
