package testing

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/opd-ai/mtpxfer/interfaces"
	"github.com/opd-ai/mtpxfer/limits"
	"github.com/opd-ai/mtpxfer/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

func uploadAll(t *testing.T, d *SimulatedDevice, name string, content []byte, chunk int) (interfaces.SessionHandle, error) {
	t.Helper()
	ctx := context.Background()
	h, err := d.OpenSession(ctx, interfaces.ObjectInfo{Filename: name, Size: uint64(len(content))})
	if err != nil {
		return h, err
	}
	defer d.CloseSession(h)

	for off := 0; off < len(content); off += chunk {
		end := min(off+chunk, len(content))
		if err := d.WriteChunk(ctx, h, content[off:end]); err != nil {
			return h, err
		}
	}
	sum := blake2b.Sum256(content)
	return h, d.Commit(ctx, h, sum[:])
}

func TestSimulatedDeviceUploadCommit(t *testing.T) {
	d := NewSimulatedDevice(nil)
	content := bytes.Repeat([]byte("abc"), 1000)

	h, err := uploadAll(t, d, "song.mp3", content, 1024)
	require.NoError(t, err)
	assert.NotZero(t, h.ObjectID)

	stored, info, err := d.Object(h.ObjectID)
	require.NoError(t, err)
	assert.Equal(t, content, stored)
	assert.Equal(t, "song.mp3", info.Filename)
	assert.Equal(t, []int{1024, 1024, 952}, d.WriteSizes())

	stats := d.GetStats()
	assert.Equal(t, 1, stats.Commits)
	assert.Equal(t, 1, stats.Objects)
	assert.Zero(t, d.OpenSessions())
}

func TestSimulatedDeviceRejectsBadDigest(t *testing.T) {
	d := NewSimulatedDevice(nil)
	ctx := context.Background()
	h, err := d.OpenSession(ctx, interfaces.ObjectInfo{Filename: "a.txt", Size: 3})
	require.NoError(t, err)
	require.NoError(t, d.WriteChunk(ctx, h, []byte("abc")))

	err = d.Commit(ctx, h, make([]byte, blake2b.Size256))
	assert.ErrorIs(t, err, interfaces.ErrChecksum)
	require.NoError(t, d.CloseSession(h))
	assert.Zero(t, d.GetStats().Objects)
}

func TestSimulatedDeviceShortCommit(t *testing.T) {
	d := NewSimulatedDevice(nil)
	ctx := context.Background()
	h, err := d.OpenSession(ctx, interfaces.ObjectInfo{Filename: "a.txt", Size: 10})
	require.NoError(t, err)
	require.NoError(t, d.WriteChunk(ctx, h, []byte("abc")))

	err = d.Commit(ctx, h, nil)
	assert.ErrorIs(t, err, interfaces.ErrProtocol)
}

func TestSimulatedDeviceRejectsOverrun(t *testing.T) {
	d := NewSimulatedDevice(nil)
	ctx := context.Background()
	h, err := d.OpenSession(ctx, interfaces.ObjectInfo{Filename: "a.txt", Size: 2})
	require.NoError(t, err)

	err = d.WriteChunk(ctx, h, []byte("abc"))
	assert.ErrorIs(t, err, interfaces.ErrProtocol)
	assert.Empty(t, d.GetWriteLog())
}

func TestSimulatedDeviceFaults(t *testing.T) {
	injected := errors.New("cable pulled")

	t.Run("write fault fires once", func(t *testing.T) {
		d := NewSimulatedDevice(nil)
		d.SetFaults(Faults{FailWriteAt: 2, FailWrite: injected})

		_, err := uploadAll(t, d, "a.bin", make([]byte, 30), 10)
		assert.ErrorIs(t, err, injected)

		_, err = uploadAll(t, d, "a.bin", make([]byte, 30), 10)
		assert.NoError(t, err)
	})

	t.Run("persistent open fault", func(t *testing.T) {
		d := NewSimulatedDevice(nil)
		d.SetFaults(Faults{FailOpen: injected, Persistent: true})

		for i := 0; i < 3; i++ {
			_, err := d.OpenSession(context.Background(), interfaces.ObjectInfo{Filename: "a", Size: 1})
			assert.ErrorIs(t, err, injected)
		}
	})

	t.Run("missing object id", func(t *testing.T) {
		d := NewSimulatedDevice(nil)
		d.SetFaults(Faults{NoObjectID: true})

		h, err := d.OpenSession(context.Background(), interfaces.ObjectInfo{Filename: "a", Size: 1})
		require.NoError(t, err)
		assert.Zero(t, h.ObjectID)
	})
}

func TestSimulatedDeviceUncommittedUploadDiscarded(t *testing.T) {
	fs := memfs.New()
	d := NewSimulatedDevice(fs)
	ctx := context.Background()

	h, err := d.OpenSession(ctx, interfaces.ObjectInfo{Filename: "partial.bin", Size: 10})
	require.NoError(t, err)
	require.NoError(t, d.WriteChunk(ctx, h, []byte("12345")))
	require.NoError(t, d.CloseSession(h))

	entries, err := fs.ReadDir(incomingDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	_, _, err = d.Object(h.ObjectID)
	assert.ErrorIs(t, err, interfaces.ErrObjectNotFound)
}

func TestSimulatedDeviceReplacesExistingObject(t *testing.T) {
	d := NewSimulatedDevice(nil)

	first, err := uploadAll(t, d, "same.txt", []byte("old"), 16)
	require.NoError(t, err)
	second, err := uploadAll(t, d, "same.txt", []byte("newer"), 16)
	require.NoError(t, err)

	_, _, err = d.Object(first.ObjectID)
	assert.ErrorIs(t, err, interfaces.ErrObjectNotFound)
	content, _, err := d.Object(second.ObjectID)
	require.NoError(t, err)
	assert.Equal(t, []byte("newer"), content)
}

func TestSimulatedDeviceRead(t *testing.T) {
	d := NewSimulatedDevice(nil)
	content := bytes.Repeat([]byte{7}, 25)
	id, err := d.AddObject(interfaces.ObjectInfo{Filename: "photo.jpg"}, content)
	require.NoError(t, err)

	ctx := context.Background()
	h, info, err := d.OpenRead(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), info.Size)

	var got []byte
	for {
		chunk, err := d.ReadChunk(ctx, h, 10)
		require.NoError(t, err)
		if len(chunk) == 0 {
			break
		}
		got = append(got, chunk...)
	}
	assert.Equal(t, content, got)
	require.NoError(t, d.CloseSession(h))

	_, _, err = d.OpenRead(ctx, id+100)
	assert.ErrorIs(t, err, interfaces.ErrObjectNotFound)
}

func TestSimulatedDeviceResetAndClose(t *testing.T) {
	d := NewSimulatedDevice(nil)
	ctx := context.Background()

	_, err := d.OpenSession(ctx, interfaces.ObjectInfo{Filename: "a", Size: 1})
	require.NoError(t, err)
	require.NoError(t, d.Reset(ctx))
	assert.Zero(t, d.OpenSessions())
	assert.Equal(t, 1, d.GetStats().Resets)

	require.NoError(t, d.Close())
	_, err = d.OpenSession(ctx, interfaces.ObjectInfo{Filename: "a", Size: 1})
	assert.ErrorIs(t, err, interfaces.ErrDeviceClosed)
}

func TestSimulatedDeviceRejectsUnsafeNames(t *testing.T) {
	d := NewSimulatedDevice(nil)
	ctx := context.Background()

	staged, err := d.OpenSession(ctx, interfaces.ObjectInfo{Filename: "ok.txt", Size: 3})
	require.NoError(t, err)
	require.NoError(t, d.WriteChunk(ctx, staged, []byte("abc")))

	names := []string{
		"../../incoming/session-1.part",
		"../escape.txt",
		"dir/a.txt",
		"..",
		".",
		"a\x00b",
	}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			_, err := d.OpenSession(ctx, interfaces.ObjectInfo{Filename: name, Size: 1})
			assert.ErrorIs(t, err, interfaces.ErrProtocol)
			assert.ErrorIs(t, err, limits.ErrDirectoryTraversal)

			_, err = d.AddObject(interfaces.ObjectInfo{Filename: name}, []byte("x"))
			assert.ErrorIs(t, err, limits.ErrDirectoryTraversal)
		})
	}

	sum := blake2b.Sum256([]byte("abc"))
	require.NoError(t, d.Commit(ctx, staged, sum[:]), "staged upload is untouched")
	require.NoError(t, d.CloseSession(staged))
	stored, _, err := d.Object(staged.ObjectID)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), stored)
	assert.Equal(t, 1, d.GetStats().Objects)
}

func TestSimulatedDeviceStampsModTime(t *testing.T) {
	d := NewSimulatedDevice(nil)
	mtime := time.Date(2022, 1, 2, 3, 4, 5, 0, time.UTC)

	h, err := d.OpenSession(context.Background(), interfaces.ObjectInfo{Filename: "given.txt", ModTime: mtime})
	require.NoError(t, err)
	require.NoError(t, d.Commit(context.Background(), h, nil))
	require.NoError(t, d.CloseSession(h))

	_, info, err := d.Object(h.ObjectID)
	require.NoError(t, err)
	assert.True(t, mtime.Equal(info.ModTime))

	rh, rinfo, err := d.OpenRead(context.Background(), h.ObjectID)
	require.NoError(t, err)
	assert.True(t, mtime.Equal(rinfo.ModTime))
	require.NoError(t, d.CloseSession(rh))

	h, err = d.OpenSession(context.Background(), interfaces.ObjectInfo{Filename: "unset.txt"})
	require.NoError(t, err)
	require.NoError(t, d.Commit(context.Background(), h, nil))
	_, info, err = d.Object(h.ObjectID)
	require.NoError(t, err)
	assert.False(t, info.ModTime.IsZero(), "device stamps objects without a modification date")
}

func TestServeConnProtocol(t *testing.T) {
	d := NewSimulatedDevice(nil)
	client, server := net.Pipe()
	done := make(chan error, 1)
	go func() { done <- d.ServeConn(server) }()

	call := func(f *transport.Frame) *transport.Frame {
		require.NoError(t, transport.WriteFrame(client, f))
		reply, err := transport.ReadFrame(client)
		require.NoError(t, err)
		return reply
	}

	reply := call(&transport.Frame{Type: transport.FrameOpenSession})
	require.Equal(t, transport.FrameSessionAck, reply.Type)
	sid, err := transport.DecodeSession(reply.Payload)
	require.NoError(t, err)

	unsafe, err := transport.EncodeSessionInfo(sid, interfaces.ObjectInfo{Filename: "../x.txt", Size: 2})
	require.NoError(t, err)
	reply = call(&transport.Frame{Type: transport.FrameObjectInfo, Payload: unsafe})
	require.Equal(t, transport.FrameError, reply.Type, "names with path separators are refused over the wire")

	payload, err := transport.EncodeSessionInfo(sid, interfaces.ObjectInfo{Filename: "x.txt", Size: 2})
	require.NoError(t, err)
	reply = call(&transport.Frame{Type: transport.FrameObjectInfo, Payload: payload})
	require.Equal(t, transport.FrameObjectInfoAck, reply.Type)

	reply = call(&transport.Frame{Type: transport.FrameData, Payload: transport.EncodeData(sid, []byte("hi"))})
	require.Equal(t, transport.FrameDataAck, reply.Type)
	_, received, err := transport.DecodeDataAck(reply.Payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), received)

	reply = call(&transport.Frame{Type: transport.FrameReadChunk, Payload: transport.EncodeSessionValue(sid, 10)})
	require.Equal(t, transport.FrameError, reply.Type)
	assert.ErrorIs(t, transport.DecodeError(reply.Payload), interfaces.ErrProtocol)

	require.NoError(t, client.Close())
	require.NoError(t, <-done)
	assert.Zero(t, d.OpenSessions())
}
