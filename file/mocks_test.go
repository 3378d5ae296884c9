package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/opd-ai/mtpxfer/interfaces"
	"github.com/opd-ai/mtpxfer/limits"
)

// mockTimeProvider provides deterministic time for testing.
type mockTimeProvider struct {
	currentTime time.Time
}

func (m *mockTimeProvider) Now() time.Time {
	return m.currentTime
}

func (m *mockTimeProvider) Since(t time.Time) time.Duration {
	return m.currentTime.Sub(t)
}

func newMockTimeProvider() *mockTimeProvider {
	return &mockTimeProvider{
		currentTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

var errInjected = errors.New("injected device failure")

// recordingTransport implements interfaces.Transport in memory and records
// every call for property checks.
type recordingTransport struct {
	mu sync.Mutex

	objectID    uint32
	openErr     error
	failWriteAt int
	commitErr   error
	onWrite     func(n int)

	readData  []byte
	readInfo  interfaces.ObjectInfo
	readExtra int

	writes  [][]byte
	commits [][]byte
	closes  int
	opens   int
	resets  int
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{objectID: 7}
}

func (r *recordingTransport) MaxChunkSize() int { return limits.MaxChunkSize }

func (r *recordingTransport) OpenSession(ctx context.Context, info interfaces.ObjectInfo) (interfaces.SessionHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opens++
	if r.openErr != nil {
		return interfaces.SessionHandle{}, r.openErr
	}
	return interfaces.SessionHandle{ID: uint32(r.opens), ObjectID: r.objectID}, nil
}

func (r *recordingTransport) WriteChunk(ctx context.Context, h interfaces.SessionHandle, chunk []byte) error {
	r.mu.Lock()
	if r.failWriteAt > 0 && len(r.writes)+1 == r.failWriteAt {
		r.mu.Unlock()
		return fmt.Errorf("%w: %w", interfaces.ErrProtocol, errInjected)
	}
	r.writes = append(r.writes, append([]byte(nil), chunk...))
	n := len(r.writes)
	hook := r.onWrite
	r.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return nil
}

func (r *recordingTransport) Commit(ctx context.Context, h interfaces.SessionHandle, digest []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commitErr != nil {
		return r.commitErr
	}
	r.commits = append(r.commits, digest)
	return nil
}

func (r *recordingTransport) OpenRead(ctx context.Context, objectID uint32) (interfaces.SessionHandle, interfaces.ObjectInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opens++
	if r.openErr != nil {
		return interfaces.SessionHandle{}, interfaces.ObjectInfo{}, r.openErr
	}
	info := r.readInfo
	info.ObjectID = objectID
	return interfaces.SessionHandle{ID: uint32(r.opens), ObjectID: objectID}, info, nil
}

func (r *recordingTransport) ReadChunk(ctx context.Context, h interfaces.SessionHandle, max int) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := min(max, len(r.readData))
	chunk := r.readData[:n]
	r.readData = r.readData[n:]
	if len(r.readData) == 0 && r.readExtra > 0 {
		chunk = append(chunk, make([]byte, r.readExtra)...)
		r.readExtra = 0
	}
	return chunk, nil
}

func (r *recordingTransport) CloseSession(h interfaces.SessionHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	return nil
}

func (r *recordingTransport) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
	return nil
}

func (r *recordingTransport) writeSizes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	sizes := make([]int, len(r.writes))
	for i, w := range r.writes {
		sizes[i] = len(w)
	}
	return sizes
}

// errReader returns data and then fails.
type errReader struct {
	data []byte
	err  error
}

func (e *errReader) Read(p []byte) (int, error) {
	if len(e.data) == 0 {
		return 0, e.err
	}
	n := copy(p, e.data)
	e.data = e.data[n:]
	return n, nil
}

// closeTrackingReader records whether anyone closed it.
type closeTrackingReader struct {
	data   []byte
	closed bool
}

func (c *closeTrackingReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.data)
	c.data = c.data[n:]
	return n, nil
}

func (c *closeTrackingReader) Close() error {
	c.closed = true
	return nil
}

func sequence(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}
