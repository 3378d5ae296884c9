package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/opd-ai/mtpxfer/interfaces"
	"github.com/opd-ai/mtpxfer/interfaces/mocks"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/blake2b"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestEngine(t interfaces.Transport, chunk int) *Engine {
	return NewEngine(t, EngineConfig{ChunkSize: chunk, Logger: quietLogger(), TimeProvider: newMockTimeProvider()})
}

func upload(e *Engine, data []byte, declared uint64, progress ProgressFunc) Result {
	meta := ObjectMetadata{Filename: "f.bin", Size: declared, Type: FileTypeUnknown}
	return e.Upload(context.Background(), meta, NewDescriptorSource(bytes.NewReader(data)), progress)
}

func TestUploadExactSizeSucceeds(t *testing.T) {
	for _, size := range []int{0, 1, 5, 16, 100, 1000} {
		for _, chunk := range []int{1, 3, 16, 64} {
			t.Run(fmt.Sprintf("size=%d/chunk=%d", size, chunk), func(t *testing.T) {
				tr := newRecordingTransport()
				res := upload(newTestEngine(tr, chunk), sequence(size), uint64(size), nil)

				require.Equal(t, OutcomeSuccess, res.Outcome, "err: %v", res.Err)
				assert.NoError(t, res.Err)
				assert.Equal(t, uint64(size), res.Transferred)
				assert.Equal(t, uint32(7), res.ObjectID)
				assert.Len(t, tr.commits, 1)
				assert.Equal(t, 1, tr.closes)

				sizes := tr.writeSizes()
				for i, n := range sizes {
					if i < len(sizes)-1 {
						assert.Equal(t, chunk, n, "only the last chunk may be short")
					}
				}
				assert.Equal(t, sequence(size), bytes.Join(tr.writes, nil))
			})
		}
	}
}

func TestUploadShortSourceIsSizeMismatch(t *testing.T) {
	tr := newRecordingTransport()
	e := newTestEngine(tr, 16)
	s := NewSession(tr, ObjectMetadata{Filename: "short.bin", Size: 100}, quietLogger())
	require.NoError(t, s.Open(context.Background()))

	res := e.Send(context.Background(), s, NewDescriptorSource(bytes.NewReader(sequence(60))), nil)

	assert.Equal(t, OutcomeSizeMismatch, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrSizeMismatch)
	assert.Equal(t, uint64(60), res.Transferred)
	assert.Empty(t, tr.commits)
	assert.Equal(t, StateFailed, s.State())
	assert.NotContains(t, s.History(), StateCommitting)
}

func TestUploadLongSourceStopsBeforeOverrun(t *testing.T) {
	tr := newRecordingTransport()
	res := upload(newTestEngine(tr, 4), sequence(14), 10, nil)

	assert.Equal(t, OutcomeSizeMismatch, res.Outcome)
	assert.Equal(t, []int{4, 4}, tr.writeSizes(), "the overrunning chunk must not be written")
	assert.Equal(t, uint64(8), res.Transferred)
	assert.Empty(t, tr.commits)
}

func TestUploadCancelBetweenChunks(t *testing.T) {
	tr := newRecordingTransport()
	e := newTestEngine(tr, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	progress := func(ev ProgressEvent) {
		if ev.Transferred == 8 {
			cancel()
		}
	}
	src := &closeTrackingReader{data: sequence(20)}
	res := e.Upload(ctx, ObjectMetadata{Filename: "c.bin", Size: 20}, NewDescriptorSource(src), progress)

	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrCancelled)
	assert.Equal(t, uint64(8), res.Transferred)
	assert.Equal(t, []int{4, 4}, tr.writeSizes())
	assert.Empty(t, tr.commits)
	assert.Equal(t, 1, tr.closes)
	assert.False(t, src.closed, "descriptor must stay open")
}

func TestUploadWriteFailure(t *testing.T) {
	tr := newRecordingTransport()
	tr.failWriteAt = 3
	res := upload(newTestEngine(tr, 4), sequence(20), 20, nil)

	assert.Equal(t, OutcomeTransportError, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrTransport)
	assert.ErrorIs(t, res.Err, interfaces.ErrProtocol)
	assert.True(t, res.Retryable())
	assert.Equal(t, uint64(8), res.Transferred)
	assert.Empty(t, tr.commits)
	assert.Equal(t, 1, tr.closes)
}

func TestUploadProgressMonotonic(t *testing.T) {
	tr := newRecordingTransport()
	var events []ProgressEvent
	res := upload(newTestEngine(tr, 7), sequence(100), 100, func(ev ProgressEvent) {
		events = append(events, ev)
	})

	require.True(t, res.OK())
	require.NotEmpty(t, events)
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Transferred, events[i-1].Transferred)
	}
	last := events[len(events)-1]
	assert.Equal(t, uint64(100), last.Transferred)
	assert.Equal(t, uint64(100), last.Total)
}

func TestUploadZeroByteFile(t *testing.T) {
	tr := newRecordingTransport()
	var events []ProgressEvent
	res := upload(newTestEngine(tr, 4), nil, 0, func(ev ProgressEvent) {
		events = append(events, ev)
	})

	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.LessOrEqual(t, len(events), 1)
	for _, ev := range events {
		assert.Equal(t, ProgressEvent{}, ev)
	}
	assert.Empty(t, tr.writes)
	assert.Len(t, tr.commits, 1)
}

func TestUploadTenBytesChunkFour(t *testing.T) {
	tr := newRecordingTransport()
	var transferred []uint64
	res := upload(newTestEngine(tr, 4), sequence(10), 10, func(ev ProgressEvent) {
		transferred = append(transferred, ev.Transferred)
	})

	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, []int{4, 4, 2}, tr.writeSizes())
	assert.Equal(t, []uint64{4, 8, 10}, transferred)

	sum := blake2b.Sum256(sequence(10))
	assert.Equal(t, sum[:], tr.commits[0], "commit carries the digest of the sent bytes")
}

func TestUploadCallSequence(t *testing.T) {
	ctrl := gomock.NewController(t)
	mt := mocks.NewMockTransport(ctrl)
	h := interfaces.SessionHandle{ID: 3, ObjectID: 42}

	mt.EXPECT().MaxChunkSize().Return(4).AnyTimes()
	gomock.InOrder(
		mt.EXPECT().OpenSession(gomock.Any(), interfaces.ObjectInfo{Filename: "seq.txt", Size: 10, Type: uint16(FileTypeText)}).Return(h, nil),
		mt.EXPECT().WriteChunk(gomock.Any(), h, []byte{0, 1, 2, 3}).Return(nil),
		mt.EXPECT().WriteChunk(gomock.Any(), h, []byte{4, 5, 6, 7}).Return(nil),
		mt.EXPECT().WriteChunk(gomock.Any(), h, []byte{8, 9}).Return(nil),
		mt.EXPECT().Commit(gomock.Any(), h, gomock.Len(blake2b.Size256)).Return(nil),
		mt.EXPECT().CloseSession(h).Return(nil),
	)

	e := newTestEngine(mt, 64)
	assert.Equal(t, 4, e.ChunkSize(), "chunk size is clamped to the transport maximum")

	meta := ObjectMetadata{Filename: "seq.txt", Size: 10, Type: FileTypeText}
	res := e.Upload(context.Background(), meta, NewDescriptorSource(bytes.NewReader(sequence(10))), nil)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, uint32(42), res.ObjectID)
}

func TestUploadWriteFailureStopsSequence(t *testing.T) {
	ctrl := gomock.NewController(t)
	mt := mocks.NewMockTransport(ctrl)
	h := interfaces.SessionHandle{ID: 1, ObjectID: 9}

	mt.EXPECT().MaxChunkSize().Return(64).AnyTimes()
	gomock.InOrder(
		mt.EXPECT().OpenSession(gomock.Any(), gomock.Any()).Return(h, nil),
		mt.EXPECT().WriteChunk(gomock.Any(), h, gomock.Any()).Return(nil),
		mt.EXPECT().WriteChunk(gomock.Any(), h, gomock.Any()).Return(interfaces.ErrTimeout),
		mt.EXPECT().CloseSession(h).Return(nil),
	)

	res := upload(newTestEngine(mt, 4), sequence(12), 12, nil)
	assert.Equal(t, OutcomeTransportError, res.Outcome)
	assert.ErrorIs(t, res.Err, interfaces.ErrTimeout)
	assert.Equal(t, uint64(4), res.Transferred)
}

func TestUploadTransportContextNotCancelled(t *testing.T) {
	ctrl := gomock.NewController(t)
	mt := mocks.NewMockTransport(ctrl)
	h := interfaces.SessionHandle{ID: 1, ObjectID: 9}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mt.EXPECT().MaxChunkSize().Return(64).AnyTimes()
	mt.EXPECT().OpenSession(gomock.Any(), gomock.Any()).Return(h, nil)
	mt.EXPECT().WriteChunk(gomock.Any(), h, gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ interfaces.SessionHandle, _ []byte) error {
			cancel()
			assert.NoError(t, ctx.Err(), "an in-flight write must not observe cancellation")
			return nil
		})
	mt.EXPECT().CloseSession(h).Return(nil)

	e := newTestEngine(mt, 4)
	res := e.Upload(ctx, ObjectMetadata{Filename: "a", Size: 8}, NewDescriptorSource(bytes.NewReader(sequence(8))), nil)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.Equal(t, uint64(4), res.Transferred)
}

func TestUploadOpenFailures(t *testing.T) {
	t.Run("open error", func(t *testing.T) {
		tr := newRecordingTransport()
		tr.openErr = interfaces.ErrDeviceClosed
		res := upload(newTestEngine(tr, 4), sequence(4), 4, nil)

		assert.Equal(t, OutcomeTransportError, res.Outcome)
		assert.ErrorIs(t, res.Err, interfaces.ErrDeviceClosed)
		assert.Zero(t, tr.closes, "no handle to close")
	})

	t.Run("missing object id", func(t *testing.T) {
		tr := newRecordingTransport()
		tr.objectID = 0
		res := upload(newTestEngine(tr, 4), sequence(4), 4, nil)

		assert.Equal(t, OutcomeTransportError, res.Outcome)
		assert.ErrorIs(t, res.Err, interfaces.ErrProtocol)
		assert.Empty(t, tr.writes)
		assert.Equal(t, 1, tr.closes)
	})

	t.Run("commit error", func(t *testing.T) {
		tr := newRecordingTransport()
		tr.commitErr = interfaces.ErrChecksum
		res := upload(newTestEngine(tr, 4), sequence(4), 4, nil)

		assert.Equal(t, OutcomeTransportError, res.Outcome)
		assert.ErrorIs(t, res.Err, interfaces.ErrChecksum)
		assert.Equal(t, uint64(4), res.Transferred)
		assert.Equal(t, 1, tr.closes)
	})
}

func TestUploadSourceFailure(t *testing.T) {
	tr := newRecordingTransport()
	src := NewDescriptorSource(&errReader{data: sequence(6), err: errors.New("disk gone")})
	res := newTestEngine(tr, 4).Upload(context.Background(), ObjectMetadata{Filename: "a", Size: 20}, src, nil)

	assert.Equal(t, OutcomeSourceUnavailable, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrSourceUnavailable)
	assert.Equal(t, uint64(4), res.Transferred)
	assert.Empty(t, tr.commits)
}

func TestUploadDeadlineIsTimeout(t *testing.T) {
	tr := newRecordingTransport()
	expired, stop := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer stop()

	res := newTestEngine(tr, 4).Upload(expired, ObjectMetadata{Filename: "a", Size: 8}, NewDescriptorSource(bytes.NewReader(sequence(8))), nil)
	assert.Equal(t, OutcomeTransportError, res.Outcome)
	assert.ErrorIs(t, res.Err, interfaces.ErrTimeout)
	assert.True(t, res.Retryable())
	assert.Zero(t, tr.opens, "an expired context never reaches the device")
}

func TestUploadProgressPanicContained(t *testing.T) {
	tr := newRecordingTransport()
	res := upload(newTestEngine(tr, 4), sequence(10), 10, func(ProgressEvent) {
		panic("callback bug")
	})
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, []int{4, 4, 2}, tr.writeSizes())
}

func TestDownload(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		tr := newRecordingTransport()
		tr.readData = sequence(10)
		tr.readInfo = interfaces.ObjectInfo{Filename: "d.bin", Size: 10}

		var buf bytes.Buffer
		var transferred []uint64
		res := newTestEngine(tr, 4).Download(context.Background(), 5, NewDescriptorSink(&buf), func(ev ProgressEvent) {
			transferred = append(transferred, ev.Transferred)
		})

		assert.Equal(t, OutcomeSuccess, res.Outcome)
		assert.Equal(t, sequence(10), buf.Bytes())
		assert.Equal(t, []uint64{4, 8, 10}, transferred)
		assert.Equal(t, uint32(5), res.ObjectID)
		assert.Equal(t, 1, tr.closes)
	})

	t.Run("device ends early", func(t *testing.T) {
		tr := newRecordingTransport()
		tr.readData = sequence(6)
		tr.readInfo = interfaces.ObjectInfo{Filename: "d.bin", Size: 10}

		var buf bytes.Buffer
		res := newTestEngine(tr, 4).Download(context.Background(), 5, NewDescriptorSink(&buf), nil)
		assert.Equal(t, OutcomeSizeMismatch, res.Outcome)
		assert.Equal(t, uint64(6), res.Transferred)
	})

	t.Run("device overruns", func(t *testing.T) {
		tr := newRecordingTransport()
		tr.readData = sequence(10)
		tr.readExtra = 1
		tr.readInfo = interfaces.ObjectInfo{Filename: "d.bin", Size: 10}

		var buf bytes.Buffer
		res := newTestEngine(tr, 4).Download(context.Background(), 5, NewDescriptorSink(&buf), nil)
		assert.Equal(t, OutcomeSizeMismatch, res.Outcome)
		assert.Equal(t, 8, buf.Len(), "the overrunning chunk is not written")
	})

	t.Run("sink failure", func(t *testing.T) {
		tr := newRecordingTransport()
		tr.readData = sequence(10)
		tr.readInfo = interfaces.ObjectInfo{Filename: "d.bin", Size: 10}

		res := newTestEngine(tr, 4).Download(context.Background(), 5, NewDescriptorSink(failingWriter{}), nil)
		assert.Equal(t, OutcomeSinkUnavailable, res.Outcome)
		assert.ErrorIs(t, res.Err, ErrSinkUnavailable)
		assert.Equal(t, 1, tr.closes)
	})
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("read-only") }
