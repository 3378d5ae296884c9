package file

import (
	"context"
	"time"

	"github.com/opd-ai/mtpxfer/interfaces"
	"github.com/opd-ai/mtpxfer/limits"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the duration since t.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// EngineConfig configures an Engine. Zero values select defaults.
type EngineConfig struct {
	// ChunkSize is the preferred chunk size, clamped to the transport maximum.
	ChunkSize    int
	Logger       logrus.FieldLogger
	TimeProvider TimeProvider
}

// Engine moves file bytes across a transport in bounded chunks. It performs
// one transfer at a time per call and never retries.
type Engine struct {
	transport    interfaces.Transport
	chunkSize    int
	logger       logrus.FieldLogger
	timeProvider TimeProvider
}

// NewEngine creates an engine bound to t.
func NewEngine(t interfaces.Transport, config EngineConfig) *Engine {
	logger := config.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	tp := config.TimeProvider
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	return &Engine{
		transport:    t,
		chunkSize:    limits.EffectiveChunkSize(config.ChunkSize, t.MaxChunkSize()),
		logger:       logger,
		timeProvider: tp,
	}
}

// ChunkSize returns the chunk size the engine uses.
func (e *Engine) ChunkSize() int {
	return e.chunkSize
}

// Upload opens a session for meta and sends src through it. src is closed
// before Upload returns.
func (e *Engine) Upload(ctx context.Context, meta ObjectMetadata, src Source, progress ProgressFunc) Result {
	start := e.timeProvider.Now()
	s := NewSession(e.transport, meta, e.logger)

	e.logger.WithFields(logrus.Fields{
		"function":   "Engine.Upload",
		"session_id": s.ID(),
		"file_name":  meta.Filename,
		"file_size":  meta.Size,
		"chunk_size": e.chunkSize,
	}).Info("Starting upload")

	if err := s.Open(ctx); err != nil {
		src.Close()
		return e.finish(s, start, err)
	}
	res := e.Send(ctx, s, src, progress)
	res.Elapsed = e.timeProvider.Since(start)
	return res
}

// Send streams src through an opened upload session and commits it.
// Cancellation is observed between chunks only; device calls run on a
// context detached from ctx so no write is aborted mid-flight.
func (e *Engine) Send(ctx context.Context, s *Session, src Source, progress ProgressFunc) Result {
	start := e.timeProvider.Now()
	defer src.Close()

	ioCtx := context.WithoutCancel(ctx)
	reporter := NewReporter(progress, e.logger)
	digest, _ := blake2b.New256(nil)

	for {
		if err := contextError(ctx); err != nil {
			return e.finish(s, start, s.Fail(err))
		}

		chunk, err := src.NextChunk(e.chunkSize)
		if err != nil {
			return e.finish(s, start, s.Fail(err))
		}
		if len(chunk) == 0 {
			return e.finish(s, start, s.Commit(ioCtx, digest.Sum(nil)))
		}

		if err := s.WriteChunk(ioCtx, chunk); err != nil {
			return e.finish(s, start, err)
		}
		digest.Write(chunk)

		e.logger.WithFields(logrus.Fields{
			"function":    "Engine.Send",
			"session_id":  s.ID(),
			"chunk_size":  len(chunk),
			"transferred": s.Transferred(),
		}).Debug("Chunk acknowledged")

		reporter.Report(ProgressEvent{Transferred: s.Transferred(), Total: s.Total()})
	}
}

// Download opens objectID on the device and copies it into sink. The sink
// is committed on success and aborted otherwise.
func (e *Engine) Download(ctx context.Context, objectID uint32, sink Sink, progress ProgressFunc) Result {
	start := e.timeProvider.Now()
	s := NewDownloadSession(e.transport, objectID, e.logger)

	e.logger.WithFields(logrus.Fields{
		"function":   "Engine.Download",
		"session_id": s.ID(),
		"object_id":  objectID,
		"chunk_size": e.chunkSize,
	}).Info("Starting download")

	if err := s.Open(ctx); err != nil {
		sink.Abort()
		return e.finish(s, start, err)
	}
	res := e.Receive(ctx, s, sink, progress)
	res.Elapsed = e.timeProvider.Since(start)
	return res
}

// Receive copies an opened download session into sink.
func (e *Engine) Receive(ctx context.Context, s *Session, sink Sink, progress ProgressFunc) Result {
	start := e.timeProvider.Now()
	ioCtx := context.WithoutCancel(ctx)
	reporter := NewReporter(progress, e.logger)

	fail := func(err error) Result {
		sink.Abort()
		return e.finish(s, start, err)
	}

	for s.Transferred() < s.Total() {
		if err := contextError(ctx); err != nil {
			return fail(s.Fail(err))
		}

		chunk, err := s.ReadChunk(ioCtx, e.chunkSize)
		if err != nil {
			return fail(err)
		}
		if err := sink.Write(chunk); err != nil {
			return fail(s.Fail(err))
		}
		s.Accept(len(chunk))

		reporter.Report(ProgressEvent{Transferred: s.Transferred(), Total: s.Total()})
	}

	if err := s.CommitSink(sink); err != nil {
		return fail(err)
	}
	return e.finish(s, start, nil)
}

// finish builds the Result for a session that reached a terminal state.
func (e *Engine) finish(s *Session, start time.Time, err error) Result {
	res := Result{
		Outcome:     classify(err),
		SessionID:   s.ID(),
		ObjectID:    s.ObjectID(),
		Transferred: s.Transferred(),
		Total:       s.Total(),
		Elapsed:     e.timeProvider.Since(start),
		Err:         err,
	}

	fields := logrus.Fields{
		"function":    "Engine.finish",
		"session_id":  res.SessionID,
		"object_id":   res.ObjectID,
		"outcome":     res.Outcome.String(),
		"transferred": res.Transferred,
		"total":       res.Total,
		"state":       s.State().String(),
	}
	switch res.Outcome {
	case OutcomeSuccess:
		e.logger.WithFields(fields).Info("Transfer completed")
	case OutcomeCancelled:
		e.logger.WithFields(fields).Info("Transfer cancelled")
	default:
		fields["error"] = err.Error()
		e.logger.WithFields(fields).Error("Transfer failed")
	}
	return res
}
