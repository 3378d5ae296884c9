package file

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/opd-ai/mtpxfer/interfaces"
	"github.com/sirupsen/logrus"
)

// Manager is the caller-facing transfer API for one device. It serializes
// transfers on the device, applies the per-attempt timeout, and retries
// transport failures with a fresh session.
type Manager struct {
	transport       interfaces.Transport
	fs              billy.Filesystem
	logger          logrus.FieldLogger
	timeProvider    TimeProvider
	chunkSize       int
	retryAttempts   int
	transferTimeout time.Duration
	hostFS          bool

	mu sync.Mutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithFilesystem resolves SendFile and GetFile paths on fs instead of the
// host filesystem.
func WithFilesystem(fs billy.Filesystem) ManagerOption {
	return func(m *Manager) { m.fs = fs }
}

// WithLogger sets the logger used for transfer diagnostics.
func WithLogger(logger logrus.FieldLogger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithChunkSize sets the preferred chunk size.
func WithChunkSize(size int) ManagerOption {
	return func(m *Manager) { m.chunkSize = size }
}

// WithRetryAttempts sets how many fresh attempts follow a transport failure.
func WithRetryAttempts(n int) ManagerOption {
	return func(m *Manager) { m.retryAttempts = n }
}

// WithTransferTimeout bounds each attempt. Zero disables the bound.
func WithTransferTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.transferTimeout = d }
}

// WithTimeProvider sets a custom time provider for deterministic testing.
func WithTimeProvider(tp TimeProvider) ManagerOption {
	return func(m *Manager) { m.timeProvider = tp }
}

// WithConfig applies the transfer settings of a transport configuration.
func WithConfig(config *interfaces.TransportConfig) ManagerOption {
	return func(m *Manager) {
		m.chunkSize = config.ChunkSize
		m.retryAttempts = config.RetryAttempts
		m.transferTimeout = config.TransferTimeout
	}
}

// NewManager creates a manager that owns access to t for the duration of
// each transfer.
func NewManager(t interfaces.Transport, opts ...ManagerOption) *Manager {
	m := &Manager{
		transport:    t,
		logger:       logrus.StandardLogger(),
		timeProvider: DefaultTimeProvider{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.fs == nil {
		m.fs = osfs.New("/")
		m.hostFS = true
	}
	if m.retryAttempts < 0 {
		m.retryAttempts = 0
	}

	m.logger.WithFields(logrus.Fields{
		"function":         "NewManager",
		"chunk_size":       m.chunkSize,
		"retry_attempts":   m.retryAttempts,
		"transfer_timeout": m.transferTimeout,
	}).Info("Creating file transfer manager")

	return m
}

// SendFile uploads the file at path. Zero fields of meta are filled from the
// file: Filename from the base name, Size and ModTime from its stat, and Type
// from the name and content.
func (m *Manager) SendFile(ctx context.Context, path string, meta ObjectMetadata, progress ProgressFunc) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	path = m.resolve(path)
	if meta.Filename == "" {
		meta.Filename = filepath.Base(path)
	}
	if fi, err := m.fs.Stat(path); err == nil && !fi.IsDir() {
		if meta.Size == 0 {
			meta.Size = uint64(fi.Size())
		}
		if meta.ModTime.IsZero() {
			meta.ModTime = fi.ModTime()
		}
	}
	if meta.ModTime.IsZero() {
		meta.ModTime = m.timeProvider.Now()
	}
	if meta.Type == FileTypeAuto {
		meta.Type = m.detectPathType(path, meta.Filename)
	}
	if err := meta.Validate(); err != nil {
		return m.rejected(meta.Size, err)
	}

	open := func(int) (Source, error) {
		return OpenPathSource(m.fs, path)
	}
	return m.upload(ctx, meta, open, progress)
}

// SendFileFromDescriptor uploads the bytes read from r. r is borrowed: it is
// never closed, and a retry rewinds it only if it is an io.Seeker. meta.Size
// must be declared. A zero meta.ModTime is taken from r when it is a file,
// otherwise from the current time.
func (m *Manager) SendFileFromDescriptor(ctx context.Context, r io.Reader, meta ObjectMetadata, progress ProgressFunc) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r == nil {
		return m.rejected(meta.Size, fmt.Errorf("%w: nil descriptor", ErrInvalidRequest))
	}
	if meta.Type == FileTypeAuto {
		meta.Type = FileTypeFromName(meta.Filename)
	}
	if meta.ModTime.IsZero() {
		meta.ModTime = m.descriptorModTime(r)
	}
	if err := meta.Validate(); err != nil {
		return m.rejected(meta.Size, err)
	}

	var current *DescriptorSource
	open := func(attempt int) (Source, error) {
		if attempt == 0 {
			current = NewDescriptorSource(r)
			return current, nil
		}
		next, err := current.Rewind()
		if err != nil {
			return nil, err
		}
		current = next
		return current, nil
	}
	return m.upload(ctx, meta, open, progress)
}

// GetFile downloads objectID into path. The file appears only after every
// byte arrived; an existing file is replaced.
func (m *Manager) GetFile(ctx context.Context, objectID uint32, path string, progress ProgressFunc) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if objectID == 0 {
		return m.rejected(0, fmt.Errorf("%w: object id 0", ErrInvalidRequest))
	}
	path = m.resolve(path)
	create := func(int, uint64) (Sink, error) {
		return CreatePathSink(m.fs, path)
	}
	return m.download(ctx, objectID, create, progress)
}

// GetFileToDescriptor downloads objectID into w. w is borrowed and never
// closed. After a partial write a retry rewinds w only if it is an io.Seeker.
func (m *Manager) GetFileToDescriptor(ctx context.Context, objectID uint32, w io.Writer, progress ProgressFunc) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w == nil {
		return m.rejected(0, fmt.Errorf("%w: nil descriptor", ErrInvalidRequest))
	}
	if objectID == 0 {
		return m.rejected(0, fmt.Errorf("%w: object id 0", ErrInvalidRequest))
	}
	create := func(attempt int, written uint64) (Sink, error) {
		if attempt > 0 && written > 0 {
			seeker, ok := w.(io.Seeker)
			if !ok {
				return nil, fmt.Errorf("%w: %d bytes already written to a non-seekable descriptor", ErrSinkUnavailable, written)
			}
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return nil, fmt.Errorf("%w: rewind descriptor: %w", ErrSinkUnavailable, err)
			}
		}
		return NewDescriptorSink(w), nil
	}
	return m.download(ctx, objectID, create, progress)
}

func (m *Manager) upload(ctx context.Context, meta ObjectMetadata, open func(attempt int) (Source, error), progress ProgressFunc) Result {
	engine := m.engine()
	progress = highWater(progress)
	var res Result
	for attempt := 0; ; attempt++ {
		src, err := open(attempt)
		if err != nil {
			if attempt > 0 {
				m.logger.WithFields(logrus.Fields{
					"function": "Manager.upload",
					"attempt":  attempt,
					"error":    err.Error(),
				}).Warn("Cannot rebuild source for retry")
				return res
			}
			return m.rejected(meta.Size, err)
		}

		res = m.withTimeout(ctx, func(actx context.Context) Result {
			return engine.Upload(actx, meta, src, progress)
		})
		if !m.shouldRetry(ctx, res, attempt) {
			return res
		}
	}
}

func (m *Manager) download(ctx context.Context, objectID uint32, create func(attempt int, written uint64) (Sink, error), progress ProgressFunc) Result {
	engine := m.engine()
	progress = highWater(progress)
	var res Result
	for attempt := 0; ; attempt++ {
		sink, err := create(attempt, res.Transferred)
		if err != nil {
			if attempt > 0 {
				m.logger.WithFields(logrus.Fields{
					"function": "Manager.download",
					"attempt":  attempt,
					"error":    err.Error(),
				}).Warn("Cannot rebuild sink for retry")
				return res
			}
			return m.rejected(0, err)
		}

		res = m.withTimeout(ctx, func(actx context.Context) Result {
			return engine.Download(actx, objectID, sink, progress)
		})
		if !m.shouldRetry(ctx, res, attempt) {
			return res
		}
	}
}

// highWater forwards only events that move past everything delivered so far,
// so a retry starting over at zero never moves the caller's progress back.
func highWater(fn ProgressFunc) ProgressFunc {
	if fn == nil {
		return nil
	}
	var delivered uint64
	seen := false
	return func(ev ProgressEvent) {
		if seen && ev.Transferred <= delivered {
			return
		}
		seen = true
		delivered = ev.Transferred
		fn(ev)
	}
}

func (m *Manager) engine() *Engine {
	return NewEngine(m.transport, EngineConfig{
		ChunkSize:    m.chunkSize,
		Logger:       m.logger,
		TimeProvider: m.timeProvider,
	})
}

func (m *Manager) withTimeout(ctx context.Context, run func(context.Context) Result) Result {
	if m.transferTimeout <= 0 {
		return run(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, m.transferTimeout)
	defer cancel()
	return run(actx)
}

// shouldRetry decides whether to start another attempt after res, resetting
// the transport first when it supports it.
func (m *Manager) shouldRetry(ctx context.Context, res Result, attempt int) bool {
	if !res.Retryable() || attempt >= m.retryAttempts || ctx.Err() != nil {
		return false
	}

	m.logger.WithFields(logrus.Fields{
		"function":    "Manager.shouldRetry",
		"session_id":  res.SessionID,
		"attempt":     attempt + 1,
		"max_retries": m.retryAttempts,
		"error":       res.Err.Error(),
	}).Warn("Transfer failed, retrying with a new session")

	if r, ok := m.transport.(interfaces.Resetter); ok {
		if err := r.Reset(ctx); err != nil {
			m.logger.WithFields(logrus.Fields{
				"function": "Manager.shouldRetry",
				"error":    err.Error(),
			}).Error("Device reset failed")
			return false
		}
	}
	return true
}

func (m *Manager) rejected(total uint64, err error) Result {
	res := Result{Outcome: classify(err), Total: total, Err: err}
	m.logger.WithFields(logrus.Fields{
		"function": "Manager",
		"outcome":  res.Outcome.String(),
		"error":    err.Error(),
	}).Error("Transfer rejected before opening a session")
	return res
}

// resolve makes relative paths absolute against the working directory when
// the manager works on the host filesystem.
func (m *Manager) resolve(path string) string {
	if !m.hostFS || filepath.IsAbs(path) {
		return path
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func (m *Manager) descriptorModTime(r io.Reader) time.Time {
	if f, ok := r.(interface{ Stat() (fs.FileInfo, error) }); ok {
		if fi, err := f.Stat(); err == nil && fi.Mode().IsRegular() {
			return fi.ModTime()
		}
	}
	return m.timeProvider.Now()
}

func (m *Manager) detectPathType(path, filename string) FileType {
	if t := FileTypeFromName(filename); t != FileTypeUnknown {
		return t
	}
	f, err := m.fs.Open(path)
	if err != nil {
		return FileTypeUnknown
	}
	defer f.Close()
	return DetectFileType(filepath.Base(path), f)
}
