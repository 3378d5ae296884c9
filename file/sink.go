package file

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/sirupsen/logrus"
)

// Sink receives the bytes of one download.
type Sink interface {
	Write(chunk []byte) error
	// Commit makes the received data visible. It is called once, after the
	// last chunk, and only when the byte count matched.
	Commit() error
	// Abort discards anything written. It is safe to call after Commit.
	Abort() error
}

// PathSink writes into a temporary file next to the destination and renames
// it into place on Commit, so a failed download never leaves a partial file
// at the destination path.
type PathSink struct {
	fs       billy.Filesystem
	path     string
	tmp      billy.File
	tmpName  string
	finished bool
}

// CreatePathSink prepares a download into path on fs. It fails with
// ErrSinkUnavailable when the destination directory cannot be written.
func CreatePathSink(fs billy.Filesystem, path string) (*PathSink, error) {
	if info, err := fs.Stat(path); err == nil && info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrSinkUnavailable, path)
	}

	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}
	tmp, err := fs.TempFile(dir, "."+filepath.Base(path)+".part-")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}

	return &PathSink{
		fs:      fs,
		path:    path,
		tmp:     tmp,
		tmpName: tmp.Name(),
	}, nil
}

// Write implements Sink.
func (s *PathSink) Write(chunk []byte) error {
	if s.finished {
		return fmt.Errorf("%w: %s already finished", ErrSinkUnavailable, s.path)
	}
	if _, err := s.tmp.Write(chunk); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrSinkUnavailable, s.path, err)
	}
	return nil
}

// Commit implements Sink.
func (s *PathSink) Commit() error {
	if s.finished {
		return fmt.Errorf("%w: %s already finished", ErrSinkUnavailable, s.path)
	}
	s.finished = true

	if err := s.tmp.Close(); err != nil {
		s.fs.Remove(s.tmpName)
		return fmt.Errorf("%w: close %s: %w", ErrSinkUnavailable, s.tmpName, err)
	}
	if err := s.fs.Rename(s.tmpName, s.path); err != nil {
		s.fs.Remove(s.tmpName)
		return fmt.Errorf("%w: rename into %s: %w", ErrSinkUnavailable, s.path, err)
	}
	return nil
}

// Abort implements Sink.
func (s *PathSink) Abort() error {
	if s.finished {
		return nil
	}
	s.finished = true

	s.tmp.Close()
	if err := s.fs.Remove(s.tmpName); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "PathSink.Abort",
			"path":     s.tmpName,
			"error":    err.Error(),
		}).Warn("Failed to remove partial download")
		return err
	}
	return nil
}

// DescriptorSink writes to a caller-owned writer and never closes it.
type DescriptorSink struct {
	w io.Writer
}

// NewDescriptorSink wraps w. The caller keeps ownership of w.
func NewDescriptorSink(w io.Writer) *DescriptorSink {
	return &DescriptorSink{w: w}
}

// Write implements Sink.
func (s *DescriptorSink) Write(chunk []byte) error {
	if _, err := s.w.Write(chunk); err != nil {
		return fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}
	return nil
}

// Commit implements Sink. Writers that buffer are flushed if they expose Flush.
func (s *DescriptorSink) Commit() error {
	if f, ok := s.w.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("%w: flush: %w", ErrSinkUnavailable, err)
		}
	}
	return nil
}

// Abort implements Sink. Bytes already handed to the writer cannot be taken back.
func (s *DescriptorSink) Abort() error {
	return nil
}
