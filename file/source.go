package file

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-git/go-billy/v5"
	"github.com/sirupsen/logrus"
)

// Source produces the bytes of one upload as a finite sequence of chunks.
// It is not restartable: once exhausted NextChunk keeps returning an empty
// chunk, and once failed it keeps returning the same error.
type Source interface {
	// NextChunk returns up to max bytes. Every chunk but the last is full.
	// An empty chunk with a nil error marks the end of the data.
	NextChunk(max int) ([]byte, error)
	// Close releases anything the source owns. It is safe to call twice.
	Close() error
}

// chunkReader holds the read loop shared by both source variants.
type chunkReader struct {
	r    io.Reader
	name string
	done bool
	err  error
}

func (c *chunkReader) next(max int) (chunk []byte, finished bool, err error) {
	if c.err != nil {
		return nil, true, c.err
	}
	if c.done {
		return []byte{}, true, nil
	}
	if max <= 0 {
		return nil, false, fmt.Errorf("%w: invalid chunk size %d", ErrSourceUnavailable, max)
	}

	buf := make([]byte, max)
	n, err := io.ReadFull(c.r, buf)
	switch {
	case err == nil:
		return buf[:n], false, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		c.done = true
		return buf[:n], true, nil
	default:
		c.err = fmt.Errorf("%w: read %s: %w", ErrSourceUnavailable, c.name, err)
		return nil, true, c.err
	}
}

// PathSource reads a file it opened itself and exclusively owns the handle.
type PathSource struct {
	path   string
	file   billy.File
	reader chunkReader
	closed bool
}

// OpenPathSource opens path on fs for reading. It fails with
// ErrSourceUnavailable when the path is missing, unreadable, or a directory.
func OpenPathSource(fs billy.Filesystem, path string) (*PathSource, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrSourceUnavailable, path)
	}

	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "OpenPathSource",
		"path":     path,
		"size":     info.Size(),
	}).Debug("Opened path source")

	return &PathSource{
		path:   path,
		file:   f,
		reader: chunkReader{r: f, name: path},
	}, nil
}

// NextChunk implements Source. The file is closed as soon as it is
// exhausted or a read fails.
func (s *PathSource) NextChunk(max int) ([]byte, error) {
	if s.closed && !s.reader.done && s.reader.err == nil {
		return nil, fmt.Errorf("%w: %s already closed", ErrSourceUnavailable, s.path)
	}
	chunk, finished, err := s.reader.next(max)
	if finished {
		s.release()
	}
	return chunk, err
}

// Close implements Source.
func (s *PathSource) Close() error {
	return s.release()
}

// Released reports whether the file handle has been closed.
func (s *PathSource) Released() bool {
	return s.closed
}

func (s *PathSource) release() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.file.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "PathSource.release",
			"path":     s.path,
			"error":    err.Error(),
		}).Warn("Failed to close source file")
		return err
	}
	return nil
}

// DescriptorSource reads from a caller-owned reader. Close never closes it.
type DescriptorSource struct {
	r      io.Reader
	reader chunkReader
}

// NewDescriptorSource wraps r. The caller keeps ownership of r.
func NewDescriptorSource(r io.Reader) *DescriptorSource {
	return &DescriptorSource{
		r:      r,
		reader: chunkReader{r: r, name: "descriptor"},
	}
}

// NextChunk implements Source.
func (s *DescriptorSource) NextChunk(max int) ([]byte, error) {
	chunk, _, err := s.reader.next(max)
	return chunk, err
}

// Close implements Source without touching the borrowed reader.
func (s *DescriptorSource) Close() error {
	return nil
}

// Rewind seeks the borrowed reader back to its start so a new transfer
// attempt can read it again. It fails when the reader is not an io.Seeker.
func (s *DescriptorSource) Rewind() (*DescriptorSource, error) {
	seeker, ok := s.r.(io.Seeker)
	if !ok {
		return nil, fmt.Errorf("%w: descriptor is not seekable", ErrSourceUnavailable)
	}
	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: rewind descriptor: %w", ErrSourceUnavailable, err)
	}
	return NewDescriptorSource(s.r), nil
}
