// Package limits provides centralized size limits for device file transfers.
// This ensures consistent validation across the engine, the wire codec and
// the transports.
package limits

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultChunkSize is the chunk size used when the caller does not pick one.
	DefaultChunkSize = 16 * 1024

	// MinChunkSize is the smallest chunk size accepted by the engine.
	MinChunkSize = 1

	// MaxChunkSize bounds a single data chunk to prevent resource exhaustion.
	// It matches the largest bulk payload a device link is expected to accept.
	MaxChunkSize = 64 * 1024

	// MaxFileNameLength is the maximum object file name length in bytes.
	// The value (255) matches typical filesystem limits and fits in a uint16.
	MaxFileNameLength = 255

	// FrameHeaderSize is the size of a wire frame header: type (1) + length (4).
	FrameHeaderSize = 5

	// MaxFramePayload is the absolute maximum for any frame payload.
	// A data frame carries a session id (4) in front of the chunk.
	MaxFramePayload = MaxChunkSize + 64
)

var (
	// ErrChunkSizeInvalid indicates a chunk size outside [MinChunkSize, MaxChunkSize].
	ErrChunkSizeInvalid = errors.New("invalid chunk size")

	// ErrChunkTooLarge indicates a chunk exceeds the allowed size.
	ErrChunkTooLarge = errors.New("chunk too large")

	// ErrFileNameEmpty indicates an empty object file name.
	ErrFileNameEmpty = errors.New("empty file name")

	// ErrFileNameTooLong indicates an object file name longer than MaxFileNameLength.
	ErrFileNameTooLong = errors.New("file name too long")

	// ErrDirectoryTraversal indicates an object name that would escape its
	// parent container.
	ErrDirectoryTraversal = errors.New("path contains directory traversal")

	// ErrFrameTooLarge indicates a wire frame payload exceeds MaxFramePayload.
	ErrFrameTooLarge = errors.New("frame too large")
)

// ValidateChunkSize checks that size lies in [MinChunkSize, MaxChunkSize].
func ValidateChunkSize(size int) error {
	if size < MinChunkSize || size > MaxChunkSize {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrChunkSizeInvalid, size, MinChunkSize, MaxChunkSize)
	}
	return nil
}

// ValidateChunk checks a data chunk against maxSize.
// An empty chunk is valid; it marks end of data.
func ValidateChunk(chunk []byte, maxSize int) error {
	if len(chunk) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrChunkTooLarge, len(chunk), maxSize)
	}
	return nil
}

// ValidateFileName checks an object file name for emptiness and length.
func ValidateFileName(name string) error {
	if name == "" {
		return ErrFileNameEmpty
	}
	if len(name) > MaxFileNameLength {
		return fmt.Errorf("%w: length %d exceeds limit %d", ErrFileNameTooLong, len(name), MaxFileNameLength)
	}
	return nil
}

// ValidateObjectName checks a name stored inside a parent container: it must
// pass ValidateFileName and be a single path element.
func ValidateObjectName(name string) error {
	if err := ValidateFileName(name); err != nil {
		return err
	}
	if name == "." || name == ".." || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%w: %q", ErrDirectoryTraversal, name)
	}
	return nil
}

// ValidateFramePayload checks a frame payload length against MaxFramePayload.
func ValidateFramePayload(length int) error {
	if length > MaxFramePayload {
		return fmt.Errorf("%w: payload %d exceeds limit %d", ErrFrameTooLarge, length, MaxFramePayload)
	}
	return nil
}

// EffectiveChunkSize clamps requested to the transport's frame limit.
// A non-positive requested size selects DefaultChunkSize; a non-positive
// transportMax means the transport imposes no limit beyond MaxChunkSize.
func EffectiveChunkSize(requested, transportMax int) int {
	size := requested
	if size <= 0 {
		size = DefaultChunkSize
	}
	if size > MaxChunkSize {
		size = MaxChunkSize
	}
	if transportMax > 0 && size > transportMax {
		size = transportMax
	}
	return size
}
