package testing

import (
	"bytes"
	"context"
	"fmt"
	"hash"
	"io"
	"path"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/opd-ai/mtpxfer/interfaces"
	"github.com/opd-ai/mtpxfer/limits"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

const (
	incomingDir = "incoming"
	objectsDir  = "objects"
)

// Faults configures failures injected by the simulated device. Counters are
// 1-based: FailWriteAt 3 fails the third WriteChunk call of a session.
// Unless Persistent is set, a fault is cleared after it fires once.
type Faults struct {
	FailOpen    error
	FailWriteAt int
	FailWrite   error
	FailCommit  error
	FailReadAt  int
	FailRead    error
	// ExtraReadBytes appends bytes beyond the object size to the final read.
	ExtraReadBytes int
	// NoObjectID makes the device acknowledge object info without an id.
	NoObjectID bool
	// WriteDelay is slept before acknowledging every chunk.
	WriteDelay time.Duration
	Persistent bool
}

// WriteRecord represents one chunk the device received, for test verification.
type WriteRecord struct {
	SessionID uint32
	Size      int
	Offset    uint64
}

// Stats summarizes device activity.
type Stats struct {
	SessionsOpened int
	SessionsClosed int
	Commits        int
	Resets         int
	Objects        int
}

type simObject struct {
	info interfaces.ObjectInfo
	path string
}

type simSession struct {
	id        uint32
	upload    bool
	info      interfaces.ObjectInfo
	hasInfo   bool
	file      billy.File
	tmpPath   string
	received  uint64
	sent      uint64
	writes    int
	reads     int
	digest    hash.Hash
	committed bool
}

// SimulatedDevice implements interfaces.Transport against an in-process object
// store. It also serves the frame protocol (see ServeConn) so the real stream
// transport can be exercised end to end.
type SimulatedDevice struct {
	fs            billy.Filesystem
	objects       map[uint32]*simObject
	sessions      map[uint32]*simSession
	nextObjectID  uint32
	nextSessionID uint32
	faults        Faults
	writeLog      []WriteRecord
	stats         Stats
	closed        bool
	mu            sync.Mutex
}

// NewSimulatedDevice creates a device storing objects on fs.
// A nil fs selects an in-memory filesystem.
func NewSimulatedDevice(fs billy.Filesystem) *SimulatedDevice {
	logrus.Warn("SIMULATION FUNCTION - NOT A REAL DEVICE")
	if fs == nil {
		fs = memfs.New()
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewSimulatedDevice",
		"root":     fs.Root(),
	}).Info("Creating simulated device")

	return &SimulatedDevice{
		fs:            fs,
		objects:       make(map[uint32]*simObject),
		sessions:      make(map[uint32]*simSession),
		nextObjectID:  1,
		nextSessionID: 1,
	}
}

// SetFaults replaces the injected faults.
func (d *SimulatedDevice) SetFaults(f Faults) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults = f
}

// MaxChunkSize implements interfaces.Transport.
func (d *SimulatedDevice) MaxChunkSize() int {
	return limits.MaxChunkSize
}

// OpenSession implements interfaces.Transport.
func (d *SimulatedDevice) OpenSession(ctx context.Context, info interfaces.ObjectInfo) (interfaces.SessionHandle, error) {
	sessionID, err := d.openSession()
	if err != nil {
		return interfaces.SessionHandle{}, err
	}
	objectID, err := d.acceptObjectInfo(sessionID, info)
	if err != nil {
		d.CloseSession(interfaces.SessionHandle{ID: sessionID})
		return interfaces.SessionHandle{}, err
	}
	return interfaces.SessionHandle{ID: sessionID, ObjectID: objectID}, nil
}

func (d *SimulatedDevice) openSession() (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, interfaces.ErrDeviceClosed
	}
	if err := d.faults.FailOpen; err != nil {
		d.consumeLocked(func(f *Faults) { f.FailOpen = nil })
		return 0, err
	}

	id := d.nextSessionID
	d.nextSessionID++
	d.sessions[id] = &simSession{id: id, upload: true}
	d.stats.SessionsOpened++
	return id, nil
}

func (d *SimulatedDevice) acceptObjectInfo(sessionID uint32, info interfaces.ObjectInfo) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, err := d.sessionLocked(sessionID)
	if err != nil {
		return 0, err
	}
	if !s.upload || s.hasInfo {
		return 0, fmt.Errorf("%w: object info already sent for session %d", interfaces.ErrProtocol, sessionID)
	}
	if err := limits.ValidateObjectName(info.Filename); err != nil {
		return 0, fmt.Errorf("%w: %w", interfaces.ErrProtocol, err)
	}
	if info.ModTime.IsZero() {
		info.ModTime = time.Now().UTC().Truncate(time.Second)
	}

	if err := d.fs.MkdirAll(incomingDir, 0o755); err != nil {
		return 0, fmt.Errorf("%w: %v", interfaces.ErrProtocol, err)
	}
	tmpPath := path.Join(incomingDir, fmt.Sprintf("session-%d.part", sessionID))
	f, err := d.fs.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", interfaces.ErrProtocol, err)
	}
	digest, _ := blake2b.New256(nil)

	info.ObjectID = d.nextObjectID
	d.nextObjectID++
	if d.faults.NoObjectID {
		info.ObjectID = 0
		d.consumeLocked(func(f *Faults) { f.NoObjectID = false })
	}

	s.info = info
	s.hasInfo = true
	s.file = f
	s.tmpPath = tmpPath
	s.digest = digest

	logrus.WithFields(logrus.Fields{
		"function":   "SimulatedDevice.acceptObjectInfo",
		"session_id": sessionID,
		"object_id":  info.ObjectID,
		"file_name":  info.Filename,
		"file_size":  info.Size,
	}).Debug("Simulated device accepted object info")

	return info.ObjectID, nil
}

// WriteChunk implements interfaces.Transport.
func (d *SimulatedDevice) WriteChunk(ctx context.Context, h interfaces.SessionHandle, chunk []byte) error {
	d.mu.Lock()
	delay := d.faults.WriteDelay
	d.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	_, err := d.writeChunk(h.ID, chunk)
	return err
}

func (d *SimulatedDevice) writeChunk(sessionID uint32, chunk []byte) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, err := d.sessionLocked(sessionID)
	if err != nil {
		return 0, err
	}
	if !s.upload || !s.hasInfo || s.committed {
		return 0, fmt.Errorf("%w: session %d is not accepting data", interfaces.ErrProtocol, sessionID)
	}
	if err := limits.ValidateChunk(chunk, limits.MaxChunkSize); err != nil {
		return 0, fmt.Errorf("%w: %v", interfaces.ErrProtocol, err)
	}

	s.writes++
	if d.faults.FailWriteAt > 0 && s.writes == d.faults.FailWriteAt {
		err := d.faults.FailWrite
		if err == nil {
			err = fmt.Errorf("%w: injected write failure at chunk %d", interfaces.ErrProtocol, s.writes)
		}
		d.consumeLocked(func(f *Faults) { f.FailWriteAt = 0 })
		return 0, err
	}
	if s.received+uint64(len(chunk)) > s.info.Size {
		return 0, fmt.Errorf("%w: object overrun: %d + %d > %d", interfaces.ErrProtocol, s.received, len(chunk), s.info.Size)
	}

	if _, err := s.file.Write(chunk); err != nil {
		return 0, fmt.Errorf("%w: store chunk: %v", interfaces.ErrProtocol, err)
	}
	s.digest.Write(chunk)

	d.writeLog = append(d.writeLog, WriteRecord{SessionID: sessionID, Size: len(chunk), Offset: s.received})
	s.received += uint64(len(chunk))
	return s.received, nil
}

// Commit implements interfaces.Transport.
func (d *SimulatedDevice) Commit(ctx context.Context, h interfaces.SessionHandle, digest []byte) error {
	_, err := d.commit(h.ID, digest)
	return err
}

func (d *SimulatedDevice) commit(sessionID uint32, digest []byte) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, err := d.sessionLocked(sessionID)
	if err != nil {
		return 0, err
	}
	if !s.upload || !s.hasInfo || s.committed {
		return 0, fmt.Errorf("%w: session %d cannot commit", interfaces.ErrProtocol, sessionID)
	}
	if err := d.faults.FailCommit; err != nil {
		d.consumeLocked(func(f *Faults) { f.FailCommit = nil })
		return 0, err
	}
	if s.received != s.info.Size {
		return 0, fmt.Errorf("%w: commit after %d of %d bytes", interfaces.ErrProtocol, s.received, s.info.Size)
	}
	if len(digest) > 0 && !bytes.Equal(digest, s.digest.Sum(nil)) {
		return 0, fmt.Errorf("%w: session %d", interfaces.ErrChecksum, sessionID)
	}

	if err := s.file.Close(); err != nil {
		return 0, fmt.Errorf("%w: close object: %v", interfaces.ErrProtocol, err)
	}
	s.file = nil

	finalPath := d.objectPath(s.info)
	if err := d.fs.MkdirAll(path.Dir(finalPath), 0o755); err != nil {
		return 0, fmt.Errorf("%w: %v", interfaces.ErrProtocol, err)
	}
	for id, obj := range d.objects {
		if obj.path == finalPath {
			delete(d.objects, id)
		}
	}
	if err := d.fs.Rename(s.tmpPath, finalPath); err != nil {
		return 0, fmt.Errorf("%w: persist object: %v", interfaces.ErrProtocol, err)
	}

	s.committed = true
	d.objects[s.info.ObjectID] = &simObject{info: s.info, path: finalPath}
	d.stats.Commits++

	logrus.WithFields(logrus.Fields{
		"function":  "SimulatedDevice.Commit",
		"object_id": s.info.ObjectID,
		"path":      finalPath,
		"size":      s.received,
	}).Info("Simulated device persisted object")

	return s.info.ObjectID, nil
}

// OpenRead implements interfaces.Transport.
func (d *SimulatedDevice) OpenRead(ctx context.Context, objectID uint32) (interfaces.SessionHandle, interfaces.ObjectInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return interfaces.SessionHandle{}, interfaces.ObjectInfo{}, interfaces.ErrDeviceClosed
	}
	if err := d.faults.FailOpen; err != nil {
		d.consumeLocked(func(f *Faults) { f.FailOpen = nil })
		return interfaces.SessionHandle{}, interfaces.ObjectInfo{}, err
	}

	obj, ok := d.objects[objectID]
	if !ok {
		return interfaces.SessionHandle{}, interfaces.ObjectInfo{}, fmt.Errorf("%w: %d", interfaces.ErrObjectNotFound, objectID)
	}
	f, err := d.fs.Open(obj.path)
	if err != nil {
		return interfaces.SessionHandle{}, interfaces.ObjectInfo{}, fmt.Errorf("%w: open object: %v", interfaces.ErrProtocol, err)
	}

	id := d.nextSessionID
	d.nextSessionID++
	d.sessions[id] = &simSession{id: id, info: obj.info, hasInfo: true, file: f}
	d.stats.SessionsOpened++

	return interfaces.SessionHandle{ID: id, ObjectID: objectID}, obj.info, nil
}

// ReadChunk implements interfaces.Transport.
func (d *SimulatedDevice) ReadChunk(ctx context.Context, h interfaces.SessionHandle, max int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, err := d.sessionLocked(h.ID)
	if err != nil {
		return nil, err
	}
	if s.upload {
		return nil, fmt.Errorf("%w: session %d is an upload", interfaces.ErrProtocol, h.ID)
	}
	if err := limits.ValidateChunkSize(max); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrProtocol, err)
	}

	s.reads++
	if d.faults.FailReadAt > 0 && s.reads == d.faults.FailReadAt {
		err := d.faults.FailRead
		if err == nil {
			err = fmt.Errorf("%w: injected read failure at chunk %d", interfaces.ErrProtocol, s.reads)
		}
		d.consumeLocked(func(f *Faults) { f.FailReadAt = 0 })
		return nil, err
	}

	buf := make([]byte, max)
	n, err := io.ReadFull(s.file, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("%w: read object: %v", interfaces.ErrProtocol, err)
	}
	chunk := buf[:n]
	s.sent += uint64(n)

	if s.sent == s.info.Size && d.faults.ExtraReadBytes > 0 && n < max {
		extra := lo.Min([]int{d.faults.ExtraReadBytes, max - n})
		chunk = append(chunk, make([]byte, extra)...)
		d.consumeLocked(func(f *Faults) { f.ExtraReadBytes = 0 })
	}
	return chunk, nil
}

// CloseSession implements interfaces.Transport. Uncommitted uploads are discarded.
func (d *SimulatedDevice) CloseSession(h interfaces.SessionHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[h.ID]
	if !ok {
		return fmt.Errorf("%w: %d", interfaces.ErrSessionClosed, h.ID)
	}
	delete(d.sessions, h.ID)
	d.stats.SessionsClosed++

	if s.file != nil {
		s.file.Close()
	}
	if s.upload && s.hasInfo && !s.committed {
		if err := d.fs.Remove(s.tmpPath); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "SimulatedDevice.CloseSession",
				"session_id": h.ID,
				"error":      err.Error(),
			}).Warn("Failed to discard partial object")
		}
	}
	return nil
}

// Reset implements interfaces.Resetter. Open sessions are dropped.
func (d *SimulatedDevice) Reset(ctx context.Context) error {
	d.mu.Lock()
	ids := lo.Keys(d.sessions)
	d.stats.Resets++
	d.mu.Unlock()

	for _, id := range ids {
		d.CloseSession(interfaces.SessionHandle{ID: id})
	}
	return nil
}

// Close marks the device as gone; later calls fail with ErrDeviceClosed.
func (d *SimulatedDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// AddObject stores content as an already committed object and returns its id.
func (d *SimulatedDevice) AddObject(info interfaces.ObjectInfo, content []byte) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := limits.ValidateObjectName(info.Filename); err != nil {
		return 0, err
	}
	info.ObjectID = d.nextObjectID
	info.Size = uint64(len(content))
	p := d.objectPath(info)
	if err := d.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return 0, err
	}
	f, err := d.fs.Create(p)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	if _, err := f.Write(content); err != nil {
		return 0, err
	}

	d.nextObjectID++
	d.objects[info.ObjectID] = &simObject{info: info, path: p}
	return info.ObjectID, nil
}

// Object returns the stored content and info of a committed object.
func (d *SimulatedDevice) Object(objectID uint32) ([]byte, interfaces.ObjectInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	obj, ok := d.objects[objectID]
	if !ok {
		return nil, interfaces.ObjectInfo{}, fmt.Errorf("%w: %d", interfaces.ErrObjectNotFound, objectID)
	}
	f, err := d.fs.Open(obj.path)
	if err != nil {
		return nil, interfaces.ObjectInfo{}, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	return content, obj.info, err
}

// GetWriteLog returns a copy of every chunk write the device accepted.
func (d *SimulatedDevice) GetWriteLog() []WriteRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]WriteRecord(nil), d.writeLog...)
}

// WriteSizes returns the sizes of accepted chunk writes in order.
func (d *SimulatedDevice) WriteSizes() []int {
	return lo.Map(d.GetWriteLog(), func(r WriteRecord, _ int) int { return r.Size })
}

// GetStats returns a snapshot of device counters.
func (d *SimulatedDevice) GetStats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	stats := d.stats
	stats.Objects = len(d.objects)
	return stats
}

// OpenSessions returns the number of sessions not yet closed.
func (d *SimulatedDevice) OpenSessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

func (d *SimulatedDevice) sessionLocked(id uint32) (*simSession, error) {
	if d.closed {
		return nil, interfaces.ErrDeviceClosed
	}
	s, ok := d.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", interfaces.ErrSessionClosed, id)
	}
	return s, nil
}

func (d *SimulatedDevice) consumeLocked(clear func(f *Faults)) {
	if !d.faults.Persistent {
		clear(&d.faults)
	}
}

func (d *SimulatedDevice) objectPath(info interfaces.ObjectInfo) string {
	return path.Join(objectsDir, fmt.Sprintf("%08x", info.StorageID), fmt.Sprintf("%d", info.ParentID), info.Filename)
}
