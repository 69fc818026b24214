// Package pcmcache buffers decoded PCM between the decoder and the rest
// of the pipeline, serving sequential and seek reads and choosing a
// memory, disk, or destructive-ring backend at creation time, grounded
// on original_source/pcmcache.cpp.
package pcmcache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/smallnest/ringbuffer"

	"github.com/wk-j/waveplayer/internal/audio"
	"github.com/wk-j/waveplayer/internal/errs"
)

const (
	// DefaultAvailableMemory is used if the OS memory query fails.
	DefaultAvailableMemory = 50 * 1024 * 1024
	// MaxAvailableMemory caps how much of the reported available memory
	// the cache will claim for an in-memory backend.
	MaxAvailableMemory = 500 * 1024 * 1024
	// BufferCreateMS is the target size, in milliseconds, of one
	// emitted chunk (~50ms of PCM).
	BufferCreateMS = 50
)

type backend int

const (
	backendMemory backend = iota
	backendFile
	backendRadioRing
)

// Cache buffers PCM for one track pipeline.
type Cache struct {
	format       audio.Format
	lengthHintMs int64
	radioStation bool

	mu      sync.Mutex
	kind    backend
	memory  []byte
	file    *os.File
	filePath string
	ring    *ringbuffer.RingBuffer

	readPosition        int64
	writtenBytes        int64 // total bytes ever written (for ring backend, since ring drops consumed bytes)
	unfulfilledRequest  bool

	onChunk func(audio.Chunk)
	onError func(error)
}

// AvailableMemory returns the OS-reported available physical memory,
// clamped to [0, MaxAvailableMemory], falling back to
// DefaultAvailableMemory if the query fails.
func AvailableMemory() int64 {
	v, err := mem.VirtualMemory()
	if err != nil {
		return DefaultAvailableMemory
	}
	avail := int64(v.Available)
	if avail <= 0 {
		return DefaultAvailableMemory
	}
	if avail > MaxAvailableMemory {
		return MaxAvailableMemory
	}
	return avail
}

// New creates a Cache for format, choosing its backend the way
// original_source/pcmcache.cpp's run() does: a temp file when the
// length hint is unknown (and it isn't a radio station) or the
// estimated footprint exceeds available memory; a destructive ring
// buffer for radio streams; otherwise a plain in-memory buffer.
func New(format audio.Format, lengthHintMs int64, radioStation bool, tempDir string) (*Cache, error) {
	c := &Cache{format: format, lengthHintMs: lengthHintMs, radioStation: radioStation}

	footprint := format.BytesForDuration(lengthHintMs * 1000)
	needsFile := (lengthHintMs <= 0 && !radioStation) || footprint > AvailableMemory()

	if radioStation && lengthHintMs <= 0 {
		c.kind = backendRadioRing
		c.ring = ringbuffer.New(int(AvailableMemory()))
		return c, nil
	}

	if needsFile {
		if tempDir == "" {
			tempDir = os.TempDir()
		}
		path := filepath.Join(tempDir, "waver_"+uuid.NewString())
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
		if err != nil {
			return nil, fmt.Errorf("pcmcache: create temp file: %w: %w", err, errs.ErrCacheExhausted)
		}
		c.kind = backendFile
		c.file = f
		c.filePath = path
		return c, nil
	}

	c.kind = backendMemory
	c.memory = make([]byte, 0, footprint)
	return c, nil
}

// BufferedMs returns how much decoded-but-undelivered audio is
// currently stored, used by the pipeline's decoder-delay throttle.
func (c *Cache) BufferedMs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	size := c.sizeLocked()
	if c.kind != backendRadioRing {
		size -= c.readPosition
	}
	return c.format.DurationForBytes(size) / 1000
}

// OnChunk registers the callback invoked whenever a chunk is emitted.
func (c *Cache) OnChunk(fn func(audio.Chunk)) { c.onChunk = fn }

// OnError registers the callback invoked on an unrecoverable cache error.
func (c *Cache) OnError(fn func(error)) { c.onError = fn }

// Close releases the backing resource, deleting any temp file.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file != nil {
		path := c.filePath
		err := c.file.Close()
		os.Remove(path)
		c.file = nil
		return err
	}
	c.memory = nil
	c.ring = nil
	return nil
}

// sizeLocked returns the number of bytes currently stored. Caller must hold mu.
func (c *Cache) sizeLocked() int64 {
	switch c.kind {
	case backendFile:
		fi, err := c.file.Stat()
		if err != nil {
			return 0
		}
		return fi.Size()
	case backendRadioRing:
		return int64(c.ring.Length())
	default:
		return int64(len(c.memory))
	}
}

// StoreBuffer appends decoded PCM to the cache. If a prior read request
// went unfulfilled for lack of data, it is immediately retried.
func (c *Cache) StoreBuffer(data []byte) error {
	c.mu.Lock()
	var err error
	switch c.kind {
	case backendFile:
		if _, serr := c.file.Seek(0, io.SeekEnd); serr != nil {
			err = serr
			break
		}
		_, err = c.file.Write(data)
	case backendRadioRing:
		_, err = c.ring.Write(data)
	default:
		c.memory = append(c.memory, data...)
	}
	c.writtenBytes += int64(len(data))
	retry := c.unfulfilledRequest
	c.mu.Unlock()

	if err != nil {
		wrapped := fmt.Errorf("pcmcache: store buffer: %w", err)
		if c.onError != nil {
			c.onError(wrapped)
		}
		return wrapped
	}

	if retry {
		c.RequestNextPCMChunk()
	}
	return nil
}

// chunkLength is the byte length of one ~50ms chunk at the cache's format.
func (c *Cache) chunkLength() int64 {
	return c.format.BytesForDuration(BufferCreateMS * 1000)
}

// RequestNextPCMChunk emits one chunk starting at the current read
// position. If fewer bytes are available than one chunk, it sets the
// pending flag and emits nothing; the flag is cleared once data arrives.
func (c *Cache) RequestNextPCMChunk() {
	c.mu.Lock()

	if c.kind == backendRadioRing {
		length := c.chunkLength()
		buf := make([]byte, length)
		n, _ := c.ring.Read(buf)
		if n == 0 {
			c.unfulfilledRequest = true
			c.mu.Unlock()
			return
		}
		c.unfulfilledRequest = false
		start := c.format.DurationForBytes(c.readPosition)
		c.readPosition += int64(n)
		c.mu.Unlock()
		c.emit(audio.Chunk{Data: buf[:n], StartMicros: start})
		return
	}

	size := c.sizeLocked()
	if c.readPosition >= size {
		c.unfulfilledRequest = true
		c.mu.Unlock()
		return
	}
	c.unfulfilledRequest = false

	length := c.chunkLength()
	if c.readPosition+length > size {
		length = size - c.readPosition
	}
	if length <= 0 {
		c.mu.Unlock()
		return
	}

	start := c.format.DurationForBytes(c.readPosition)
	buf := make([]byte, length)

	var err error
	switch c.kind {
	case backendFile:
		_, err = c.file.ReadAt(buf, c.readPosition)
	default:
		copy(buf, c.memory[c.readPosition:c.readPosition+length])
	}
	c.readPosition += length
	c.mu.Unlock()

	if err != nil {
		wrapped := fmt.Errorf("pcmcache: read chunk: %w", err)
		if c.onError != nil {
			c.onError(wrapped)
		}
		return
	}

	c.emit(audio.Chunk{Data: buf, StartMicros: start})
}

// RequestTimestampPCMChunk seeks the read position to the byte offset
// for ms (clamped to [0, size-chunkLength]) and emits one chunk tagged
// FromSeek.
func (c *Cache) RequestTimestampPCMChunk(ms int64) {
	if c.kind == backendRadioRing {
		// Radio streams are unbounded and destructively consumed; seeking
		// is meaningless.
		return
	}

	c.mu.Lock()
	size := c.sizeLocked()
	length := c.chunkLength()

	pos := c.format.BytesForDuration(ms * 1000)
	if maxPos := size - length; pos > maxPos {
		pos = maxPos
	}
	if pos < 0 {
		pos = 0
	}
	if size < pos+length {
		length = size - pos
	}
	if length <= 0 {
		c.mu.Unlock()
		return
	}

	start := c.format.DurationForBytes(pos)
	buf := make([]byte, length)

	var err error
	switch c.kind {
	case backendFile:
		_, err = c.file.ReadAt(buf, pos)
	default:
		copy(buf, c.memory[pos:pos+length])
	}
	c.readPosition = pos + length
	c.mu.Unlock()

	if err != nil {
		wrapped := fmt.Errorf("pcmcache: seek read: %w", err)
		if c.onError != nil {
			c.onError(wrapped)
		}
		return
	}

	c.emit(audio.Chunk{Data: buf, StartMicros: start, FromSeek: true})
}

func (c *Cache) emit(chunk audio.Chunk) {
	if c.onChunk != nil {
		c.onChunk(chunk)
	}
}

// IsFile reports whether the cache is backed by a temp file.
func (c *Cache) IsFile() bool { return c.kind == backendFile }

// IsRadioRing reports whether the cache is backed by a destructive ring.
func (c *Cache) IsRadioRing() bool { return c.kind == backendRadioRing }
