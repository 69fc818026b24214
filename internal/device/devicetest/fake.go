// Package devicetest provides an in-memory OutputDevice fake for tests
// that need to drive the output feeder without real audio hardware.
package devicetest

import (
	"sync"
	"sync/atomic"

	"github.com/wk-j/waveplayer/internal/device"
)

// Fake is an OutputDevice that accepts writes into an in-memory buffer
// and advances ProcessedUSecs on demand via Advance, so tests can
// simulate device playback pacing deterministically.
type Fake struct {
	mu       sync.Mutex
	state    device.State
	written  []byte
	period   int
	sampleRate int
	bytesPerFrame int
	processedUS atomic.Uint64
	freeBytes   atomic.Int64
}

// NewFake builds a fake device with the given period size (bytes),
// sample rate, and bytes-per-frame, all initially reporting period
// bytes free.
func NewFake(periodBytes, sampleRate, bytesPerFrame int) *Fake {
	f := &Fake{period: periodBytes, sampleRate: sampleRate, bytesPerFrame: bytesPerFrame}
	f.freeBytes.Store(int64(periodBytes))
	return f
}

func (f *Fake) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = device.Running
	return nil
}

func (f *Fake) Write(p []byte) (int, error) {
	f.mu.Lock()
	f.written = append(f.written, p...)
	f.mu.Unlock()
	return len(p), nil
}

func (f *Fake) BytesFree() int { return int(f.freeBytes.Load()) }

func (f *Fake) PeriodSize() int { return f.period }

func (f *Fake) ProcessedUSecs() uint64 { return f.processedUS.Load() }

func (f *Fake) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = device.Stopped
	return nil
}

func (f *Fake) State() device.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Advance simulates the device having played out n more frames,
// advancing ProcessedUSecs and resetting the reported free byte count.
func (f *Fake) Advance(frames int) {
	us := uint64(frames) * 1_000_000 / uint64(f.sampleRate)
	f.processedUS.Add(us)
	f.freeBytes.Store(int64(f.period))
}

// SetFreeBytes overrides the reported free byte count, for tests that
// need to simulate a full device buffer.
func (f *Fake) SetFreeBytes(n int) { f.freeBytes.Store(int64(n)) }

// Written returns a copy of everything written to the fake device.
func (f *Fake) Written() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.written...)
}
