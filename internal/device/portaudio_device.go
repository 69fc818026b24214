package device

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/wk-j/waveplayer/internal/audio"
)

var initOnce sync.Once
var initErr error

func ensureInitialized() error {
	initOnce.Do(func() {
		initErr = portaudio.Initialize()
	})
	return initErr
}

// PortAudioDevice is the default OutputDevice, backed by
// gordonklaus/portaudio's blocking-write stream API. Writes block
// inside the PortAudio stream until device buffer space frees up,
// which is how this implementation satisfies the pull-to-push
// BytesFree/PeriodSize contract without its own ring buffer: the
// feeder's own write-then-sleep loop (internal/output) already paces
// itself against durations, so BytesFree simply reports one period's
// worth of space is always available and PortAudio's blocking write
// enforces the real backpressure.
type PortAudioDevice struct {
	format audio.Format
	stream *portaudio.Stream

	mu             sync.Mutex
	state          State
	processedFrames uint64

	periodFrames int
	outBuf       []int16
}

// NewPortAudioDevice constructs a device for the given format. The
// device is not opened until Start is called.
func NewPortAudioDevice(format audio.Format) *PortAudioDevice {
	return &PortAudioDevice{format: format, periodFrames: format.SampleRate / 10}
}

// Start opens the default output stream for the device's format.
func (d *PortAudioDevice) Start() error {
	if err := ensureInitialized(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.outBuf = make([]int16, d.periodFrames*d.format.Channels)
	stream, err := portaudio.OpenDefaultStream(0, d.format.Channels, float64(d.format.SampleRate), d.periodFrames, &d.outBuf)
	if err != nil {
		return fmt.Errorf("portaudio open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		return fmt.Errorf("portaudio start stream: %w", err)
	}
	d.stream = stream
	d.state = Running
	return nil
}

// Write converts interleaved i16 bytes to the stream's sample buffer
// and blocks until PortAudio has accepted them.
func (d *PortAudioDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != Running {
		return 0, fmt.Errorf("portaudio device: write while stopped")
	}

	frameBytes := d.format.BytesPerFrame()
	frames := len(p) / frameBytes
	written := 0

	for written < frames {
		n := d.periodFrames
		if frames-written < n {
			n = frames - written
		}
		for i := 0; i < n*d.format.Channels; i++ {
			off := written*frameBytes + i*2
			d.outBuf[i] = int16(binary.LittleEndian.Uint16(p[off : off+2]))
		}
		if err := d.stream.Write(); err != nil {
			return written * frameBytes, fmt.Errorf("portaudio write: %w", err)
		}
		atomic.AddUint64(&d.processedFrames, uint64(n))
		written += n
	}
	return written * frameBytes, nil
}

// BytesFree reports one period's worth of space; PortAudio's blocking
// Write provides the real backpressure.
func (d *PortAudioDevice) BytesFree() int {
	return d.PeriodSize()
}

// PeriodSize returns the device's write granularity in bytes.
func (d *PortAudioDevice) PeriodSize() int {
	return d.periodFrames * d.format.BytesPerFrame()
}

// ProcessedUSecs returns the microseconds of audio actually played out.
func (d *PortAudioDevice) ProcessedUSecs() uint64 {
	frames := atomic.LoadUint64(&d.processedFrames)
	return frames * 1_000_000 / uint64(d.format.SampleRate)
}

// Stop closes the PortAudio stream.
func (d *PortAudioDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil {
		return nil
	}
	err := d.stream.Close()
	d.state = Stopped
	d.stream = nil
	return err
}

// State reports the device's current run state.
func (d *PortAudioDevice) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}
