// Package output drains equalized PCM chunks to an OS audio device at
// the device's own pace, publishing position and peak-level events for
// UI synchronization, grounded on original_source/soundoutput.cpp and
// original_source/outputfeeder.cpp.
package output

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/wk-j/waveplayer/internal/audio"
	"github.com/wk-j/waveplayer/internal/device"
)

// NotificationInterval is how often positionChanged is emitted.
const NotificationInterval = 150 * time.Millisecond

// InitialCacheChunks is how many chunks must accumulate before the
// device is opened and the feeder loop starts.
const InitialCacheChunks = 3

// UnderrunWatchdog is how long the feeder waits, after reporting an
// underrun, before re-checking whether the decoded count moved.
const UnderrunWatchdog = 5 * time.Second

// Output owns the chunk queue, the device, and the feeder loop.
type Output struct {
	format audio.Format
	dev    device.OutputDevice
	log    *log.Logger

	peakFps int

	mu              sync.Mutex
	cond            *sync.Cond
	paused          bool
	queue           []audio.Chunk
	firstChunkStart int64
	notifications   int64

	onPosition func(ms int64)
	onPeak     func(lPeak, rPeak float64, delayUs int64)
	onUnderrun func()

	scheduledPeakUs int64
}

// New creates an Output writing PCM of format to dev.
func New(format audio.Format, dev device.OutputDevice, peakFps int) *Output {
	if peakFps <= 0 {
		peakFps = 20
	}
	o := &Output{format: format, dev: dev, peakFps: peakFps, log: log.With("component", "output")}
	o.cond = sync.NewCond(&o.mu)
	return o
}

func (o *Output) OnPosition(fn func(ms int64)) { o.onPosition = fn }
func (o *Output) OnPeak(fn func(lPeak, rPeak float64, delayUs int64)) { o.onPeak = fn }
func (o *Output) OnUnderrun(fn func()) { o.onUnderrun = fn }

// SetPeakFps adjusts how often the peak callback fires, used when the
// UI reports it can't keep up.
func (o *Output) SetPeakFps(fps int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if fps > 0 {
		o.peakFps = fps
	}
}

// Pause stops the device and drops whatever is still queued, per
// spec's "flushes pending bytesToPlay."
func (o *Output) Pause() error {
	o.mu.Lock()
	o.queue = nil
	o.paused = true
	o.mu.Unlock()
	return o.dev.Stop()
}

// Resume clears the queue again, re-anchors position notification on
// the next delivered chunk, and re-opens the device.
func (o *Output) Resume() error {
	o.mu.Lock()
	o.queue = nil
	o.notifications = 0
	o.firstChunkStart = 0
	o.paused = false
	o.mu.Unlock()
	o.cond.Broadcast()
	return o.dev.Start()
}

// ChunkAvailable appends an equalized chunk to the output queue. If
// the chunk is marked FromSeek, the position-notification anchor is
// reset.
func (o *Output) ChunkAvailable(c audio.Chunk) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.paused {
		return
	}
	if c.FromSeek || len(o.queue) == 0 {
		o.firstChunkStart = c.StartMicros / 1000
		o.notifications = 0
	}
	o.queue = append(o.queue, c)
}

func (o *Output) queueLen() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Run waits for the initial cache watermark, opens the device, and
// runs the feeder loop until ctx is cancelled or the device hits a
// fatal error.
func (o *Output) Run(ctx context.Context, decodingDone func() bool) error {
	for o.queueLen() < InitialCacheChunks && !decodingDone() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := o.dev.Start(); err != nil {
		return err
	}
	defer o.dev.Stop()

	go func() {
		<-ctx.Done()
		o.mu.Lock()
		o.cond.Broadcast()
		o.mu.Unlock()
	}()

	periodFrames := o.dev.PeriodSize() / o.format.BytesPerFrame()
	if periodFrames <= 0 {
		periodFrames = 1
	}
	framesPerPeakPeriod := o.format.SampleRate / o.peakFps
	if framesPerPeakPeriod <= 0 {
		framesPerPeakPeriod = 1
	}

	var framesSincePeak int
	var peakL, peakR float64
	var underrunDeadline time.Time
	var underrunBaseline int64

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		o.mu.Lock()
		for o.paused && ctx.Err() == nil {
			o.cond.Wait()
		}
		o.mu.Unlock()
		if ctx.Err() != nil {
			return ctx.Err()
		}

		bytesToWrite := minInt(o.dev.BytesFree(), o.dev.PeriodSize())
		data := o.dequeue(bytesToWrite)

		if len(data) == 0 {
			if decodingDone() {
				return nil
			}
			if underrunDeadline.IsZero() {
				underrunDeadline = time.Now().Add(UnderrunWatchdog)
				underrunBaseline = o.queueLen64()
				underrunsTotal.Inc()
				if o.onUnderrun != nil {
					o.onUnderrun()
				}
			} else if time.Now().After(underrunDeadline) {
				if o.queueLen64() == underrunBaseline {
					o.log.Error("sustained underrun, decoded count unchanged")
				}
				underrunDeadline = time.Time{}
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}
		underrunDeadline = time.Time{}

		frames := len(data) / o.format.BytesPerFrame()
		for i := 0; i < frames; i++ {
			l, r := frameMagnitude(data, i, o.format)
			if absF(l) > peakL {
				peakL = absF(l)
			}
			if absF(r) > peakR {
				peakR = absF(r)
			}
			framesSincePeak++
			if framesSincePeak >= framesPerPeakPeriod {
				o.scheduledPeakUs += int64(framesSincePeak) * 1_000_000 / int64(o.format.SampleRate)
				delay := o.scheduledPeakUs - int64(o.dev.ProcessedUSecs())
				if delay < 0 {
					delay = 0
				}
				peakLevel.WithLabelValues("left").Set(peakL)
				peakLevel.WithLabelValues("right").Set(peakR)
				if o.onPeak != nil {
					o.onPeak(peakL, peakR, delay)
				}
				peakL, peakR = 0, 0
				framesSincePeak = 0
			}
		}

		n, err := o.dev.Write(data)
		if err != nil {
			return err
		}

		o.maybeNotifyPosition()

		writtenUs := int64(n/o.format.BytesPerFrame()) * 1_000_000 / int64(o.format.SampleRate)
		time.Sleep(time.Duration(writtenUs*3/4) * time.Microsecond)
	}
}

func (o *Output) queueLen64() int64 { return int64(o.queueLen()) }

// dequeue removes up to n bytes from the front of the queue, spanning
// multiple chunks if needed, and returns the copied bytes.
func (o *Output) dequeue(n int) []byte {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []byte
	for len(o.queue) > 0 && len(out) < n {
		c := &o.queue[0]
		remaining := n - len(out)
		if len(c.Data) <= remaining {
			out = append(out, c.Data...)
			o.queue = o.queue[1:]
			continue
		}
		out = append(out, c.Data[:remaining]...)
		c.Data = c.Data[remaining:]
	}
	return out
}

func (o *Output) maybeNotifyPosition() {
	o.mu.Lock()
	expectedUs := (o.notifications + 1) * NotificationInterval.Microseconds()
	processedUs := int64(o.dev.ProcessedUSecs())
	if processedUs < expectedUs {
		o.mu.Unlock()
		return
	}
	o.notifications++
	firstStart := o.firstChunkStart
	notifications := o.notifications
	o.mu.Unlock()

	ms := notifications*NotificationInterval.Milliseconds() + firstStart
	if o.onPosition != nil {
		o.onPosition(ms)
	}
}

func frameMagnitude(data []byte, frame int, format audio.Format) (float64, float64) {
	width := format.BitsPerSample / 8
	off := frame * format.BytesPerFrame()
	l := readI16(data[off : off+width])
	r := l
	if format.Channels > 1 {
		r = readI16(data[off+width : off+2*width])
	}
	return l, r
}

func readI16(b []byte) float64 {
	if len(b) < 2 {
		return 0
	}
	v := int16(uint16(b[0]) | uint16(b[1])<<8)
	return float64(v)
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
