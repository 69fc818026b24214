// Package decoder wraps format-specific PCM decoders (MP3 via
// gopxl/beep, Ogg Vorbis via jfreymuth/oggvorbis, WAV via go-audio/wav)
// behind a single facade that resamples to the pipeline's desired
// format and emits timestamped buffers, grounded on
// original_source/wp_mpg123decoder and wp_genericdecoder.
package decoder

import (
	"context"
	"encoding/binary"
	"errors"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gopxl/beep/v2"

	"github.com/wk-j/waveplayer/internal/audio"
)

// framesPerReadMS is the duration, in milliseconds, of resampled audio
// pulled per Stream call, keeping emitted buffers close to one ~50ms chunk.
const framesPerReadMS = 50

// Decoder decodes a single track's URL into the desired PCM format on
// its own goroutine, publishing buffers and lifecycle events via
// callbacks.
type Decoder struct {
	desired audio.Format
	log     *log.Logger

	onBuffer     func(audio.Chunk)
	onFinished   func()
	onError      func(error)
	onRadioTitle func(string)

	delayUs      atomic.Int64
	decodedUs    atomic.Int64
}

// New creates a Decoder that will convert to desired once Run is called.
func New(desired audio.Format) *Decoder {
	return &Decoder{desired: desired, log: log.With("component", "decoder")}
}

func (d *Decoder) OnBuffer(fn func(audio.Chunk))     { d.onBuffer = fn }
func (d *Decoder) OnFinished(fn func())              { d.onFinished = fn }
func (d *Decoder) OnError(fn func(error))            { d.onError = fn }
func (d *Decoder) OnRadioTitle(fn func(string))      { d.onRadioTitle = fn }

// SetDecoderDelay sets a cooperative throttle: the decode loop sleeps
// this many microseconds between reads, used by the pipeline to slow
// decoding once playback has caught up to the cache.
func (d *Decoder) SetDecoderDelay(us int64) { d.delayUs.Store(us) }

// GetDecodedMicroseconds returns the monotone counter of decoded audio
// duration.
func (d *Decoder) GetDecodedMicroseconds() int64 { return d.decodedUs.Load() }

// Run opens rawURL and decodes until EOF, error, or ctx cancellation.
// It blocks; callers run it on a dedicated goroutine.
func (d *Decoder) Run(ctx context.Context, rawURL string) error {
	opened, err := openSource(rawURL, func(title string) {
		if d.onRadioTitle != nil {
			d.onRadioTitle(title)
		}
	})
	if err != nil {
		if d.onError != nil {
			d.onError(err)
		}
		return err
	}
	defer opened.streamer.Close()

	var stream beep.Streamer = opened.streamer
	if opened.format.SampleRate != beep.SampleRate(d.desired.SampleRate) {
		stream = beep.Resample(4, opened.format.SampleRate, beep.SampleRate(d.desired.SampleRate), stream)
	}

	framesPerRead := d.desired.SampleRate * framesPerReadMS / 1000
	buf := make([][2]float64, framesPerRead)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if delay := d.delayUs.Load(); delay > 0 {
			time.Sleep(time.Duration(delay) * time.Microsecond)
		}

		n, ok := stream.Stream(buf)
		if n > 0 {
			start := d.decodedUs.Load()
			chunk := audio.Chunk{Data: framesToBytes(buf[:n], d.desired), StartMicros: start}
			d.decodedUs.Add(int64(n) * 1_000_000 / int64(d.desired.SampleRate))
			if d.onBuffer != nil {
				d.onBuffer(chunk)
			}
		}

		if !ok {
			if err := streamerErr(stream); err != nil {
				d.log.Error("decode error", "url", rawURL, "err", err)
				if d.onError != nil {
					d.onError(err)
				}
				return err
			}
			if d.onFinished != nil {
				d.onFinished()
			}
			return nil
		}
	}
}

func streamerErr(s beep.Streamer) error {
	type errStreamer interface{ Err() error }
	if es, ok := s.(errStreamer); ok {
		return es.Err()
	}
	return nil
}

// framesToBytes converts beep's [-1,1] float64 stereo frames into
// interleaved PCM bytes in the desired format (16-bit signed LE is the
// only width produced here; the desired format is fixed at pipeline
// construction and is always CD-quality 16-bit per the data model).
func framesToBytes(frames [][2]float64, format audio.Format) []byte {
	out := make([]byte, len(frames)*format.BytesPerFrame())
	width := format.BitsPerSample / 8
	for i, f := range frames {
		for ch := 0; ch < format.Channels; ch++ {
			v := f[0]
			if ch == 1 && format.Channels > 1 {
				v = f[1]
			}
			sample := int16(clamp(v) * 32767)
			off := i*format.BytesPerFrame() + ch*width
			binary.LittleEndian.PutUint16(out[off:off+2], uint16(sample))
		}
	}
	return out
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// GracefulEndOrUnderrun implements the decoder-error policy from the
// design's error handling section: if decodedUs is at least 1s past
// currentPlaybackUs, the error is a graceful end of track; otherwise
// it's an underrun that should be reported upstream.
func (d *Decoder) GracefulEndOrUnderrun(currentPlaybackUs int64) error {
	if d.decodedUs.Load() >= currentPlaybackUs+1_000_000 {
		return nil
	}
	return errUnderrun
}

var errUnderrun = errors.New("decoder: underrun before graceful end threshold")
