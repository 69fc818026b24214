package decoder

import (
	"bytes"
	"errors"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/gopxl/beep/v2"
)

// wavStreamer adapts go-audio/wav's PCMBuffer-based reader to
// beep.StreamSeekCloser.
type wavStreamer struct {
	dec      *wav.Decoder
	closer   io.Closer
	channels int
	buf      *audio.IntBuffer
	pos      int
	err      error
}

func openWavFile(f io.ReadSeekCloser) (*openedSource, error) {
	return openWavReader(f, f)
}

// openWavReader accepts any io.Reader; non-seekable sources (HTTP
// bodies) are fully buffered first since go-audio/wav requires
// io.ReadSeeker to parse the RIFF header table.
func openWavReader(r io.Reader, closer io.Closer) (*openedSource, error) {
	seeker, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			closer.Close()
			return nil, err
		}
		seeker = bytes.NewReader(data)
	}

	dec := wav.NewDecoder(seeker)
	if !dec.IsValidFile() {
		closer.Close()
		return nil, errors.New("decoder: invalid wav file")
	}
	dec.ReadInfo()

	channels := int(dec.NumChans)
	s := &wavStreamer{
		dec:      dec,
		closer:   closer,
		channels: channels,
		buf: &audio.IntBuffer{
			Format: &audio.Format{NumChannels: channels, SampleRate: int(dec.SampleRate)},
			Data:   make([]int, 4096*channels),
		},
	}
	format := beep.Format{SampleRate: beep.SampleRate(dec.SampleRate), NumChannels: channels, Precision: int(dec.BitDepth) / 8}
	return &openedSource{streamer: s, format: format, closer: closer}, nil
}

func (s *wavStreamer) Stream(samples [][2]float64) (int, bool) {
	if s.err != nil {
		return 0, false
	}
	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		s.err = err
		return 0, false
	}
	frames := n / s.channels
	if frames > len(samples) {
		frames = len(samples)
	}
	maxVal := float64(int(1) << (s.dec.BitDepth - 1))
	for i := 0; i < frames; i++ {
		if s.channels == 1 {
			v := float64(s.buf.Data[i]) / maxVal
			samples[i][0], samples[i][1] = v, v
		} else {
			samples[i][0] = float64(s.buf.Data[i*s.channels]) / maxVal
			samples[i][1] = float64(s.buf.Data[i*s.channels+1]) / maxVal
		}
	}
	s.pos += frames
	return frames, frames > 0
}

func (s *wavStreamer) Err() error { return s.err }

func (s *wavStreamer) Len() int { return -1 }

func (s *wavStreamer) Position() int { return s.pos }

func (s *wavStreamer) Seek(p int) error { return errors.New("decoder: wav stream seek unsupported") }

func (s *wavStreamer) Close() error { return s.closer.Close() }
