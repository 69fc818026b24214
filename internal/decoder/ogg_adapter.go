package decoder

import (
	"errors"
	"io"

	"github.com/gopxl/beep/v2"
	"github.com/jfreymuth/oggvorbis"
)

// oggStreamer adapts jfreymuth/oggvorbis's float32 interleaved reader to
// beep.StreamSeekCloser. Seeking is not supported: the pipeline relies
// on the PCM cache for seek, not the decoder, so this is never called.
type oggStreamer struct {
	r        *oggvorbis.Reader
	closer   io.Closer
	channels int
	pos      int
	err      error
}

func openOggFile(f io.ReadSeekCloser) (*openedSource, error) {
	return openOggReader(f, f)
}

func openOggReader(r io.Reader, closer io.Closer) (*openedSource, error) {
	dec, err := oggvorbis.NewReader(r)
	if err != nil {
		closer.Close()
		return nil, err
	}
	s := &oggStreamer{r: dec, closer: closer, channels: dec.Channels()}
	format := beep.Format{SampleRate: beep.SampleRate(dec.SampleRate()), NumChannels: dec.Channels(), Precision: 4}
	return &openedSource{streamer: s, format: format, closer: closer}, nil
}

func (s *oggStreamer) Stream(samples [][2]float64) (int, bool) {
	if s.err != nil {
		return 0, false
	}
	buf := make([]float32, len(samples)*s.channels)
	n, err := s.r.Read(buf)
	frames := n / s.channels
	for i := 0; i < frames; i++ {
		if s.channels == 1 {
			v := float64(buf[i])
			samples[i][0], samples[i][1] = v, v
		} else {
			samples[i][0] = float64(buf[i*s.channels])
			samples[i][1] = float64(buf[i*s.channels+1])
		}
	}
	s.pos += frames
	if err != nil && !errors.Is(err, io.EOF) {
		s.err = err
	}
	return frames, frames > 0
}

func (s *oggStreamer) Err() error { return s.err }

func (s *oggStreamer) Len() int { return -1 }

func (s *oggStreamer) Position() int { return s.pos }

func (s *oggStreamer) Seek(p int) error { return errors.New("decoder: ogg stream seek unsupported") }

func (s *oggStreamer) Close() error { return s.closer.Close() }
