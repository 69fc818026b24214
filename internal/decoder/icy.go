package decoder

import (
	"io"
	"regexp"
)

var streamTitleRE = regexp.MustCompile(`StreamTitle='(.*?)';`)

// icyReader strips interleaved SHOUTcast/ICY metadata blocks out of a
// stream whose server advertised an icy-metaint byte interval, passing
// audio bytes through untouched and invoking onTitle whenever a
// StreamTitle field is found, mirroring original_source/
// wp_mpg123decoder/feed.cpp's de-interleaving algorithm.
type icyReader struct {
	src       io.Reader
	metaInt   int
	onTitle   func(string)

	rawCount    int // bytes of audio consumed since last metadata block, -1 while inside metadata
	metaSize    int // size of current metadata block, -1 until known
	metaCount   int
	metaBuf     []byte
}

func newICYReader(src io.Reader, metaInt int, onTitle func(string)) *icyReader {
	return &icyReader{src: src, metaInt: metaInt, onTitle: onTitle, metaSize: -1}
}

// Read fills p with up to len(p) bytes of pure audio data, consuming and
// discarding interleaved metadata blocks as needed.
func (r *icyReader) Read(p []byte) (int, error) {
	if r.metaInt <= 0 {
		return r.src.Read(p)
	}

	raw := make([]byte, len(p))
	n, err := r.src.Read(raw)
	if n == 0 {
		return 0, err
	}
	raw = raw[:n]

	out := p[:0]
	i := 0
	for i < len(raw) {
		if r.rawCount < 0 {
			if r.metaSize < 0 {
				r.metaSize = 16 * int(raw[i])
				i++
				if r.metaSize == 0 {
					r.metaSize = -1
					r.rawCount = 0
				}
				continue
			}
			take := min(r.metaSize-r.metaCount, len(raw)-i)
			r.metaBuf = append(r.metaBuf, raw[i:i+take]...)
			r.metaCount += take
			i += take
			if r.metaCount == r.metaSize {
				if len(r.metaBuf) > 0 && r.onTitle != nil {
					if m := streamTitleRE.FindSubmatch(r.metaBuf); m != nil {
						r.onTitle(string(m[1]))
					}
				}
				r.metaBuf = nil
				r.metaSize = -1
				r.metaCount = 0
				r.rawCount = 0
			}
			continue
		}

		take := min(r.metaInt-r.rawCount, len(raw)-i)
		out = append(out, raw[i:i+take]...)
		r.rawCount += take
		i += take
		if r.rawCount == r.metaInt {
			r.rawCount = -1
		}
	}

	return len(out), err
}
