package decoder

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
)

// openedSource is a decoded beep.Streamer plus its native format and
// an optional close hook for the underlying file/socket.
type openedSource struct {
	streamer beep.StreamSeekCloser
	format   beep.Format
	closer   io.Closer
}

// openSource dispatches on URL scheme and extension to the right
// decoder backend: gopxl/beep's mp3 decoder for local/streamed MP3
// (including SHOUTcast ICY streams via icyReader), jfreymuth/oggvorbis
// for .ogg, go-audio/wav for .wav.
func openSource(rawURL string, onTitle func(string)) (*openedSource, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("decoder: parse url: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(u.Path))

	if u.Scheme == "http" || u.Scheme == "https" {
		return openHTTPSource(rawURL, ext, onTitle)
	}

	path := rawURL
	if u.Scheme == "file" {
		path = u.Path
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("decoder: open %q: %w", path, err)
	}

	switch ext {
	case ".ogg":
		return openOggFile(f)
	case ".wav":
		return openWavFile(f)
	default:
		return openMP3(f, f)
	}
}

func openMP3(r io.Reader, closer io.Closer) (*openedSource, error) {
	rc, ok := r.(io.ReadCloser)
	if !ok {
		rc = io.NopCloser(r)
	}
	streamer, format, err := mp3.Decode(rc)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, fmt.Errorf("decoder: mp3 decode: %w", err)
	}
	return &openedSource{streamer: streamer, format: format, closer: closer}, nil
}

// openHTTPSource issues the GET with Icy-MetaData:1, follows redirects
// (net/http's default client already does), and wraps the body with
// icyReader when the server replies with icy-metaint.
func openHTTPSource(rawURL, ext string, onTitle func(string)) (*openedSource, error) {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("decoder: build request: %w", err)
	}
	req.Header.Set("Icy-MetaData", "1")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("decoder: http get: %w", err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("decoder: http status %d", resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if metaInt, err := strconv.Atoi(resp.Header.Get("icy-metaint")); err == nil && metaInt > 0 {
		body = newICYReader(resp.Body, metaInt, onTitle)
	}

	switch ext {
	case ".ogg":
		return openOggReader(body, resp.Body)
	case ".wav":
		return openWavReader(body, resp.Body)
	default:
		return openMP3(body, resp.Body)
	}
}
