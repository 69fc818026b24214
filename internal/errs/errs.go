// Package errs defines the sentinel errors for the failure taxonomy in
// the design's error-handling section, checked with errors.Is at call
// sites the way internal/errors does in the richer reference pipeline
// this package borrows the sentinel-plus-wrap idiom from.
package errs

import "errors"

var (
	// ErrUnsupportedFormat is returned when the IIR chain is asked to
	// process a sample type it cannot handle.
	ErrUnsupportedFormat = errors.New("unsupported audio format")

	// ErrSessionExpired marks a catalog session the server reports as
	// expired. Catalog reply parsing does not return it; the catalog
	// client detects expiry from the server's error text.
	ErrSessionExpired = errors.New("catalog session expired")

	// ErrAPITooOld is returned when a catalog server's API version is
	// below the minimum supported.
	ErrAPITooOld = errors.New("catalog api version too old")

	// ErrDeviceFatal marks an unrecoverable audio output device error.
	ErrDeviceFatal = errors.New("audio device fatal error")

	// ErrCacheExhausted is returned when the PCM cache can neither
	// allocate memory nor create a spill file.
	ErrCacheExhausted = errors.New("pcm cache exhausted: no memory or disk backend available")

	// ErrDecoderUnderrun marks a decoder error that occurred before
	// enough audio was decoded to call it a graceful end of track.
	ErrDecoderUnderrun = errors.New("decoder underrun")

	// ErrCatalogParse marks a non-retryable XML reply parse failure.
	ErrCatalogParse = errors.New("catalog reply parse error")
)
