package stream

import (
	"errors"
	"fmt"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// textDecoder decodes UTF-8 chunk by chunk. A multi-byte sequence cut at the end of a chunk is held back until
// the next chunk completes it, and invalid bytes become U+FFFD.
type textDecoder struct {
	t       transform.Transformer
	pending []byte
}

func newTextDecoder() *textDecoder {
	return &textDecoder{t: unicode.UTF8.NewDecoder()}
}

// decode decodes p together with whatever was held back from the previous call. When atEOF is true nothing is
// held back.
func (d *textDecoder) decode(p []byte, atEOF bool) (string, error) {
	src := make([]byte, 0, len(d.pending)+len(p))
	src = append(src, d.pending...)
	src = append(src, p...)
	d.pending = nil

	if len(src) == 0 {
		return "", nil
	}

	// Every invalid byte expands to the three bytes of U+FFFD at most.
	dst := make([]byte, 3*len(src))
	nDst, nSrc, err := d.t.Transform(dst, src, atEOF)
	if err != nil && !errors.Is(err, transform.ErrShortSrc) {
		return "", fmt.Errorf("failed to decode chunk: %w", err)
	}
	if nSrc < len(src) {
		d.pending = src[nSrc:]
	}
	return string(dst[:nDst]), nil
}
