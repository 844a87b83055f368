// Package stream decodes streamed chat completion bodies. A body is plain UTF-8 text: the reply first, then
// optionally a "sources used" section listing one link per line.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
)

// Sentinel marks the beginning of the sources section. A chunk that contains it switches the stream into
// sources mode.
const Sentinel = "Sources used to generate this content"

const (
	sourcesHeader = Sentinel + ":\n"
	readSize      = 32 * 1024
)

// Result is the outcome of decoding a whole stream.
type Result struct {
	Message string
	// Sources is nil when the stream had no sources section.
	Sources []models.Source
}

// Classifier partitions decoded chunks into message text and sources text. The zero value is ready to use.
// Once a chunk containing Sentinel is seen, every later chunk is sources text.
type Classifier struct {
	message     []string
	inSources   bool
	sourceParts []string
}

// Classify files the chunk under message or sources text and reports whether it was message text.
func (c *Classifier) Classify(chunk string) bool {
	if !c.inSources && strings.Contains(chunk, Sentinel) {
		c.inSources = true
	}
	if c.inSources {
		c.sourceParts = append(c.sourceParts, chunk)
		return false
	}
	c.message = append(c.message, chunk)
	return true
}

// InSources reports whether the sources section has started.
func (c *Classifier) InSources() bool {
	return c.inSources
}

// Message returns the message text classified so far.
func (c *Classifier) Message() string {
	return strings.Join(c.message, "")
}

// Sources parses the buffered sources text. It returns nil if nothing was classified as sources.
func (c *Classifier) Sources() []models.Source {
	if len(c.sourceParts) == 0 {
		return nil
	}
	return ParseSources(strings.Join(c.sourceParts, ""))
}

// ParseSources extracts the source links listed after the sources header line. Blank lines are dropped and
// order is kept. It returns nil if the header line is missing or lists nothing.
func ParseSources(text string) []models.Source {
	_, after, found := strings.Cut(text, sourcesHeader)
	if !found {
		return nil
	}
	// Only the text up to a repeated header belongs to the first section.
	if i := strings.Index(after, sourcesHeader); i >= 0 {
		after = after[:i]
	}

	var sources []models.Source
	for _, line := range strings.Split(after, "\n") {
		if line == "" {
			continue
		}
		sources = append(sources, models.Source{Link: line})
	}
	return sources
}

// Decode reads r one chunk per Read call, decodes each chunk as UTF-8 and classifies it. Every non-empty chunk
// classified as message text is passed to onMessage while the stream is still open; onMessage may be nil.
//
// On a read error the partial result is returned with the error. Cancelling ctx stops the loop before the next
// read.
func Decode(ctx context.Context, r io.Reader, onMessage func(chunk string)) (Result, error) {
	var c Classifier
	dec := newTextDecoder()
	buf := make([]byte, readSize)

	handle := func(p []byte, atEOF bool) error {
		chunk, err := dec.decode(p, atEOF)
		if err != nil {
			return err
		}
		if chunk == "" {
			return nil
		}
		if c.Classify(chunk) && onMessage != nil {
			onMessage(chunk)
		}
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return result(&c), err
		}

		n, err := r.Read(buf)
		if n > 0 {
			if herr := handle(buf[:n], false); herr != nil {
				return result(&c), herr
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return result(&c), fmt.Errorf("failed to read stream: %w", err)
		}
	}

	if err := handle(nil, true); err != nil {
		return result(&c), err
	}
	return result(&c), nil
}

func result(c *Classifier) Result {
	return Result{
		Message: c.Message(),
		Sources: c.Sources(),
	}
}
