// Package chunker splits raw document text into overlapping, boundary-aware
// segments suitable for indexing and retrieval.
//
// The splitter scans the text in fixed-size windows and prefers to cut at a
// paragraph break ("\n\n") or sentence terminator (". ") found in the back
// half of the window. Adjacent segments overlap by a configurable number of
// characters so that context spanning a cut is retrievable from either side.
package chunker

import (
	"errors"
	"fmt"
	"strings"
)

// Default splitting parameters.
const (
	DefaultSize        = 1500
	DefaultOverlap     = 200
	DefaultMinFragment = 100
)

// Boundary markers searched for inside a window, nearest-to-end wins.
const (
	paragraphBreak     = "\n\n"
	sentenceTerminator = ". "
)

// ErrInvalidParams indicates an unusable size/overlap combination.
var ErrInvalidParams = errors.New("invalid chunking parameters")

// Chunker splits text with fixed size, overlap, and minimum fragment length.
// The zero value is not usable; construct with New.
type Chunker struct {
	size        int
	overlap     int
	minFragment int
}

// New creates a Chunker. Overlap must be smaller than size, otherwise the
// scan could not make forward progress.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d must be positive", ErrInvalidParams, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap %d must be in [0,%d)", ErrInvalidParams, overlap, size)
	}
	return &Chunker{size: size, overlap: overlap, minFragment: DefaultMinFragment}, nil
}

// WithMinFragment overrides the minimum fragment length below which produced
// segments are discarded. Returns the receiver for chaining.
func (c *Chunker) WithMinFragment(n int) *Chunker {
	if n >= 0 {
		c.minFragment = n
	}
	return c
}

// Split chunks text into ordered segments.
//
// Each iteration takes a window of up to size characters. If the window does
// not reach the end of the text, the cut is moved back to the nearest
// boundary found at or after half the window; without one the cut falls
// exactly at size. The cursor then steps back by overlap before the next
// window, never at or below its previous position, so the scan always
// terminates. Fragments whose trimmed length is under the minimum are
// dropped. Empty input yields nil.
func (c *Chunker) Split(text string) []string {
	n := len(text)
	if n == 0 {
		return nil
	}

	var segments []string
	pos := 0
	for pos < n {
		end := pos + c.size
		next := end
		if end >= n {
			end = n
			next = n
		} else if cut, resume, ok := c.boundaryCut(text, pos, end); ok {
			end = cut
			next = resume
		}

		if frag := text[pos:end]; len(strings.TrimSpace(frag)) >= c.minFragment {
			segments = append(segments, frag)
		}

		if next >= n {
			break
		}
		pos = max(next-c.overlap, pos+1)
	}

	return segments
}

// boundaryCut searches backward from the window end for the nearest paragraph
// break or sentence terminator. A boundary in the front half of the window is
// ignored so chunks never collapse below half the target size.
//
// cut is the exclusive end of the produced fragment: a paragraph cut excludes
// the blank line, a sentence cut keeps the period. resume points just past
// the delimiter.
func (c *Chunker) boundaryCut(text string, pos, end int) (cut, resume int, ok bool) {
	window := text[pos:end]

	para := strings.LastIndex(window, paragraphBreak)
	sent := strings.LastIndex(window, sentenceTerminator)

	best, isParagraph := para, true
	if sent > best {
		best, isParagraph = sent, false
	}
	if best < 0 || best < c.size/2 {
		return 0, 0, false
	}

	if isParagraph {
		cut = pos + best
	} else {
		cut = pos + best + 1
	}
	return cut, pos + best + 2, true
}

// Chunk is a convenience wrapper constructing a Chunker per call.
func Chunk(text string, size, overlap int) ([]string, error) {
	c, err := New(size, overlap)
	if err != nil {
		return nil, err
	}
	return c.Split(text), nil
}
