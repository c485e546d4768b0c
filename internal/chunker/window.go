package chunker

import (
	"errors"
	"fmt"
	"iter"
	"strings"
)

// Default window geometry in characters.
const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// ErrInvalidWindow is returned for a window whose overlap does not leave a
// positive step.
var ErrInvalidWindow = errors.New("chunker: overlap must be smaller than size")

// Splitter turns a document text into a lazy sequence of chunk texts.
type Splitter interface {
	Split(text string) iter.Seq[string]
	// MaxInput is the longest text, in characters, the splitter accepts before
	// the caller should truncate. Zero means unbounded.
	MaxInput() int
}

// Window splits text with a sliding window of Size characters that advances
// by Size-Overlap characters.
type Window struct {
	size    int
	overlap int
}

// NewWindow validates the geometry and returns a window splitter.
func NewWindow(size, overlap int) (*Window, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunker: size must be positive, got %d", size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("chunker: overlap must not be negative, got %d", overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("%w (size=%d overlap=%d)", ErrInvalidWindow, size, overlap)
	}
	return &Window{size: size, overlap: overlap}, nil
}

// Size returns the window length in characters.
func (w *Window) Size() int { return w.size }

// Overlap returns the number of characters shared by consecutive windows.
func (w *Window) Overlap() int { return w.overlap }

// MaxInput bounds a single document to 200 windows worth of text.
func (w *Window) MaxInput() int { return w.size * 200 }

// Split implements Splitter.
func (w *Window) Split(text string) iter.Seq[string] {
	return Split(text, w.size, w.overlap)
}

// Split returns the trimmed, non-empty windows of text. Every call to the
// returned sequence starts a fresh traversal. A step below one character is
// raised to one so a bad geometry can never stall.
func Split(text string, size, overlap int) iter.Seq[string] {
	return func(yield func(string) bool) {
		runes := []rune(text)
		for start, end := range spans(len(runes), size, overlap) {
			chunk := strings.TrimSpace(string(runes[start:end]))
			if chunk != "" && !yield(chunk) {
				return
			}
		}
	}
}

// spans yields the untrimmed [start, end) rune offsets of each window over
// n runes. The last window ends at n.
func spans(n, size, overlap int) iter.Seq2[int, int] {
	return func(yield func(int, int) bool) {
		if size <= 0 {
			return
		}
		step := max(size-overlap, 1)
		for start := 0; start < n; start += step {
			end := min(start+size, n)
			if !yield(start, end) || end == n {
				return
			}
		}
	}
}
