// Package chunker splits extracted text into fixed-size pieces.
package chunker

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

const DefaultSize = 3000

var ErrInvalidSize = errors.New("chunk size must be positive")

// Split cuts text into consecutive chunks of at most size characters.
// Concatenating the result gives back text exactly; only the last chunk may be shorter.
func Split(text string, size int) ([]string, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	if text == "" {
		return nil, nil
	}

	chunks := make([]string, 0, utf8.RuneCountInString(text)/size+1)
	start, n := 0, 0
	for i := range text {
		if n == size {
			chunks = append(chunks, text[start:i])
			start, n = i, 0
		}
		n++
	}
	return append(chunks, text[start:]), nil
}
