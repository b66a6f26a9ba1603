package knowledge

import "fmt"

// Span is one window produced by SplitDocument. Offsets count runes in
// the source text, end exclusive, so a boundary never lands inside a
// multi-byte character.
type Span struct {
	Index       int
	Content     string
	StartOffset int
	EndOffset   int
}

// SplitDocument slices text into fixed-size windows advancing by
// size-overlap, so each chunk after the first repeats the previous chunk's
// last overlap characters. Sizes and offsets are in runes; every chunk is
// valid UTF-8 on its own. The final chunk may be shorter than size.
// Dropping the first overlap characters of every non-first chunk and
// concatenating reconstructs the source exactly.
func SplitDocument(text string, size, overlap int) ([]Span, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", ErrChunkConfig, size, overlap)
	}
	if text == "" {
		return nil, nil
	}

	runes := []rune(text)
	stride := size - overlap
	var spans []Span
	for start := 0; ; start += stride {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		spans = append(spans, Span{
			Index:       len(spans),
			Content:     string(runes[start:end]),
			StartOffset: start,
			EndOffset:   end,
		})
		if end == len(runes) {
			break
		}
	}
	return spans, nil
}
