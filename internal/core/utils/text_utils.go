package utils

import (
	"regexp"
)

var wordRegex = regexp.MustCompile(`\S+`)

const DefaultChunkWords = 100

// ChunkText splits text into pieces of at most maxWords whitespace separated
// words and returns each piece with its byte offset in text. Whitespace
// between pieces is dropped.
func ChunkText(text string, maxWords int) (chunks []string, offsets []int) {
	if maxWords <= 0 {
		maxWords = DefaultChunkWords
	}

	// offsets must survive, so the split is over word spans rather than
	// strings.Fields
	spans := wordRegex.FindAllStringIndex(text, -1)

	for first := 0; first < len(spans); first += maxWords {
		last := min(first+maxWords, len(spans)) - 1
		start, end := spans[first][0], spans[last][1]
		chunks = append(chunks, text[start:end])
		offsets = append(offsets, start)
	}
	return
}
