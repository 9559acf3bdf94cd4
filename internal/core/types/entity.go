package types

import (
	"strings"
)

const contextLength = 20

type Entity struct {
	Label    string
	Text     string
	Start    int
	End      int
	Score    float32
	LContext string
	RContext string
}

// CreateEntity builds an entity from byte offsets into text, clamping the
// offsets to the text bounds.
func CreateEntity(label string, text string, start, end int, score float32) Entity {
	start = max(0, min(start, len(text)))
	end = max(start, min(end, len(text)))

	return Entity{
		Label:    label,
		Text:     strings.ToValidUTF8(text[start:end], ""),
		Start:    start,
		End:      end,
		Score:    score,
		LContext: strings.ToValidUTF8(text[max(0, start-contextLength):start], ""),
		RContext: strings.ToValidUTF8(text[end:min(len(text), end+contextLength)], ""),
	}
}
