package core

import (
	"fmt"
	"path/filepath"

	"github.com/daulet/tokenizers"
)

const TokenizerFile = "tokenizer.json"

type Encoding struct {
	IDs           []int64
	TypeIDs       []int64
	AttentionMask []int64
	// Offsets are byte offsets into the encoded text; special tokens have
	// an empty span.
	Offsets [][2]int
	Special []bool
}

func (e Encoding) Len() int {
	return len(e.IDs)
}

// Truncate keeps the first n tokens.
func (e Encoding) Truncate(n int) Encoding {
	if n >= e.Len() {
		return e
	}
	return Encoding{
		IDs:           e.IDs[:n],
		TypeIDs:       e.TypeIDs[:n],
		AttentionMask: e.AttentionMask[:n],
		Offsets:       e.Offsets[:n],
		Special:       e.Special[:n],
	}
}

type Tokenizer interface {
	Encode(text string) Encoding

	Close() error
}

type hfTokenizer struct {
	tk *tokenizers.Tokenizer
}

// LoadTokenizer opens the tokenizer.json stored in a checkpoint directory.
func LoadTokenizer(modelDir string) (Tokenizer, error) {
	tk, err := tokenizers.FromFile(filepath.Join(modelDir, TokenizerFile))
	if err != nil {
		return nil, fmt.Errorf("tokenizer load: %w", err)
	}
	return &hfTokenizer{tk: tk}, nil
}

func (t *hfTokenizer) Encode(text string) Encoding {
	enc := t.tk.EncodeWithOptions(text, true, tokenizers.WithReturnAllAttributes())

	out := Encoding{
		IDs:           make([]int64, len(enc.IDs)),
		TypeIDs:       make([]int64, len(enc.IDs)),
		AttentionMask: make([]int64, len(enc.IDs)),
		Offsets:       make([][2]int, len(enc.IDs)),
		Special:       make([]bool, len(enc.IDs)),
	}
	for i, id := range enc.IDs {
		out.IDs[i] = int64(id)
		out.AttentionMask[i] = 1
		if i < len(enc.TypeIDs) {
			out.TypeIDs[i] = int64(enc.TypeIDs[i])
		}
		if i < len(enc.AttentionMask) {
			out.AttentionMask[i] = int64(enc.AttentionMask[i])
		}
		if i < len(enc.Offsets) {
			out.Offsets[i] = [2]int{int(enc.Offsets[i][0]), int(enc.Offsets[i][1])}
		}
		if i < len(enc.SpecialTokensMask) {
			out.Special[i] = enc.SpecialTokensMask[i] == 1
		}
	}
	return out
}

func (t *hfTokenizer) Close() error {
	return t.tk.Close()
}
