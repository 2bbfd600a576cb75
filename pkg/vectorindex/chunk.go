package vectorindex

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

const DefaultEncoding = "cl100k_base"

// Tokenizer converts text to and from model tokens. Chunk boundaries are
// measured in tokens so that chunks fit the embedding model's input.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

type TiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenTokenizer loads the named BPE encoding. The first call for an
// encoding may fetch its ranks file unless a local cache is configured via
// TIKTOKEN_CACHE_DIR.
func NewTiktokenTokenizer(encoding string) (*TiktokenTokenizer, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %s: %w", encoding, err)
	}
	return &TiktokenTokenizer{enc: enc}, nil
}

func (t *TiktokenTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *TiktokenTokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

// ChunkText splits text into windows of at most size tokens, each starting
// overlap tokens before the end of the previous one. Empty text yields no
// chunks.
func ChunkText(tok Tokenizer, text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	tokens := tok.Encode(text)
	n := len(tokens)

	var chunks []string
	start := 0
	for start < n {
		end := min(start+size, n)
		chunks = append(chunks, tok.Decode(tokens[start:end]))
		if end == n {
			break
		}
		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}
