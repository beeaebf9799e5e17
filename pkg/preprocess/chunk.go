package preprocess

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/pkoukk/tiktoken-go"

	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/common"
)

// DefaultEncoder is the tokenizer used for chunk budgets.
const DefaultEncoder = "o200k_base"

// ChunkText packs the sentences of a cleaned article body into chunks
// of at most maxTokens tokens. The article title is prepended to the
// first chunk so entity context survives aggressive body truncation by
// the news APIs. Chunk ids are <articleID>#<seq>.
func ChunkText(articleID, title, text, encoder string, maxTokens int) ([]common.TextChunk, error) {
	enc, err := tiktoken.GetEncoding(encoder)
	if err != nil {
		return nil, fmt.Errorf("load encoder %s: %w", encoder, err)
	}

	sentences := splitIntoSentences(text)
	title = strings.TrimSpace(title)
	if title != "" {
		if !strings.HasSuffix(title, ".") && !strings.HasSuffix(title, "!") && !strings.HasSuffix(title, "?") {
			title += "."
		}
		sentences = append([]string{title}, sentences...)
	}
	if len(sentences) == 0 {
		return nil, nil
	}

	var chunks []common.TextChunk
	var current []string
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(current, " "))
		chunks = append(chunks, common.TextChunk{
			ID:        fmt.Sprintf("%s#%d", articleID, len(chunks)),
			ArticleID: articleID,
			Seq:       len(chunks),
			Text:      text,
			Tokens:    currentTokens,
		})
		current = nil
		currentTokens = 0
	}

	for _, sentence := range sentences {
		tokens := len(enc.Encode(sentence, nil, nil)) + 1
		if currentTokens+tokens > maxTokens && len(current) > 0 {
			flush()
		}
		current = append(current, sentence)
		currentTokens += tokens
	}
	flush()

	return chunks, nil
}

// splitIntoSentences breaks text into sentences, keeping abbreviations
// like "Inc." and numeric listings intact where it can.
func splitIntoSentences(text string) []string {
	var sentences []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		sentences = append(sentences, splitLineIntoSentences(trimmed)...)
	}
	return sentences
}

func splitLineIntoSentences(line string) []string {
	var sentences []string
	var current strings.Builder

	for i := 0; i < len(line); i++ {
		current.WriteByte(line[i])

		if line[i] == '.' || line[i] == '!' || line[i] == '?' {
			// "1. " style listings and decimals like "3.5" are not
			// sentence ends.
			if i > 0 && unicode.IsDigit(rune(line[i-1])) && i+1 < len(line) &&
				(line[i+1] == ' ' || unicode.IsDigit(rune(line[i+1]))) {
				continue
			}
			// Neither is a period inside a known company suffix.
			if line[i] == '.' && isAbbreviation(line, i) {
				continue
			}

			j := i + 1
			for j < len(line) && (line[j] == '.' || line[j] == '!' || line[j] == '?') {
				current.WriteByte(line[j])
				j++
			}
			for j < len(line) && (line[j] == '"' || line[j] == '\'' || line[j] == ')' ||
				line[j] == ']' || line[j] == '}') {
				current.WriteByte(line[j])
				j++
			}

			sentence := strings.TrimSpace(current.String())
			if sentence != "" {
				sentences = append(sentences, sentence)
			}
			current.Reset()
			i = j - 1
		}
	}

	remaining := strings.TrimSpace(current.String())
	if remaining != "" {
		sentences = append(sentences, remaining)
	}

	return sentences
}

var abbreviations = []string{"Inc", "Corp", "Ltd", "Co", "Mr", "Ms", "Mrs", "Dr", "Jr", "Sr", "St", "U.S", "U.K"}

func isAbbreviation(line string, dot int) bool {
	for _, abbr := range abbreviations {
		start := dot - len(abbr)
		if start < 0 || line[start:dot] != abbr {
			continue
		}
		if start > 0 {
			prev := line[start-1]
			if prev != ' ' && prev != '(' && prev != '"' {
				continue
			}
		}
		// Sentence really ends when the next word starts a new one,
		// but for short suffixes we err on keeping the sentence whole.
		return true
	}
	return false
}
