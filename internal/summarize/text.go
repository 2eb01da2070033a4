package summarize

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
		"has", "he", "in", "is", "it", "its", "of", "on", "that", "the",
		"to", "was", "were", "will", "with", "this", "but", "they", "you",
		"have", "had", "what", "said", "each", "which", "she", "do", "how",
		"their", "if", "up", "out", "many", "then", "them", "these", "so",
		"some", "her", "would", "make", "like", "into", "him", "time", "two",
		"can", "not", "just", "about", "there", "been", "our", "your", "all",
		"also", "more", "when", "who", "why", "we", "my", "me", "or", "any",
	} {
		stopWords[w] = struct{}{}
	}
}

// fold lowercases for comparison.
func fold(s string) string {
	return cases.Fold().String(s)
}

// splitSentences splits text on terminal punctuation followed by whitespace
// and on line breaks. Empty fragments are dropped.
func splitSentences(text string) []string {
	var sentences []string
	var b strings.Builder

	flush := func() {
		s := strings.TrimSpace(b.String())
		if s != "" {
			sentences = append(sentences, s)
		}
		b.Reset()
	}

	runes := []rune(text)
	for i, r := range runes {
		if r == '\n' || r == '\r' {
			flush()
			continue
		}

		b.WriteRune(r)

		if r == '.' || r == '!' || r == '?' {
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				flush()
			}
		}
	}
	flush()

	return sentences
}

// words returns the lowercase alphanumeric tokens of text.
func words(text string) []string {
	return strings.FieldsFunc(fold(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '+' && r != '#'
	})
}

// contentWords returns tokens longer than two characters that are not stop words.
func contentWords(text string) []string {
	var out []string
	for _, w := range words(text) {
		w = strings.Trim(w, "-+#")
		if utf8.RuneCountInString(w) <= 2 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}

// truncate shortens s to at most limit runes, replacing the tail with "..."
// when it had to cut.
func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	if limit <= 3 {
		return string([]rune(s)[:limit])
	}
	return strings.TrimRightFunc(string([]rune(s)[:limit-3]), unicode.IsSpace) + "..."
}

// clip cuts s to limit runes and appends "..." when it had to cut.
func clip(s string, limit int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return strings.TrimRightFunc(string([]rune(s)[:limit]), unicode.IsSpace) + "..."
}

// collapseSpace replaces runs of whitespace with a single space.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
