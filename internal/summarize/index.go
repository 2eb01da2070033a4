package summarize

import (
	"errors"
	"slices"
	"strings"
	"unicode"

	"github.com/cherryfeed/cherry/internal/database/types"
	"github.com/cherryfeed/cherry/internal/database/types/enum"
)

const (
	// MaxKeyConcepts caps the concepts extracted by the index pass.
	MaxKeyConcepts = 5
	// MaxEntities caps the entities extracted by the index pass.
	MaxEntities = 10
	// DefaultTopic is used when no topic can be extracted.
	DefaultTopic = "general"

	highRelevance   = 0.6
	mediumRelevance = 0.3
)

var ErrEmptyContent = errors.New("content is empty")

// Index is the structured understanding of one item produced by the first pass.
type Index struct {
	MainTopic      string              `json:"mainTopic"`
	KeyConcepts    []string            `json:"keyConcepts"`
	RelevanceLevel enum.RelevanceLevel `json:"relevanceLevel"`
	ContentType    enum.ContentType    `json:"contentType"`
	Entities       []string            `json:"entities"`
	RelevanceScore float64             `json:"relevanceScore"`
	// Matched holds the watchlist values found in the item, highest weight first.
	Matched []string `json:"matched"`
}

// BuildIndex runs the local index heuristics.
func BuildIndex(content string, tags []string, watchlist []*types.WatchlistEntry) (*Index, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	topic := mainTopic(content, tags)
	matched, score := matchWatchlist(content, tags, watchlist)

	concepts := make([]string, 0, MaxKeyConcepts)
	seen := make(map[string]struct{}, MaxKeyConcepts)
	addConcept := func(c string) {
		key := fold(c)
		if _, ok := seen[key]; ok || len(concepts) == MaxKeyConcepts || key == "" {
			return
		}
		seen[key] = struct{}{}
		concepts = append(concepts, c)
	}

	for _, m := range matched {
		addConcept(m)
	}
	for _, tag := range tags {
		addConcept(tag)
	}
	addConcept(topic)

	return &Index{
		MainTopic:      topic,
		KeyConcepts:    concepts,
		RelevanceLevel: relevanceLevel(score),
		ContentType:    detectContentType(content),
		Entities:       extractEntities(content),
		RelevanceScore: score,
		Matched:        matched,
	}, nil
}

// mainTopic is the most frequent content word, ties keeping the earliest.
// Falls back to the first tag.
func mainTopic(content string, tags []string) string {
	counts := make(map[string]int)
	var order []string

	for _, w := range contentWords(content) {
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}

	best := ""
	for _, w := range order {
		if counts[w] > counts[best] {
			best = w
		}
	}

	if best != "" {
		return best
	}
	if len(tags) > 0 && strings.TrimSpace(tags[0]) != "" {
		return strings.TrimSpace(tags[0])
	}
	return DefaultTopic
}

// matchWatchlist returns the values of matching entries ordered by weight and
// the matched share of the total weight.
func matchWatchlist(content string, tags []string, watchlist []*types.WatchlistEntry) ([]string, float64) {
	folded := fold(content)
	foldedTags := make([]string, 0, len(tags))
	for _, tag := range tags {
		foldedTags = append(foldedTags, fold(strings.TrimSpace(tag)))
	}

	var total, hit float64
	var matches []*types.WatchlistEntry

	for _, entry := range watchlist {
		total += entry.Weight

		value := fold(strings.TrimSpace(entry.Value))
		if value == "" {
			continue
		}

		if slices.Contains(foldedTags, value) || strings.Contains(folded, value) {
			hit += entry.Weight
			matches = append(matches, entry)
		}
	}

	slices.SortStableFunc(matches, func(a, b *types.WatchlistEntry) int {
		switch {
		case a.Weight > b.Weight:
			return -1
		case a.Weight < b.Weight:
			return 1
		default:
			return 0
		}
	})

	values := make([]string, 0, len(matches))
	for _, m := range matches {
		values = append(values, m.Value)
	}

	if total <= 0 {
		return values, 0
	}
	return values, min(hit/total, 1)
}

func relevanceLevel(score float64) enum.RelevanceLevel {
	switch {
	case score >= highRelevance:
		return enum.RelevanceHigh
	case score >= mediumRelevance:
		return enum.RelevanceMedium
	default:
		return enum.RelevanceLow
	}
}

var contentTypeCues = []struct {
	kind enum.ContentType
	cues []string
}{
	{enum.ContentTypeTutorial, []string{"how to", "step by step", "tutorial", "guide", "walkthrough"}},
	{enum.ContentTypeAnnouncement, []string{"announcing", "announce", "introducing", "launch", "released", "release of"}},
	{enum.ContentTypeUpdate, []string{"update", "changelog", "now supports", "fixed", "deprecated"}},
}

func detectContentType(content string) enum.ContentType {
	folded := fold(content)
	for _, c := range contentTypeCues {
		for _, cue := range c.cues {
			if strings.Contains(folded, cue) {
				return c.kind
			}
		}
	}

	for _, s := range splitSentences(content) {
		if strings.HasSuffix(s, "?") {
			return enum.ContentTypeQuestion
		}
	}

	return enum.ContentTypeDiscussion
}

// extractEntities collects @mentions, #hashtags and capitalized words that do
// not start a sentence.
func extractEntities(content string) []string {
	var entities []string
	seen := make(map[string]struct{})

	add := func(e string) {
		if len(entities) == MaxEntities {
			return
		}
		if _, ok := seen[e]; ok {
			return
		}
		seen[e] = struct{}{}
		entities = append(entities, e)
	}

	for _, sentence := range splitSentences(content) {
		for i, field := range strings.Fields(sentence) {
			token := strings.TrimRightFunc(field, unicode.IsPunct)
			if len(token) < 2 {
				continue
			}

			switch {
			case token[0] == '@' || token[0] == '#':
				add(token)
			case i > 0 && unicode.IsUpper([]rune(token)[0]):
				add(strings.TrimLeftFunc(token, unicode.IsPunct))
			}
		}
	}

	return entities
}
