// Package suggest derives lightweight writing insights from manuscript
// content: word counts, estimated reading time and a title suggestion.
// Results are memoized by content hash since the editor polls while the
// text mostly stays the same.
package suggest

import (
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"vellum/internal/domain"
)

const (
	// wordsPerMinute is the usual silent-reading estimate for prose.
	wordsPerMinute = 238

	// titleLimit keeps suggested titles to a headline length.
	titleLimit = 60

	DefaultCacheTTL     = 5 * time.Minute
	DefaultCacheCleanup = 10 * time.Minute
)

// Insights are the derived facts about a piece of content.
type Insights struct {
	WordCount      int    `json:"word_count"`
	CharCount      int    `json:"char_count"`
	ParagraphCount int    `json:"paragraph_count"`
	ReadingTimeMin int    `json:"reading_time_min"`
	SuggestedTitle string `json:"suggested_title,omitempty"`
}

// Analyzer computes Insights with a TTL cache in front.
type Analyzer struct {
	cache *cache.Cache
}

// NewAnalyzer creates an analyzer with the default cache policy.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		cache: cache.New(DefaultCacheTTL, DefaultCacheCleanup),
	}
}

// NewAnalyzerWithTTL creates an analyzer with a caller-chosen TTL.
func NewAnalyzerWithTTL(ttl, cleanup time.Duration) *Analyzer {
	return &Analyzer{cache: cache.New(ttl, cleanup)}
}

// Analyze returns insights for the content, served from cache when the
// same content was analyzed recently.
func (a *Analyzer) Analyze(contentPlain string) Insights {
	key := domain.ContentHash(contentPlain)
	if hit, ok := a.cache.Get(key); ok {
		return hit.(Insights)
	}

	ins := compute(contentPlain)
	a.cache.Set(key, ins, cache.DefaultExpiration)
	return ins
}

func compute(content string) Insights {
	words := domain.CountWords(content)

	paragraphs := 0
	for _, block := range strings.Split(content, "\n\n") {
		if strings.TrimSpace(block) != "" {
			paragraphs++
		}
	}

	// Round reading time up; "0 minutes" reads oddly for any nonempty text.
	reading := 0
	if words > 0 {
		reading = (words + wordsPerMinute - 1) / wordsPerMinute
	}

	return Insights{
		WordCount:      words,
		CharCount:      len([]rune(content)),
		ParagraphCount: paragraphs,
		ReadingTimeMin: reading,
		SuggestedTitle: suggestTitle(content),
	}
}

// suggestTitle takes the first non-empty line, trimmed to a headline
// length on a word boundary.
func suggestTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) <= titleLimit {
			return line
		}
		cut := line[:titleLimit]
		if i := strings.LastIndex(cut, " "); i > 0 {
			cut = cut[:i]
		}
		return cut + "…"
	}
	return ""
}
