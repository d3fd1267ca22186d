package papers

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Filterer keeps papers whose title or abstract mentions at least one
// configured keyword. Matching is case-insensitive substring matching on
// NFKC-normalized, case-folded text.
type Filterer struct {
	keywords []string
}

func NewFilterer(keywords []string) *Filterer {
	normalized := make([]string, 0, len(keywords))
	seen := make(map[string]bool, len(keywords))
	for _, keyword := range keywords {
		k := normalize(keyword)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		normalized = append(normalized, k)
	}
	return &Filterer{keywords: normalized}
}

func (f *Filterer) Run(papers []Paper) []Paper {
	filtered := make([]Paper, 0, len(papers))
	for _, paper := range papers {
		if !f.Matches(paper.Title, paper.Abstract) {
			continue
		}
		if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
			slog.Debug("Paper matched", "id", paper.ID, "keywords", f.MatchedKeywords(paper.Title, paper.Abstract))
		}
		filtered = append(filtered, paper)
	}
	return filtered
}

func (f *Filterer) Matches(title, abstract string) bool {
	text := normalize(title + " " + abstract)
	for _, keyword := range f.keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

// MatchedKeywords lists the keywords found in the paper, in configuration order.
func (f *Filterer) MatchedKeywords(title, abstract string) []string {
	text := normalize(title + " " + abstract)
	var matched []string
	for _, keyword := range f.keywords {
		if strings.Contains(text, keyword) {
			matched = append(matched, keyword)
		}
	}
	return matched
}

func normalize(value string) string {
	folded := cases.Fold().String(norm.NFKC.String(value))
	return strings.Join(strings.Fields(folded), " ")
}
