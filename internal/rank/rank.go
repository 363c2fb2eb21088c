// Package rank turns a raw generated answer and the evidence it was built
// from into a clean, attribution-aware answer.
package rank

import (
	"math"
	"sort"
	"strings"

	"github.com/seantiz/ragserve/internal/model"
)

// Answer markers the generator is instructed to open its reply with.
const (
	MarkerSources   = "[FROM_SOURCES]"
	MarkerKnowledge = "[FROM_KNOWLEDGE]"
)

// DefaultBaseURL is the prefix for protocol source links.
const DefaultBaseURL = "https://defillama.com/protocol/"

const nameField = "NAME:"

// Ranker classifies raw answers. The zero value links to DefaultBaseURL.
type Ranker struct {
	BaseURL string
}

// Classify decides whether the evidence was used and, if the caller asked for
// sources, extracts and ranks them. Markers are stripped from the returned
// text on every path.
func (r Ranker) Classify(raw string, evidence []model.Evidence, wantSources bool) model.Answer {
	ans := model.Answer{
		Text:        StripMarkers(raw),
		UsedSources: strings.HasPrefix(raw, MarkerSources),
	}
	if !ans.UsedSources || !wantSources {
		return ans
	}

	base := r.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}

	var sources []model.ProtocolSource
	for _, ev := range evidence {
		name, ok := protocolName(ev.Content)
		if !ok {
			continue
		}
		sources = append(sources, model.ProtocolSource{
			URL:            base + Slug(name),
			RelevanceScore: Similarity(ev.Distance),
		})
	}

	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].RelevanceScore > sources[j].RelevanceScore
	})
	ans.Sources = dedupe(sources)
	return ans
}

// Similarity maps a non-negative distance onto (0, 1], rounded to three
// decimals. Distance 0 maps to 1.
func Similarity(distance float64) float64 {
	if distance < 0 {
		distance = 0
	}
	return math.Round(1/(1+distance)*1000) / 1000
}

// Slug lowercases name and replaces spaces with hyphens.
func Slug(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "-")
}

// StripMarkers removes both answer markers and trims surrounding whitespace.
func StripMarkers(text string) string {
	text = strings.ReplaceAll(text, MarkerSources, "")
	text = strings.ReplaceAll(text, MarkerKnowledge, "")
	return strings.TrimSpace(text)
}

// protocolName returns the rest of the line following the first NAME: field.
func protocolName(content string) (string, bool) {
	_, after, ok := strings.Cut(content, nameField)
	if !ok {
		return "", false
	}
	line, _, _ := strings.Cut(after, "\n")
	name := strings.TrimSpace(line)
	return name, name != ""
}

// dedupe keeps the first occurrence of each URL. Input is already ranked, so
// the survivor is the most relevant one. An empty result is returned as nil so
// the field is omitted from responses.
func dedupe(sources []model.ProtocolSource) []model.ProtocolSource {
	if len(sources) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(sources))
	out := sources[:0]
	for _, s := range sources {
		if seen[s.URL] {
			continue
		}
		seen[s.URL] = true
		out = append(out, s)
	}
	return out
}
