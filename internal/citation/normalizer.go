// Package citation unifies provider-native citation metadata into a stable,
// ordered reference list with inline markers.
package citation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/scholarpipe/deep-research-service/internal/domain"
)

// Input carries one step's text and citation metadata into normalization.
type Input struct {
	// Text is the step's raw output text.
	Text string

	// Payload is the provider-native citation metadata, tagged by provider.
	Payload *domain.ProviderPayload

	// Sources is the raw source list reported by the provider, used to
	// enrich references with titles and publishers.
	Sources []domain.Citation

	// AccessedAt stamps newly normalized citations. Zero means now.
	AccessedAt time.Time
}

// Result is the outcome of normalization.
type Result struct {
	// Text is the input text with inline [n] markers inserted.
	Text string

	// References is the ordered reference list, numbered 1..N by first
	// textual occurrence. A URL repeated at multiple offsets shares one
	// reference number.
	References []domain.Reference

	// Citations are the normalized citations backing the references, with
	// deterministic content-derived ids.
	Citations []domain.Citation
}

// placement is one citation instruction: a character offset in the text and
// the candidate URLs cited there. Both provider shapes reduce to this.
type placement struct {
	offset int
	urls   []string
}

// Normalize builds the reference list and inserts inline markers. The output
// is deterministic: identical input always yields identical numbering and
// marker placement.
func Normalize(in Input) Result {
	text := []rune(in.Text)
	placements := buildPlacements(in.Payload)

	// Earlier offsets get lower numbers, so order placements by offset
	// before assigning. Stable sort keeps same-offset placements in
	// payload order for deterministic numbering.
	sort.SliceStable(placements, func(i, j int) bool {
		return placements[i].offset < placements[j].offset
	})

	accessedAt := in.AccessedAt
	if accessedAt.IsZero() {
		accessedAt = time.Now().UTC()
	}

	titles := titleIndex(in.Sources)

	numberByURL := make(map[string]int)
	var refs []domain.Reference
	var citations []domain.Citation

	// Placements sharing an offset collapse into one marker group, so a URL
	// cited twice at the same position yields a single [n] marker.
	type markerGroup struct {
		offset  int
		numbers []int
		seen    map[int]bool
	}
	var groups []*markerGroup
	groupAt := make(map[int]*markerGroup)

	for _, p := range placements {
		offset := p.offset
		if offset < 0 {
			offset = 0
		}
		if offset > len(text) {
			offset = len(text)
		}

		for _, raw := range p.urls {
			url := NormalizeURL(raw)
			if url == "" {
				continue
			}
			n, ok := numberByURL[url]
			if !ok {
				n = len(refs) + 1
				numberByURL[url] = n
				src := titles[url]
				refs = append(refs, domain.Reference{
					Number:     n,
					CitationID: domain.CitationID(url),
					URL:        url,
					Title:      src.Title,
				})
				citations = append(citations, domain.Citation{
					ID:              domain.CitationID(url),
					URL:             url,
					Title:           src.Title,
					Publisher:       src.Publisher,
					ReliabilityTags: src.ReliabilityTags,
					AccessedAt:      accessedAt,
				})
			}
			g := groupAt[offset]
			if g == nil {
				g = &markerGroup{offset: offset, seen: make(map[int]bool)}
				groupAt[offset] = g
				groups = append(groups, g)
			}
			if !g.seen[n] {
				g.seen[n] = true
				g.numbers = append(g.numbers, n)
			}
		}
	}

	// Apply marker groups in descending offset order so earlier insertions
	// never invalidate already-computed offsets.
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].offset > groups[j].offset
	})

	out := text
	for _, g := range groups {
		sort.Ints(g.numbers)
		var marker strings.Builder
		for _, n := range g.numbers {
			fmt.Fprintf(&marker, "[%d]", n)
		}
		out = append(out[:g.offset], append([]rune(marker.String()), out[g.offset:]...)...)
	}

	return Result{
		Text:       string(out),
		References: refs,
		Citations:  citations,
	}
}

// buildPlacements reduces either provider payload shape to a flat list of
// (offset, candidate URLs) pairs, dispatching on the payload tag.
func buildPlacements(payload *domain.ProviderPayload) []placement {
	if payload == nil {
		return nil
	}

	switch payload.Provider {
	case domain.ProviderOpenAI:
		if payload.OpenAI == nil {
			return nil
		}
		placements := make([]placement, 0, len(payload.OpenAI.Annotations))
		for _, a := range payload.OpenAI.Annotations {
			if a.URL == "" {
				continue
			}
			placements = append(placements, placement{
				offset: a.EndIndex,
				urls:   []string{a.URL},
			})
		}
		return placements

	case domain.ProviderGemini:
		if payload.Gemini == nil {
			return nil
		}
		chunks := payload.Gemini.GroundingChunks
		placements := make([]placement, 0, len(payload.Gemini.GroundingSupports))
		for _, s := range payload.Gemini.GroundingSupports {
			var urls []string
			for _, idx := range s.GroundingChunkIndices {
				if idx < 0 || idx >= len(chunks) {
					continue
				}
				if chunks[idx].URI == "" {
					continue
				}
				urls = append(urls, chunks[idx].URI)
			}
			if len(urls) == 0 {
				continue
			}
			placements = append(placements, placement{
				offset: s.Segment.EndIndex,
				urls:   urls,
			})
		}
		return placements

	default:
		return nil
	}
}

// trailingPunctuation is the set of characters providers commonly glue onto
// URLs embedded in prose, including curly quote variants.
const trailingPunctuation = ".,;:!?)]}'\">»’”"

// NormalizeURL canonicalizes a raw URL for identity comparison: whitespace
// is trimmed, trailing prose punctuation is stripped, and a trailing slash
// is dropped so /path and /path/ share one reference number. Punctuation and
// slash stripping alternate until the URL is stable, which handles glued
// combinations like `/).` or `/".`.
func NormalizeURL(raw string) string {
	url := strings.TrimSpace(raw)
	for {
		trimmed := strings.TrimRight(url, trailingPunctuation)
		if strings.HasSuffix(trimmed, "/") && !strings.HasSuffix(trimmed, "://") {
			trimmed = strings.TrimSuffix(trimmed, "/")
		}
		if trimmed == url {
			return url
		}
		url = trimmed
	}
}

// sourceInfo holds display metadata looked up by normalized URL.
type sourceInfo struct {
	Title           string
	Publisher       string
	ReliabilityTags []string
}

// titleIndex indexes the raw source list by normalized URL.
func titleIndex(sources []domain.Citation) map[string]sourceInfo {
	index := make(map[string]sourceInfo, len(sources))
	for _, s := range sources {
		url := NormalizeURL(s.URL)
		if url == "" {
			continue
		}
		if _, ok := index[url]; ok {
			continue
		}
		index[url] = sourceInfo{
			Title:           s.Title,
			Publisher:       s.Publisher,
			ReliabilityTags: s.ReliabilityTags,
		}
	}
	return index
}
