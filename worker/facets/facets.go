package facets

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Feature type identifiers from the app.bsky.richtext.facet lexicon.
const (
	FeatureLink    = "app.bsky.richtext.facet#link"
	FeatureMention = "app.bsky.richtext.facet#mention"
	FeatureTag     = "app.bsky.richtext.facet#tag"
)

// ByteSlice is a half-open byte range into the UTF-8 encoding of the post
// text. Offsets are bytes, not runes.
type ByteSlice struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

// Feature is one rich-text annotation. Exactly one of URI, DID, or Tag is
// set, matching Type.
type Feature struct {
	Type string `json:"$type"`
	URI  string `json:"uri,omitempty"`
	DID  string `json:"did,omitempty"`
	Tag  string `json:"tag,omitempty"`
}

// Facet is a feature anchored to a byte range of the post text.
type Facet struct {
	Index    ByteSlice `json:"index"`
	Features []Feature `json:"features"`
}

// HandleResolver resolves an @handle to its stable identifier (a DID).
type HandleResolver interface {
	ResolveHandle(ctx context.Context, handle string) (string, error)
}

var (
	urlPattern     = regexp.MustCompile(`https?://[^\s]+`)
	mentionPattern = regexp.MustCompile(`@[^\s]+`)
	// A tag is any run of non-space, non-newline characters after '#',
	// including non-Latin scripts.
	tagPattern = regexp.MustCompile(`#[^\s\n]+`)
)

// Punctuation that the URL regex swallows but almost never belongs to the
// URL itself.
const trailingPunct = ".,;:!?)]}>\"'"

// Extract computes the facet list for text. Link and hashtag detection are
// pure; mention spans are emitted only when handle resolution succeeds, and
// all resolutions run concurrently. The result is sorted by byte start and
// contains no overlapping ranges.
//
// Go's regexp package reports match positions as byte offsets into the
// original string, which is exactly the offset base the wire format wants.
func Extract(ctx context.Context, text string, resolver HandleResolver) ([]Facet, error) {
	var facets []Facet

	// Links go first; their ranges mask the later passes so that a
	// hashtag-looking substring inside a URL is not matched twice.
	linkRanges := urlPattern.FindAllStringIndex(text, -1)
	var masked [][]int
	for _, r := range linkRanges {
		start, end := r[0], r[1]
		for end > start && strings.ContainsRune(trailingPunct, rune(text[end-1])) {
			end--
		}
		if end == start {
			continue
		}
		masked = append(masked, []int{start, end})
		facets = append(facets, Facet{
			Index:    ByteSlice{ByteStart: start, ByteEnd: end},
			Features: []Feature{{Type: FeatureLink, URI: text[start:end]}},
		})
	}

	for _, r := range tagPattern.FindAllStringIndex(text, -1) {
		start, end := r[0], r[1]
		if overlaps(masked, start, end) || !atTokenStart(text, start) {
			continue
		}
		tag := text[start+1 : end]
		if tag == "" {
			continue
		}
		facets = append(facets, Facet{
			Index:    ByteSlice{ByteStart: start, ByteEnd: end},
			Features: []Feature{{Type: FeatureTag, Tag: tag}},
		})
	}

	type mention struct {
		start, end int
		handle     string
		did        string
	}

	var mentions []*mention
	for _, r := range mentionPattern.FindAllStringIndex(text, -1) {
		start, end := r[0], r[1]
		if overlaps(masked, start, end) || !atTokenStart(text, start) {
			continue
		}
		handle := text[start+1 : end]
		if handle == "" {
			continue
		}
		mentions = append(mentions, &mention{start: start, end: end, handle: handle})
	}

	if len(mentions) > 0 && resolver != nil {
		g, gctx := errgroup.WithContext(ctx)
		for _, m := range mentions {
			m := m
			g.Go(func() error {
				// An unresolved handle degrades to plain text; only
				// context cancellation aborts the whole pass.
				did, err := resolver.ResolveHandle(gctx, m.handle)
				if err != nil {
					return gctx.Err()
				}
				m.did = did
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for _, m := range mentions {
			if m.did == "" {
				continue
			}
			facets = append(facets, Facet{
				Index:    ByteSlice{ByteStart: m.start, ByteEnd: m.end},
				Features: []Feature{{Type: FeatureMention, DID: m.did}},
			})
		}
	}

	// The three passes append independently, so restore byte order at the end.
	sort.Slice(facets, func(i, j int) bool {
		return facets[i].Index.ByteStart < facets[j].Index.ByteStart
	})

	return facets, nil
}

func overlaps(ranges [][]int, start, end int) bool {
	for _, r := range ranges {
		if start < r[1] && end > r[0] {
			return true
		}
	}
	return false
}

// atTokenStart reports whether the byte at idx begins a whitespace-delimited
// token, so "#b" inside "@a#b" is not treated as a hashtag.
func atTokenStart(text string, idx int) bool {
	if idx == 0 {
		return true
	}
	prev := text[idx-1]
	return prev == ' ' || prev == '\t' || prev == '\n' || prev == '\r'
}
