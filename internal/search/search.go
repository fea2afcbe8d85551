package search

import (
	"iter"
	"strings"
	"unicode"

	"github.com/tracksync/tracksync-go/internal/tracklist"
)

// DefaultVariants are tried in order: the official upload first, then a plain search.
var DefaultVariants = []string{"Official Audio", ""}

// Sanitize drops every rune that is not a letter, number, underscore or whitespace.
// Numbers include fractions, superscripts and roman numerals.
// Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || r == '_' || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, s)
}

// Builder produces candidate search queries for a track request
type Builder struct {
	Variants []string
}

// NewBuilder creates a builder. An empty variant list becomes a single plain search.
func NewBuilder(variants []string) *Builder {
	if len(variants) == 0 {
		variants = []string{""}
	}
	return &Builder{Variants: append([]string(nil), variants...)}
}

// Len returns how many queries Queries yields per request
func (b *Builder) Len() int {
	if len(b.Variants) == 0 {
		return 1
	}
	return len(b.Variants)
}

// Query builds the query for one variant
func (b *Builder) Query(req tracklist.TrackRequest, variant string) string {
	return strings.TrimSpace(Sanitize(req.Title) + " " + Sanitize(req.Artist) + " " + variant)
}

// Queries lazily yields (variant index, query) pairs, most preferred first
func (b *Builder) Queries(req tracklist.TrackRequest) iter.Seq2[int, string] {
	variants := b.Variants
	if len(variants) == 0 {
		variants = []string{""}
	}
	return func(yield func(int, string) bool) {
		for i, v := range variants {
			if !yield(i, b.Query(req, v)) {
				return
			}
		}
	}
}
