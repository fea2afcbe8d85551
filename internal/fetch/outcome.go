package fetch

import "github.com/tracksync/tracksync-go/internal/tracklist"

// OutcomeKind classifies a single fetch attempt
type OutcomeKind string

const (
	// OutcomeSuccess means at least one new audio file appeared
	OutcomeSuccess OutcomeKind = "success"

	// OutcomeEmptyResult means the fetcher exited cleanly but produced nothing
	OutcomeEmptyResult OutcomeKind = "empty_result"

	// OutcomeToolError means the fetcher failed for a reason other than "no results"
	OutcomeToolError OutcomeKind = "tool_error"

	// OutcomeNotFound means the fetcher reported that the search matched nothing
	OutcomeNotFound OutcomeKind = "not_found"
)

// String returns the string representation of OutcomeKind
func (k OutcomeKind) String() string {
	return string(k)
}

// Attempt is one query tried for one request
type Attempt struct {
	Request      tracklist.TrackRequest
	VariantIndex int
	Query        string
}

// Outcome is the result of an attempt. Files is set only for OutcomeSuccess,
// Message only for OutcomeToolError and OutcomeNotFound.
type Outcome struct {
	Kind    OutcomeKind
	Files   []string
	Message string
}

// IsSuccess reports whether the attempt attributed new files
func (o Outcome) IsSuccess() bool {
	return o.Kind == OutcomeSuccess
}
