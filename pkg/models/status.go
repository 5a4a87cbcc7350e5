package models

// SearchStatus represents the outcome of one reverse-image-search attempt
type SearchStatus string

const (
	SearchStatusUnset   SearchStatus = ""                // Zero value = unset/unknown
	SearchStatusSuccess SearchStatus = "success"         // Match found at or above the similarity floor
	SearchStatusNoMatch SearchStatus = "no_match"        // No match, or best match below the floor
	SearchStatusError   SearchStatus = "error"           // Provider/network failure
	SearchStatusNoTags  SearchStatus = "success_no_tags" // Match found but tag extraction failed
)

// String implements fmt.Stringer for logging
func (s SearchStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s SearchStatus) IsValid() bool {
	switch s {
	case SearchStatusSuccess, SearchStatusNoMatch, SearchStatusError, SearchStatusNoTags:
		return true
	}
	return false
}

// ContentStatus represents the outcome of the external content-analysis collaborator
type ContentStatus string

const (
	ContentStatusSuccess  ContentStatus = "success"
	ContentStatusError    ContentStatus = "error"
	ContentStatusDisabled ContentStatus = "disabled" // No content signal available; not an error
)

// ProcessStatus represents the outcome of one image's run through the workflow
type ProcessStatus string

const (
	ProcessStatusPending ProcessStatus = "pending"
	ProcessStatusSuccess ProcessStatus = "success"
	ProcessStatusSkipped ProcessStatus = "skipped" // Sidecar already present
	ProcessStatusNoTags  ProcessStatus = "no_tags" // Nothing worth writing
	ProcessStatusError   ProcessStatus = "error"
)

// String implements fmt.Stringer for logging
func (s ProcessStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}
