package model

import "encoding/json"

// SchemaKind selects one of the two structured output contracts.
type SchemaKind string

const (
	SchemaWebsite SchemaKind = "website"
	SchemaSearch  SchemaKind = "search"
)

// ExtractionResult is a closed union over *WebsiteExtraction and
// *SearchExtraction. Both carry an Outcome with a first-class success flag.
type ExtractionResult interface {
	Kind() SchemaKind
	Status() Outcome
	isExtractionResult()
}

// Outcome is the envelope fields shared by both schema variants.
type Outcome struct {
	Success      bool   `json:"success"`
	Error        string `json:"error"`
	ErrorDetails string `json:"error_details"`
}

// RelevantURL points at a page likely to hold more listing data.
type RelevantURL struct {
	Title  string `json:"title"`
	Reason string `json:"reason"`
	URL    string `json:"url"`
}

// SourceInfo describes the page an extraction came from.
type SourceInfo struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Type    string `json:"type"`
	Summary string `json:"summary"`
}

// WebsiteOutcome is the result block of a website extraction.
type WebsiteOutcome struct {
	Outcome
	EntitiesFound int `json:"entities_found"`
}

// WebsiteMetadata groups the non-entity parts of a website extraction.
type WebsiteMetadata struct {
	Source       SourceInfo     `json:"source"`
	Result       WebsiteOutcome `json:"result"`
	RelevantURLs []RelevantURL  `json:"relevant_urls"`
}

// WebsiteExtraction is the structured output for a business web page.
type WebsiteExtraction struct {
	Metadata WebsiteMetadata `json:"metadata"`
	Entities []Business      `json:"entities"`
}

func (*WebsiteExtraction) isExtractionResult() {}

// Kind implements ExtractionResult.
func (*WebsiteExtraction) Kind() SchemaKind { return SchemaWebsite }

// Status implements ExtractionResult.
func (w *WebsiteExtraction) Status() Outcome { return w.Metadata.Result.Outcome }

// Normalize enforces the shape invariants: lists are never nil, a failed
// result carries no entities, and entities_found matches the list.
func (w *WebsiteExtraction) Normalize() {
	if w.Metadata.RelevantURLs == nil {
		w.Metadata.RelevantURLs = []RelevantURL{}
	}
	if w.Entities == nil || !w.Metadata.Result.Success {
		w.Entities = []Business{}
	}
	w.Metadata.Result.EntitiesFound = len(w.Entities)
}

// MarshalJSON keeps every key present even on a zero value.
func (w WebsiteExtraction) MarshalJSON() ([]byte, error) {
	type plain WebsiteExtraction
	p := plain(w)
	if p.Metadata.RelevantURLs == nil {
		p.Metadata.RelevantURLs = []RelevantURL{}
	}
	if p.Entities == nil {
		p.Entities = []Business{}
	}
	return json.Marshal(p)
}

// SearchContext describes the search page an extraction came from.
type SearchContext struct {
	Query   string `json:"query"`
	URL     string `json:"url"`
	Results int    `json:"results"`
}

// SearchOutcome is the result block of a search extraction.
type SearchOutcome struct {
	Outcome
	URLsFound int `json:"urls_found"`
}

// SearchMetadata groups the non-URL parts of a search extraction.
type SearchMetadata struct {
	Context SearchContext `json:"context"`
	Result  SearchOutcome `json:"result"`
}

// SearchExtraction is the structured output for a search result page.
type SearchExtraction struct {
	Metadata SearchMetadata `json:"metadata"`
	URLs     []RelevantURL  `json:"urls"`
}

func (*SearchExtraction) isExtractionResult() {}

// Kind implements ExtractionResult.
func (*SearchExtraction) Kind() SchemaKind { return SchemaSearch }

// Status implements ExtractionResult.
func (s *SearchExtraction) Status() Outcome { return s.Metadata.Result.Outcome }

// Normalize enforces the shape invariants for search results.
func (s *SearchExtraction) Normalize() {
	if s.URLs == nil || !s.Metadata.Result.Success {
		s.URLs = []RelevantURL{}
	}
	s.Metadata.Result.URLsFound = len(s.URLs)
}

// MarshalJSON keeps every key present even on a zero value.
func (s SearchExtraction) MarshalJSON() ([]byte, error) {
	type plain SearchExtraction
	p := plain(s)
	if p.URLs == nil {
		p.URLs = []RelevantURL{}
	}
	return json.Marshal(p)
}

// CountSuccessful returns how many results report success.
func CountSuccessful(results []ExtractionResult) int {
	n := 0
	for _, r := range results {
		if r != nil && r.Status().Success {
			n++
		}
	}
	return n
}
