package extract

import "github.com/sells-group/listing-scraper/internal/model"

// ErrorEnvelope builds the standardized failure result for kind.
func ErrorEnvelope(kind model.SchemaKind, url, details string) model.ExtractionResult {
	if kind == model.SchemaSearch {
		return &model.SearchExtraction{
			Metadata: model.SearchMetadata{
				Context: model.SearchContext{Query: "unknown", URL: url},
				Result: model.SearchOutcome{Outcome: model.Outcome{
					Error:        ErrCodeExtraction,
					ErrorDetails: details,
				}},
			},
			URLs: []model.RelevantURL{},
		}
	}
	return &model.WebsiteExtraction{
		Metadata: model.WebsiteMetadata{
			Source: model.SourceInfo{
				Name:    ErrCodeExtraction,
				URL:     url,
				Type:    "Error",
				Summary: "Data extraction failed: " + details,
			},
			Result: model.WebsiteOutcome{Outcome: model.Outcome{
				Error:        ErrCodeExtraction,
				ErrorDetails: details,
			}},
			RelevantURLs: []model.RelevantURL{},
		},
		Entities: []model.Business{},
	}
}
