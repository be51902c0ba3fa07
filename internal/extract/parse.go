package extract

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/listing-scraper/internal/model"
)

// Error codes placed in result.error.
const (
	ErrCodeExtraction      = "ExtractionError"
	ErrCodeNoEntitiesFound = "NoEntitiesFound"
)

// LocationFence adjusts or drops coordinates that fall outside the target
// region. It returns nil to drop the location.
type LocationFence interface {
	Fix(loc *model.Location) *model.Location
}

// cleanJSON extracts a JSON document from text that may carry markdown
// code fences or surrounding prose.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Arrays are allowed at the top level, so take whichever opener comes first.
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return strings.TrimSpace(text)
	}
	closer := "}"
	if text[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(text, closer)
	if end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func decodeJSON(text string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, eris.Wrap(err, "decode response")
	}
	return v, nil
}

// pickDocument returns doc itself when it is an object, or the first
// structurally valid element when it is an array.
func pickDocument(kind model.SchemaKind, doc any) (map[string]any, error) {
	switch v := doc.(type) {
	case map[string]any:
		return v, nil
	case []any:
		if len(v) == 0 {
			return nil, eris.New("Empty array received from LLM")
		}
		for _, el := range v {
			if structurallyValid(kind, el) {
				return el.(map[string]any), nil
			}
		}
		return nil, eris.New("Invalid array structure in LLM response")
	default:
		return nil, eris.New("LLM response is not a JSON object")
	}
}

// parseResponse turns raw LLM text into a validated, typed result.
func (s *Service) parseResponse(text string) (model.ExtractionResult, error) {
	cleaned := cleanJSON(text)
	if cleaned == "" {
		return nil, eris.New("empty response")
	}
	raw, err := decodeJSON(cleaned)
	if err != nil {
		return nil, err
	}
	doc, err := pickDocument(s.schema.Kind, raw)
	if err != nil {
		return nil, err
	}

	if s.schema.Kind == model.SchemaWebsite {
		sanitizeWebsite(doc)
	} else {
		sanitizeSearch(doc)
	}

	if err := s.schema.Validate(doc); err != nil {
		return nil, err
	}
	return s.toResult(doc)
}

func (s *Service) toResult(doc map[string]any) (model.ExtractionResult, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, eris.Wrap(err, "re-encode document")
	}

	if s.schema.Kind == model.SchemaSearch {
		var out model.SearchExtraction
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, eris.Wrap(err, "decode search result")
		}
		out.Normalize()
		return &out, nil
	}

	var out model.WebsiteExtraction
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "decode website result")
	}
	for i := range out.Entities {
		e := &out.Entities[i]
		// Provenance and store fields are attached downstream.
		e.ID, e.SourceURL, e.SourceName, e.SourceType = "", "", "", ""
		e.CreatedAt, e.UpdatedAt = nil, nil
		if e.Location != nil && s.fence != nil {
			e.Location = s.fence.Fix(e.Location)
		}
	}
	out.Normalize()
	return &out, nil
}

// sanitizeWebsite drops entities that lack a name, address or category,
// canonicalizes categories, removes malformed ratings and locations, and
// recomputes entities_found. A success result that loses all of its entities becomes
// NoEntitiesFound.
func sanitizeWebsite(doc map[string]any) {
	meta := objectAt(doc, "metadata")
	result := objectAt(meta, "result")
	source := objectAt(meta, "source")
	for _, k := range []string{"name", "url", "summary"} {
		defaultString(source, k)
	}
	rels, _ := meta["relevant_urls"].([]any)
	keptRels := make([]any, 0, len(rels))
	for _, r := range rels {
		m, ok := r.(map[string]any)
		if !ok || stringAt(m, "url") == "" {
			continue
		}
		defaultString(m, "title")
		defaultString(m, "reason")
		keptRels = append(keptRels, m)
	}
	meta["relevant_urls"] = keptRels

	rawEntities, _ := doc["entities"].([]any)
	kept := make([]any, 0, len(rawEntities))
	for _, re := range rawEntities {
		e, ok := re.(map[string]any)
		if !ok {
			continue
		}
		name, address := stringAt(e, "name"), stringAt(e, "address")
		category := model.NormalizeCategory(stringAt(e, "category"))
		if name == "" || address == "" || category == "" {
			continue
		}
		e["name"], e["address"], e["category"] = name, address, category
		for _, k := range []string{"phone", "website", "description", "email"} {
			coerceString(e, k)
		}
		if h, ok := e["hours"]; ok {
			switch h.(type) {
			case json.Number, bool:
				e["hours"] = fmt.Sprint(h)
			}
		}
		switch e["rating"].(type) {
		case nil, string, json.Number:
		default:
			delete(e, "rating")
		}
		if loc, ok := e["location"]; ok && loc != nil && !validLocation(loc) {
			delete(e, "location")
		}
		if sm, ok := e["social_media"].(map[string]any); ok {
			for k, v := range sm {
				if _, isStr := v.(string); !isStr {
					delete(sm, k)
				}
			}
		}
		kept = append(kept, e)
	}

	success, _ := result["success"].(bool)
	switch {
	case !success:
		kept = kept[:0]
	case len(kept) == 0 && len(rawEntities) > 0:
		success = false
		result["error"] = ErrCodeNoEntitiesFound
		result["error_details"] = "all extracted entities were missing a name, address or category"
	}
	result["success"] = success
	result["entities_found"] = json.Number(strconv.Itoa(len(kept)))
	doc["entities"] = kept
}

// sanitizeSearch drops non-absolute URLs and recomputes urls_found.
func sanitizeSearch(doc map[string]any) {
	meta := objectAt(doc, "metadata")
	result := objectAt(meta, "result")
	ctx := objectAt(meta, "context")
	if _, ok := ctx["results"].(json.Number); !ok {
		ctx["results"] = json.Number("0")
	}
	if _, ok := ctx["query"].(string); !ok {
		ctx["query"] = "unknown"
	}
	defaultString(ctx, "url")

	rawURLs, _ := doc["urls"].([]any)
	kept := make([]any, 0, len(rawURLs))
	seen := map[string]bool{}
	for _, ru := range rawURLs {
		u, ok := ru.(map[string]any)
		if !ok {
			continue
		}
		link := stringAt(u, "url")
		if !absoluteHTTP(link) || seen[link] {
			continue
		}
		seen[link] = true
		u["url"] = link
		if _, ok := u["title"].(string); !ok {
			u["title"] = ""
		}
		if _, ok := u["reason"].(string); !ok {
			u["reason"] = ""
		}
		kept = append(kept, u)
	}

	success, _ := result["success"].(bool)
	if !success {
		kept = kept[:0]
	}
	result["success"] = success
	result["urls_found"] = json.Number(strconv.Itoa(len(kept)))
	doc["urls"] = kept
}

func objectAt(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	v := map[string]any{}
	m[key] = v
	return v
}

func stringAt(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

// validLocation reports whether v is a {lat, lng} object with both
// coordinates in range.
func validLocation(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	for k, limit := range map[string]float64{"lat": 90, "lng": 180} {
		n, ok := m[k].(json.Number)
		if !ok {
			return false
		}
		f, err := n.Float64()
		if err != nil || math.IsNaN(f) || f < -limit || f > limit {
			return false
		}
	}
	return true
}

func absoluteHTTP(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// defaultString coerces the value at key to a string, using "" when it is
// missing or null.
func defaultString(m map[string]any, key string) {
	coerceString(m, key)
	if _, ok := m[key].(string); !ok {
		m[key] = ""
	}
}

// coerceString turns a numeric or boolean value at key into a string and
// removes any other non-string value.
func coerceString(m map[string]any, key string) {
	switch v := m[key].(type) {
	case nil, string:
	case json.Number, bool:
		m[key] = fmt.Sprint(v)
	default:
		delete(m, key)
	}
}
