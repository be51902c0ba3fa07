package extract

import (
	"bytes"
	"embed"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sells-group/listing-scraper/internal/model"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Schema is a compiled output contract plus its raw text for prompting.
type Schema struct {
	Kind     model.SchemaKind
	Raw      string
	compiled *jsonschema.Schema
}

// LoadSchema compiles the JSON Schema for kind.
func LoadSchema(kind model.SchemaKind) (*Schema, error) {
	var name string
	switch kind {
	case model.SchemaWebsite:
		name = "schemas/website.json"
	case model.SchemaSearch:
		name = "schemas/search.json"
	default:
		return nil, eris.Errorf("extract: unknown schema kind %q", kind)
	}

	raw, err := schemaFS.ReadFile(name)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: read schema %s", name)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	if err := c.AddResource(name, bytes.NewReader(raw)); err != nil {
		return nil, eris.Wrapf(err, "extract: add schema %s", name)
	}
	compiled, err := c.Compile(name)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: compile schema %s", name)
	}
	return &Schema{Kind: kind, Raw: string(raw), compiled: compiled}, nil
}

// Validate checks a decoded JSON document (numbers as json.Number or
// float64) against the schema.
func (s *Schema) Validate(doc any) error {
	if err := s.compiled.Validate(doc); err != nil {
		return eris.Wrap(err, "schema validation")
	}
	return nil
}

// structurallyValid reports whether doc has the top-level keys of kind.
func structurallyValid(kind model.SchemaKind, doc any) bool {
	m, ok := doc.(map[string]any)
	if !ok {
		return false
	}
	if _, ok := m["metadata"]; !ok {
		return false
	}
	switch kind {
	case model.SchemaWebsite:
		_, ok = m["entities"]
	case model.SchemaSearch:
		_, ok = m["urls"]
	}
	return ok
}
