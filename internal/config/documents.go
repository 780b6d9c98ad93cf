package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Document names a configuration document by its file name.
type Document string

const (
	DocSequences         Document = "sequences.json"
	DocAllowlist         Document = "allowlist.json"
	DocBlockImmediately  Document = "blockimmediatelylist.json"
	DocBannedConnections Document = "bannedConnections.json"
	DocBannedWords       Document = "bannedWords.json"
)

// Documents lists every configuration document.
var Documents = []Document{
	DocSequences,
	DocAllowlist,
	DocBlockImmediately,
	DocBannedConnections,
	DocBannedWords,
}

// Label is the short name used in logs and metrics.
func (d Document) Label() string {
	return strings.TrimSuffix(string(d), ".json")
}

// SequenceEntry is one pattern as written in sequences.json.
type SequenceEntry struct {
	ID        string   `json:"id"`
	Keys      []string `json:"keys"`
	Threshold float64  `json:"threshold"`
}

type sequencesDoc struct {
	Sequences []SequenceEntry `json:"sequences"`
}

// listFields maps each string-list document to its top-level key.
var listFields = map[Document]string{
	DocAllowlist:         "allowlist",
	DocBlockImmediately:  "blockImmediatelyList",
	DocBannedConnections: "bannedConnections",
	DocBannedWords:       "bannedWords",
}

const sequencesSchema = `{
  "type": "object",
  "properties": {
    "sequences": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "keys", "threshold"],
        "properties": {
          "id": {"type": "string"},
          "keys": {"type": "array", "items": {"type": "string"}},
          "threshold": {"type": "number", "minimum": 0, "maximum": 1}
        }
      }
    }
  }
}`

func listSchema(field string) string {
	return fmt.Sprintf(`{
  "type": "object",
  "properties": {
    %q: {"type": "array", "items": {"type": "string"}}
  }
}`, field)
}

var schemas = mustCompileSchemas()

func mustCompileSchemas() map[Document]*jsonschema.Schema {
	sources := map[Document]string{DocSequences: sequencesSchema}
	for doc, field := range listFields {
		sources[doc] = listSchema(field)
	}

	out := make(map[Document]*jsonschema.Schema, len(sources))
	c := jsonschema.NewCompiler()
	for doc, src := range sources {
		var obj any
		if err := json.Unmarshal([]byte(src), &obj); err != nil {
			panic(fmt.Sprintf("schema %s: %v", doc, err))
		}
		url := doc.Label() + ".schema.json"
		if err := c.AddResource(url, obj); err != nil {
			panic(fmt.Sprintf("schema %s: %v", doc, err))
		}
		sch, err := c.Compile(url)
		if err != nil {
			panic(fmt.Sprintf("schema %s: %v", doc, err))
		}
		out[doc] = sch
	}
	return out
}

// validate parses data as JSON and checks it against the document schema.
func validate(doc Document, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("parse %s: %w", doc, err)
	}
	sch, ok := schemas[doc]
	if !ok {
		return fmt.Errorf("unknown document %s", doc)
	}
	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("validate %s: %w", doc, err)
	}
	return nil
}

// ParseSequences validates and decodes sequences.json.
func ParseSequences(data []byte) ([]SequenceEntry, error) {
	if err := validate(DocSequences, data); err != nil {
		return nil, err
	}
	var d sequencesDoc
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode %s: %w", DocSequences, err)
	}
	return d.Sequences, nil
}

// ParseList validates and decodes one of the string-list documents.
func ParseList(doc Document, data []byte) ([]string, error) {
	field, ok := listFields[doc]
	if !ok {
		return nil, fmt.Errorf("%s is not a list document", doc)
	}
	if err := validate(doc, data); err != nil {
		return nil, err
	}
	// Only the list field is decoded; other keys are ignored.
	var d map[string]json.RawMessage
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode %s: %w", doc, err)
	}
	raw, ok := d[field]
	if !ok {
		return nil, nil
	}
	var entries []string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", doc, err)
	}
	return entries, nil
}
