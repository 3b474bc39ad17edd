package schema

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

type fileSchema struct {
	Fields []Field `json:"fields"`
}

// LoadFile reads a registry from a YAML schema description:
//
//	fields:
//	  - name: title
//	    multiple: true
//	  - name: creator
//	    controlled: true
//	    vocabularies:
//	      - authority: local
//	        subauthority: creators
func LoadFile(path string) (*StaticRegistry, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema file: %w", err)
	}
	var parsed fileSchema
	if err := yaml.Unmarshal(content, &parsed); err != nil {
		return nil, fmt.Errorf("parsing schema file %s: %w", path, err)
	}
	if len(parsed.Fields) == 0 {
		return nil, fmt.Errorf("schema file %s declares no fields", path)
	}
	return NewStaticRegistry(parsed.Fields...), nil
}

// DefaultRegistry covers the common descriptive metadata fields so the
// service works without a schema file.
func DefaultRegistry() *StaticRegistry {
	return NewStaticRegistry(
		Field{Name: "title", Multiple: true},
		Field{Name: "creator", Multiple: true},
		Field{Name: "contributor", Multiple: true},
		Field{Name: "description", Multiple: true},
		Field{Name: "abstract", Multiple: true},
		Field{Name: "identifier", Multiple: true},
		Field{Name: "keyword", Multiple: true},
		Field{Name: "publisher", Multiple: true},
		Field{Name: "date_created", Multiple: true},
		Field{Name: "language", Multiple: true},
		Field{Name: "source", Multiple: true},
		Field{Name: "rights_statement"},
		Field{Name: "license"},
		Field{Name: "subject", Controlled: true, Multiple: true, Vocabularies: []Vocabulary{
			{Authority: "loc", Subauthority: "subjects"},
			{Authority: "local", Subauthority: "subjects"},
		}},
		Field{Name: "location", Controlled: true, Multiple: true, Vocabularies: []Vocabulary{
			{Authority: "geonames"},
			{Authority: "local", Subauthority: "locations"},
		}},
		Field{Name: "genre", Controlled: true, Multiple: true, Vocabularies: []Vocabulary{
			{Authority: "local", Subauthority: "genres"},
		}},
		Field{Name: "resource_type", Controlled: true, Multiple: true, Vocabularies: []Vocabulary{
			{Authority: "local", Subauthority: "resource_types"},
		}},
	)
}
