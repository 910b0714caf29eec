// Package spec models the structured specification document attached to a
// project. The document is persisted verbatim in version snapshots, so every
// write path validates against one schema first.
package spec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Theme holds the site palette.
type Theme struct {
	PrimaryColor   string `json:"primary_color"`
	SecondaryColor string `json:"secondary_color"`
	AccentColor    string `json:"accent_color"`
}

// Document is the project specification. LastUpdate and UpdatedAt record the
// most recent iteration message; both are empty on a fresh project.
type Document struct {
	Prompt     string   `json:"prompt"`
	Pages      []string `json:"pages"`
	Components []string `json:"components"`
	Theme      Theme    `json:"theme"`
	LastUpdate string   `json:"last_update,omitempty"`
	UpdatedAt  string   `json:"updated_at,omitempty"`
}

// Initial derives the starting specification from the creation prompt.
func Initial(prompt string) Document {
	return Document{
		Prompt:     prompt,
		Pages:      []string{"home", "pricing", "about", "contact"},
		Components: []string{"Header", "Footer", "Hero", "Features", "CTA"},
		Theme: Theme{
			PrimaryColor:   "#3b82f6",
			SecondaryColor: "#64748b",
			AccentColor:    "#f59e0b",
		},
	}
}

// WithUpdate overlays an iteration message onto the document. Everything
// else is preserved.
func (d Document) WithUpdate(message string, now time.Time) Document {
	d.LastUpdate = message
	d.UpdatedAt = now.UTC().Format(time.RFC3339)
	return d
}

// Parse decodes a persisted document.
func Parse(raw json.RawMessage) (Document, error) {
	var d Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return Document{}, fmt.Errorf("parse spec: %w", err)
	}
	return d, nil
}

// JSON encodes the document for persistence, validating it first.
func (d Document) JSON() (json.RawMessage, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode spec: %w", err)
	}
	if err := Validate(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

const schemaJSON = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["prompt", "pages", "components", "theme"],
	"additionalProperties": false,
	"properties": {
		"prompt": {"type": "string"},
		"pages": {"type": "array", "items": {"type": "string"}, "minItems": 1},
		"components": {"type": "array", "items": {"type": "string"}, "minItems": 1},
		"theme": {
			"type": "object",
			"required": ["primary_color", "secondary_color", "accent_color"],
			"additionalProperties": false,
			"properties": {
				"primary_color": {"type": "string", "pattern": "^#[0-9a-fA-F]{6}$"},
				"secondary_color": {"type": "string", "pattern": "^#[0-9a-fA-F]{6}$"},
				"accent_color": {"type": "string", "pattern": "^#[0-9a-fA-F]{6}$"}
			}
		},
		"last_update": {"type": "string"},
		"updated_at": {"type": "string"}
	}
}`

var schema = jsonschema.MustCompileString("spec.json", schemaJSON)

// Validate checks a raw document against the spec schema.
func Validate(raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("spec is not valid JSON: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("spec does not conform to schema: %w", err)
	}
	return nil
}
