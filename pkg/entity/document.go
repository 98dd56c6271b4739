package entity

import "time"

// Document is a schemaless entity for callers that do not define their own
// Go type, such as the CLI and HTTP API. Unset optional attributes keep their
// defaults.
type Document struct {
	ID        string         `json:"id"`
	Type      string         `json:"entity_type"`
	Content   string         `json:"content"`
	Fields    Fields         `json:"fields,omitempty"`
	Relevance *float64       `json:"relevance_score,omitempty"`
	Active    *bool          `json:"active,omitempty"`
	CreatedAt time.Time      `json:"created_at,omitzero"`
	UpdatedAt time.Time      `json:"updated_at,omitzero"`
	Data      map[string]any `json:"data,omitempty"`
}

// SearchAttributes implements Entity.
func (d Document) SearchAttributes() Attributes {
	attrs := NewAttributes(d.ID, d.Type, d.Content, d.Fields...)
	if d.Relevance != nil {
		attrs = attrs.WithRelevance(*d.Relevance)
	}
	if d.Active != nil {
		attrs = attrs.WithActive(*d.Active)
	}
	return attrs.WithTimestamps(d.CreatedAt, d.UpdatedAt)
}

var _ Entity = Document{}
