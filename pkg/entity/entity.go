// Package entity defines the capability contract every searchable record
// satisfies.
//
// An Entity exposes its searchable attributes through SearchAttributes. The
// required attributes (ID, Type, Content, Fields) are plain struct fields.
// The optional attributes (relevance score, active flag, timestamps) carry
// explicit defaults that are applied by the accessor methods:
//
//   - Relevance defaults to 1.0
//   - Active defaults to true
//   - CreatedAt/UpdatedAt default to the indexing time
//
// Entities are read, never mutated, by the search engine.
package entity

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultRelevance is the relevance score of an entity that does not set one.
const DefaultRelevance = 1.0

// Reserved index field names. Searchable fields using one of these names are
// not indexed.
const (
	FieldID        = "id"
	FieldType      = "entityType"
	FieldContent   = "content"
	FieldRelevance = "relevanceScore"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
	FieldActive    = "active"
	FieldPayload   = "_payload"
)

var reserved = map[string]bool{
	FieldID:        true,
	FieldType:      true,
	FieldContent:   true,
	FieldRelevance: true,
	FieldCreatedAt: true,
	FieldUpdatedAt: true,
	FieldActive:    true,
	FieldPayload:   true,
}

// IsReserved reports whether name is one of the engine-owned index fields.
func IsReserved(name string) bool {
	return reserved[name]
}

// Entity is anything the engine can index.
type Entity interface {
	// SearchAttributes returns the searchable projection of the entity.
	SearchAttributes() Attributes
}

// ErrInvalidAttributes is returned by Attributes.Validate.
var ErrInvalidAttributes = errors.New("invalid entity attributes")

// Attributes is the capability set of an indexable entity.
type Attributes struct {
	// ID uniquely identifies the entity within its type.
	ID string

	// Type is the entity type tag (e.g. "product", "seller").
	Type string

	// Content is the primary searchable text.
	Content string

	// Fields holds additional searchable text fields in declaration order.
	Fields Fields

	relevance *float64
	active    *bool
	createdAt time.Time
	updatedAt time.Time
}

// NewAttributes returns attributes with the required capabilities set and
// every optional capability at its default.
func NewAttributes(id, entityType, content string, fields ...Field) Attributes {
	return Attributes{
		ID:      id,
		Type:    entityType,
		Content: content,
		Fields:  Fields(fields),
	}
}

// WithRelevance returns a copy with an explicit relevance score.
func (a Attributes) WithRelevance(score float64) Attributes {
	a.relevance = &score
	return a
}

// WithActive returns a copy with an explicit active flag.
func (a Attributes) WithActive(active bool) Attributes {
	a.active = &active
	return a
}

// WithTimestamps returns a copy with explicit creation and update times.
// A zero time keeps the default for that timestamp.
func (a Attributes) WithTimestamps(createdAt, updatedAt time.Time) Attributes {
	a.createdAt = createdAt
	a.updatedAt = updatedAt
	return a
}

// Relevance returns the relevance score, or DefaultRelevance when unset.
func (a Attributes) Relevance() float64 {
	if a.relevance == nil {
		return DefaultRelevance
	}
	return *a.relevance
}

// Active returns the active flag, or true when unset.
func (a Attributes) Active() bool {
	if a.active == nil {
		return true
	}
	return *a.active
}

// CreatedAt returns the creation time, or now when unset.
func (a Attributes) CreatedAt(now time.Time) time.Time {
	if a.createdAt.IsZero() {
		return now
	}
	return a.createdAt
}

// UpdatedAt returns the last update time, or now when unset.
func (a Attributes) UpdatedAt(now time.Time) time.Time {
	if a.updatedAt.IsZero() {
		return now
	}
	return a.updatedAt
}

// Validate checks the required capabilities.
func (a Attributes) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidAttributes)
	}
	if a.Type == "" {
		return fmt.Errorf("%w: entity type is required for %q", ErrInvalidAttributes, a.ID)
	}
	if r := a.Relevance(); math.IsNaN(r) || math.IsInf(r, 0) {
		return fmt.Errorf("%w: relevance score of %q must be finite", ErrInvalidAttributes, a.ID)
	}
	return nil
}
