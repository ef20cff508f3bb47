package models

import (
	"fmt"
	"strings"
)

// Cardinality says whether an attachment field holds one file or an ordered list.
type Cardinality string

const (
	CardinalitySingle   Cardinality = "single"
	CardinalityMultiple Cardinality = "multiple"
)

// ParseCardinality accepts "single" or "multiple" (case-insensitive).
func ParseCardinality(s string) (Cardinality, error) {
	switch Cardinality(strings.ToLower(strings.TrimSpace(s))) {
	case CardinalitySingle:
		return CardinalitySingle, nil
	case CardinalityMultiple:
		return CardinalityMultiple, nil
	}
	return "", fmt.Errorf("unknown attachment cardinality %q (want single or multiple)", s)
}

// AttachmentField declares one attachment field of the shared schema.
type AttachmentField struct {
	Name        string
	Cardinality Cardinality
}

// AttachmentSchema is the ordered list of attachment fields of a run.
type AttachmentSchema []AttachmentField

// Names returns the attachment field names in declaration order.
func (s AttachmentSchema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// CollectionSpec describes one collection to transfer.
type CollectionSpec struct {
	Name string
	// SelfReference names the field holding the parent record id within the
	// same collection. Empty for flat collections.
	SelfReference string
	// Attachments overrides the run-wide attachment schema when non-nil.
	Attachments AttachmentSchema
}

// HasSelfReference reports whether the collection needs the two-phase transfer.
func (c CollectionSpec) HasSelfReference() bool {
	return c.SelfReference != ""
}

// AttachmentSchemaOr returns the collection's own schema, or fallback when
// the collection does not declare one.
func (c CollectionSpec) AttachmentSchemaOr(fallback AttachmentSchema) AttachmentSchema {
	if c.Attachments != nil {
		return c.Attachments
	}
	return fallback
}
