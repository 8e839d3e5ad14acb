// Package models defines core data structures for records, identifications, and inputs.
package models

import (
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Kind discriminates the record union. Every consumption site switches on it.
type Kind string

const (
	// KindPlant is a houseplant with structured care guidance.
	KindPlant Kind = "plant"
	// KindGeneric is any other cataloged item with a free-form description.
	KindGeneric Kind = "generic"
)

// CareGuide holds care guidance for a plant record.
type CareGuide struct {
	Light string `json:"light,omitempty" yaml:"light,omitempty"`
	Water string `json:"water,omitempty" yaml:"water,omitempty"`
	Soil  string `json:"soil,omitempty" yaml:"soil,omitempty"`
	Notes string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Record is a stored catalog item. Kind selects the active variant:
// Care is set only for KindPlant, Description only for KindGeneric.
type Record struct {
	ID            string                 `json:"id" yaml:"id"`
	Kind          Kind                   `json:"kind" yaml:"kind"`
	Name          string                 `json:"name" yaml:"name"`
	SecondaryName string                 `json:"secondary_name,omitempty" yaml:"secondary_name,omitempty"`
	// NaturalKey joins the record to precomputed reference embeddings;
	// it is a stable name slug, unique per store.
	NaturalKey  string                 `json:"natural_key" yaml:"natural_key"`
	Care        *CareGuide             `json:"care,omitempty" yaml:"care,omitempty"`
	Description string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Image       []byte                 `json:"-" yaml:"-"`
	Metadata    map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time              `json:"updated_at" yaml:"-"`
}

// SearchText returns the free text indexed for text search: care guidance
// for plants, the description for generic records.
func (r *Record) SearchText() string {
	switch r.Kind {
	case KindPlant:
		if r.Care == nil {
			return ""
		}
		return strings.TrimSpace(strings.Join([]string{r.Care.Light, r.Care.Water, r.Care.Soil, r.Care.Notes}, " "))
	case KindGeneric:
		return r.Description
	default:
		return ""
	}
}

// RecordInput is the input for creating or updating a record.
type RecordInput struct {
	ID            string                 `json:"id,omitempty" yaml:"id,omitempty"`
	Kind          Kind                   `json:"kind,omitempty" yaml:"kind,omitempty"`
	Name          string                 `json:"name" yaml:"name"`
	SecondaryName string                 `json:"secondary_name,omitempty" yaml:"secondary_name,omitempty"`
	NaturalKey    string                 `json:"natural_key,omitempty" yaml:"natural_key,omitempty"`
	Care          *CareGuide             `json:"care,omitempty" yaml:"care,omitempty"`
	Description   string                 `json:"description,omitempty" yaml:"description,omitempty"`
	ImagePath     string                 `json:"image_path,omitempty" yaml:"image_path,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Validate checks required fields and fills defaults: Kind defaults to plant,
// NaturalKey to the name slug. Returns an error for an empty name or a kind
// carrying the wrong variant fields.
func (in *RecordInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("record name cannot be empty")
	}
	if in.Kind == "" {
		in.Kind = KindPlant
	}
	switch in.Kind {
	case KindPlant:
		if in.Description != "" {
			return fmt.Errorf("plant record cannot carry a generic description")
		}
	case KindGeneric:
		if in.Care != nil {
			return fmt.Errorf("generic record cannot carry plant care guidance")
		}
	default:
		return fmt.Errorf("unknown record kind: %q", in.Kind)
	}
	if in.NaturalKey == "" {
		in.NaturalKey = Slugify(in.Name)
	}
	return nil
}

// Record converts a validated input into a Record. The image, if ImagePath is
// set, is read from disk. An empty ImagePath is fine (precomputed-catalog
// records carry no image), but a set path that cannot be read is an error.
func (in *RecordInput) Record() (*Record, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	rec := &Record{
		ID:            in.ID,
		Kind:          in.Kind,
		Name:          in.Name,
		SecondaryName: in.SecondaryName,
		NaturalKey:    in.NaturalKey,
		Care:          in.Care,
		Description:   in.Description,
		Metadata:      in.Metadata,
	}
	if in.ImagePath != "" {
		data, err := os.ReadFile(in.ImagePath)
		if err != nil {
			return nil, fmt.Errorf("read record image: %w", err)
		}
		rec.Image = data
	}
	return rec, nil
}

// ParseRecordFile reads a YAML record file into a RecordInput and validates it.
// Relative image paths are resolved by the caller.
func ParseRecordFile(path string) (*RecordInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read record file: %w", err)
	}
	var in RecordInput
	if err := yaml.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("parse record file: %w", err)
	}
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("invalid record file %s: %w", path, err)
	}
	return &in, nil
}

// Slugify lowercases s and replaces runs of non-alphanumeric characters with
// single hyphens, producing a stable natural key ("Monstera Deliciosa" ->
// "monstera-deliciosa").
func Slugify(s string) string {
	var b strings.Builder
	hyphen := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if hyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			hyphen = false
			b.WriteRune(r)
		} else {
			hyphen = true
		}
	}
	return b.String()
}
