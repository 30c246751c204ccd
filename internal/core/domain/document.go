package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Doctypes stored in the document API.
const (
	DoctypeAccounts         = "io.cozy.accounts"
	DoctypeKonnectors       = "io.cozy.konnectors"
	DoctypeKonnectorResults = "io.cozy.konnectors.result"
	DoctypeTriggers         = "io.cozy.triggers"
	DoctypeJobs             = "io.cozy.jobs"
	DoctypeFiles            = "io.cozy.files"
	DoctypePermissions      = "io.cozy.permissions"
)

// DocMeta holds the identity fields shared by every stored document.
type DocMeta struct {
	ID   string `json:"_id,omitempty"`
	Rev  string `json:"_rev,omitempty"`
	Type string `json:"_type,omitempty"`
}

// SetMeta overwrites the identity fields.
func (m *DocMeta) SetMeta(id, rev, doctype string) {
	m.ID = id
	m.Rev = rev
	m.Type = doctype
}

// Meta returns the identity fields.
func (m *DocMeta) Meta() DocMeta {
	return *m
}

// Metadata is implemented by every type that embeds DocMeta.
type Metadata interface {
	SetMeta(id, rev, doctype string)
	Meta() DocMeta
}

// Document is a raw JSON document with its identity.
type Document struct {
	ID        string          `json:"_id"`
	Rev       string          `json:"_rev"`
	Doctype   string          `json:"_type"`
	Body      json.RawMessage `json:"body"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Decode unmarshals the body into v and copies identity fields when v embeds DocMeta.
func (d *Document) Decode(v any) error {
	if len(d.Body) > 0 {
		if err := json.Unmarshal(d.Body, v); err != nil {
			return fmt.Errorf("decode %s %s: %w", d.Doctype, d.ID, err)
		}
	}
	if m, ok := v.(Metadata); ok {
		m.SetMeta(d.ID, d.Rev, d.Doctype)
	}
	return nil
}

// DecodeAs decodes a document into a freshly allocated T.
func DecodeAs[T any](d *Document) (*T, error) {
	v := new(T)
	if err := d.Decode(v); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeAll decodes a slice of documents, stopping at the first failure.
func DecodeAll[T any](docs []*Document) ([]*T, error) {
	out := make([]*T, 0, len(docs))
	for _, d := range docs {
		v, err := DecodeAs[T](d)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// EventKind identifies a realtime change.
type EventKind string

const (
	EventCreated EventKind = "CREATED"
	EventUpdated EventKind = "UPDATED"
	EventDeleted EventKind = "DELETED"
)

// DocumentEvent is pushed to subscribers when a document changes.
type DocumentEvent struct {
	Kind     EventKind `json:"event"`
	Document *Document `json:"doc"`
}
