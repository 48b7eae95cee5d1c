// Copyright (C) 2025 ScribeWorks AI (oss@scribeworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package doc_engine owns the live document model mutated by streamed
// assistant instructions: a field-map document store, a path-addressed
// patch builder with derived-total recomputation, a per-document version
// store with snapshot/restore, and the instruction dispatcher that ties
// them together.
package doc_engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DocumentStatus is the lifecycle state of a document.
type DocumentStatus string

const (
	// StatusDraft documents accept field mutations.
	StatusDraft DocumentStatus = "draft"

	// StatusFinal documents are locked; no component here mutates them.
	StatusFinal DocumentStatus = "final"
)

var (
	// ErrDocumentNotFound indicates an unknown document id.
	ErrDocumentNotFound = errors.New("doc_engine: document not found")

	// ErrDocumentLocked indicates a mutation attempt on a finalized document.
	ErrDocumentLocked = errors.New("doc_engine: document is final and cannot be modified")

	// ErrNoActiveDocument indicates a field mutation with no document open.
	ErrNoActiveDocument = errors.New("doc_engine: no active document")
)

// Document is a field-mapped business document. Fields values are scalars
// or ordered lists of line-item records (string-keyed maps).
type Document struct {
	ID             string         `json:"id"`
	Fields         map[string]any `json:"fields"`
	RenderedOutput string         `json:"rendered_output"`
	Status         DocumentStatus `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// MemoryDocumentStore holds documents for one running session, with one
// optional active document that instruction dispatch targets.
//
// # Thread Safety
//
// Safe for concurrent readers and writers. Callers must still serialize
// logically concurrent mutation streams per document id; the store protects
// its maps, not instruction ordering.
type MemoryDocumentStore struct {
	mu       sync.RWMutex
	docs     map[string]*Document
	activeID string
}

// NewMemoryDocumentStore creates an empty store with no active document.
func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{docs: make(map[string]*Document)}
}

// Create adds a draft document with the given fields and rendered output
// and makes it the active document.
func (s *MemoryDocumentStore) Create(fields map[string]any, rendered string) *Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	doc := &Document{
		ID:             uuid.NewString(),
		Fields:         CloneFields(fields),
		RenderedOutput: rendered,
		Status:         StatusDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.docs[doc.ID] = doc
	s.activeID = doc.ID
	return s.snapshotLocked(doc)
}

// Get returns a copy of the document with the given id.
func (s *MemoryDocumentStore) Get(id string) (*Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, false
	}
	return s.snapshotLocked(doc), true
}

// Active returns a copy of the active document, or false if none is open.
func (s *MemoryDocumentStore) Active() (*Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.activeID == "" {
		return nil, false
	}
	doc, ok := s.docs[s.activeID]
	if !ok {
		return nil, false
	}
	return s.snapshotLocked(doc), true
}

// SetActive switches the active document.
func (s *MemoryDocumentStore) SetActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	s.activeID = id
	return nil
}

// ApplyPatch merges a field-map fragment into a document with shallow key
// overwrite. Finalized documents reject the patch unchanged.
func (s *MemoryDocumentStore) ApplyPatch(id string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	if doc.Status == StatusFinal {
		return fmt.Errorf("%w: %s", ErrDocumentLocked, id)
	}
	for key, value := range patch {
		doc.Fields[key] = cloneValue(value)
	}
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

// Replace overwrites a document's fields and rendered output wholesale.
// Used by version restore, which must bypass shallow merge semantics.
func (s *MemoryDocumentStore) Replace(id string, fields map[string]any, rendered string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	doc.Fields = CloneFields(fields)
	doc.RenderedOutput = rendered
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

// SetRenderedOutput stores the rendered blob for a document.
func (s *MemoryDocumentStore) SetRenderedOutput(id string, rendered string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	doc.RenderedOutput = rendered
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

// Finalize locks a document against further mutation.
func (s *MemoryDocumentStore) Finalize(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	doc.Status = StatusFinal
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

// snapshotLocked copies a document so callers never alias live state.
// Callers must hold at least a read lock.
func (s *MemoryDocumentStore) snapshotLocked(doc *Document) *Document {
	out := *doc
	out.Fields = CloneFields(doc.Fields)
	return &out
}

// =============================================================================
// Deep Copy
// =============================================================================

// CloneFields deep-copies a field map, including nested line-item lists.
func CloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return CloneFields(v)
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = cloneValue(elem)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(v))
		for i, elem := range v {
			out[i] = CloneFields(elem)
		}
		return out
	default:
		return v
	}
}
