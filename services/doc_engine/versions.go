// Copyright (C) 2025 ScribeWorks AI (oss@scribeworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package doc_engine

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// firstVersion labels the initial snapshot of every document.
const firstVersion = "1.0"

// Snapshot is one immutable entry in a document's mutation history.
type Snapshot struct {
	VersionID      string         `json:"version_id"`
	Version        string         `json:"version"`
	Fields         map[string]any `json:"fields"`
	RenderedOutput string         `json:"rendered_output"`
	CreatedAt      time.Time      `json:"created_at"`
	Reason         string         `json:"reason"`
}

// VersionStore keeps an append-only snapshot list per document id. Each
// store is owned by one document session; nothing here is process-global,
// so a session's history is released with the store itself.
//
// The versioning invariant: every mutation routed through UpdateWithVersion
// is preceded by a snapshot of the prior state, so the history is always
// one snapshot ahead of the live document.
type VersionStore struct {
	mu      sync.Mutex
	docs    *MemoryDocumentStore
	history map[string][]Snapshot
}

// NewVersionStore creates a version store over the given document store.
func NewVersionStore(docs *MemoryDocumentStore) *VersionStore {
	return &VersionStore{
		docs:    docs,
		history: make(map[string][]Snapshot),
	}
}

// SaveVersion snapshots a document's current fields and rendered output.
// The version string advances the minor component of the last snapshot, or
// starts at "1.0" for a fresh document id.
func (vs *VersionStore) SaveVersion(docID, reason string) (Snapshot, error) {
	doc, ok := vs.docs.Get(docID)
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
	}

	vs.mu.Lock()
	defer vs.mu.Unlock()

	version := firstVersion
	if existing := vs.history[docID]; len(existing) > 0 {
		version = nextVersion(existing[len(existing)-1].Version)
	}

	snap := Snapshot{
		VersionID:      uuid.NewString(),
		Version:        version,
		Fields:         CloneFields(doc.Fields),
		RenderedOutput: doc.RenderedOutput,
		CreatedAt:      time.Now().UTC(),
		Reason:         reason,
	}
	vs.history[docID] = append(vs.history[docID], snap)
	return snap, nil
}

// GetVersions returns a document's snapshots in creation order. The slice
// is a copy; snapshot field maps are shared and must be treated read-only.
func (vs *VersionStore) GetVersions(docID string) []Snapshot {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	existing := vs.history[docID]
	out := make([]Snapshot, len(existing))
	copy(out, existing)
	return out
}

// RestoreVersion rolls a document back to a prior snapshot. The current
// state is first saved as a pre-restore backup, so a restore is itself
// reversible. Returns false when the snapshot id is unknown.
func (vs *VersionStore) RestoreVersion(docID, versionID string) bool {
	vs.mu.Lock()
	var target *Snapshot
	for i := range vs.history[docID] {
		if vs.history[docID][i].VersionID == versionID {
			target = &vs.history[docID][i]
			break
		}
	}
	vs.mu.Unlock()

	if target == nil {
		return false
	}
	if _, err := vs.SaveVersion(docID, "pre-restore backup"); err != nil {
		return false
	}
	if err := vs.docs.Replace(docID, target.Fields, target.RenderedOutput); err != nil {
		return false
	}
	return true
}

// UpdateWithVersion snapshots the document and then applies the field
// patch. Every externally-visible mutation goes through here.
func (vs *VersionStore) UpdateWithVersion(docID string, patch map[string]any, reason string) error {
	if _, err := vs.SaveVersion(docID, reason); err != nil {
		return err
	}
	return vs.docs.ApplyPatch(docID, patch)
}

// nextVersion advances the minor component: "1.9" becomes "1.10".
func nextVersion(version string) string {
	major, minor, found := strings.Cut(version, ".")
	if !found {
		return firstVersion
	}
	minorNum, err := strconv.Atoi(minor)
	if err != nil {
		return firstVersion
	}
	return major + "." + strconv.Itoa(minorNum+1)
}
