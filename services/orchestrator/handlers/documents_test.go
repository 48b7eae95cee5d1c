// Copyright (C) 2025 ScribeWorks AI (oss@scribeworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/doc_engine"
)

func newDocumentsRouter() (*gin.Engine, *doc_engine.MemoryDocumentStore, *doc_engine.VersionStore) {
	gin.SetMode(gin.TestMode)
	docs := doc_engine.NewMemoryDocumentStore()
	versions := doc_engine.NewVersionStore(docs)

	router := gin.New()
	router.GET("/v1/documents/:id", GetDocument(docs))
	router.POST("/v1/documents/:id/finalize", FinalizeDocument(docs))
	router.GET("/v1/documents/:id/versions", ListVersions(docs, versions))
	router.POST("/v1/documents/:id/versions/:versionId/restore", RestoreVersion(docs, versions))
	return router, docs, versions
}

func doRequest(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestGetDocument(t *testing.T) {
	t.Parallel()
	router, docs, _ := newDocumentsRouter()
	doc := docs.Create(map[string]any{"customerName": "Initech"}, "")

	recorder := doRequest(router, http.MethodGet, "/v1/documents/"+doc.ID)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	var got doc_engine.Document
	if err := json.Unmarshal(recorder.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != doc.ID || got.Fields["customerName"] != "Initech" {
		t.Errorf("unexpected document %+v", got)
	}

	if recorder := doRequest(router, http.MethodGet, "/v1/documents/missing"); recorder.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown id, got %d", recorder.Code)
	}
}

func TestFinalizeDocument(t *testing.T) {
	t.Parallel()
	router, docs, _ := newDocumentsRouter()
	doc := docs.Create(map[string]any{"customerName": "Initech"}, "")

	recorder := doRequest(router, http.MethodPost, "/v1/documents/"+doc.ID+"/finalize")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	updated, _ := docs.Get(doc.ID)
	if updated.Status != doc_engine.StatusFinal {
		t.Errorf("expected final status, got %q", updated.Status)
	}
	if err := docs.ApplyPatch(doc.ID, map[string]any{"customerName": "Acme"}); err == nil {
		t.Error("finalized document accepted a patch")
	}

	if recorder := doRequest(router, http.MethodPost, "/v1/documents/missing/finalize"); recorder.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown id, got %d", recorder.Code)
	}
}

func TestListVersions(t *testing.T) {
	t.Parallel()
	router, docs, versions := newDocumentsRouter()
	doc := docs.Create(map[string]any{"customerName": "Initech"}, "")
	if _, err := versions.SaveVersion(doc.ID, "manual save"); err != nil {
		t.Fatalf("save version: %v", err)
	}

	recorder := doRequest(router, http.MethodGet, "/v1/documents/"+doc.ID+"/versions")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	var body struct {
		DocumentID string                `json:"document_id"`
		Versions   []doc_engine.Snapshot `json:"versions"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.DocumentID != doc.ID || len(body.Versions) != 1 || body.Versions[0].Version != "1.0" {
		t.Errorf("unexpected body %+v", body)
	}

	if recorder := doRequest(router, http.MethodGet, "/v1/documents/missing/versions"); recorder.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown id, got %d", recorder.Code)
	}
}

func TestRestoreVersion(t *testing.T) {
	t.Parallel()
	router, docs, versions := newDocumentsRouter()
	doc := docs.Create(map[string]any{"customerName": "Initech"}, "")
	snap, err := versions.SaveVersion(doc.ID, "before edit")
	if err != nil {
		t.Fatalf("save version: %v", err)
	}
	if err := docs.ApplyPatch(doc.ID, map[string]any{"customerName": "Acme"}); err != nil {
		t.Fatalf("apply patch: %v", err)
	}

	recorder := doRequest(router, http.MethodPost,
		"/v1/documents/"+doc.ID+"/versions/"+snap.VersionID+"/restore")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	restored, _ := docs.Get(doc.ID)
	if restored.Fields["customerName"] != "Initech" {
		t.Errorf("restore did not roll back fields: %v", restored.Fields)
	}

	// The pre-restore state is kept as its own snapshot.
	history := versions.GetVersions(doc.ID)
	if len(history) != 2 || history[1].Reason != "pre-restore backup" {
		t.Errorf("unexpected history %+v", history)
	}

	if recorder := doRequest(router, http.MethodPost,
		"/v1/documents/"+doc.ID+"/versions/unknown/restore"); recorder.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown version, got %d", recorder.Code)
	}
	if recorder := doRequest(router, http.MethodPost,
		"/v1/documents/missing/versions/"+snap.VersionID+"/restore"); recorder.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown document, got %d", recorder.Code)
	}
}
