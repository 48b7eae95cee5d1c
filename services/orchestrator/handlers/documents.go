// Copyright (C) 2025 ScribeWorks AI (oss@scribeworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/doc_engine"
)

// HealthCheck reports service liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetDocument returns the handler for GET /v1/documents/:id.
func GetDocument(docs *doc_engine.MemoryDocumentStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, ok := docs.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			return
		}
		c.JSON(http.StatusOK, doc)
	}
}

// ListVersions returns the handler for GET /v1/documents/:id/versions.
// Snapshots come back in creation order, oldest first.
func ListVersions(docs *doc_engine.MemoryDocumentStore, versions *doc_engine.VersionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		docID := c.Param("id")
		if _, ok := docs.Get(docID); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"document_id": docID,
			"versions":    versions.GetVersions(docID),
		})
	}
}

// RestoreVersion returns the handler for
// POST /v1/documents/:id/versions/:versionId/restore.
func RestoreVersion(docs *doc_engine.MemoryDocumentStore, versions *doc_engine.VersionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		docID := c.Param("id")
		versionID := c.Param("versionId")

		if _, ok := docs.Get(docID); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			return
		}
		if !versions.RestoreVersion(docID, versionID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "version not found"})
			return
		}

		slog.Info("document restored", "doc_id", docID, "version_id", versionID)
		doc, _ := docs.Get(docID)
		c.JSON(http.StatusOK, doc)
	}
}

// FinalizeDocument returns the handler for POST /v1/documents/:id/finalize.
// A finalized document rejects all further field mutations.
func FinalizeDocument(docs *doc_engine.MemoryDocumentStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		docID := c.Param("id")
		if err := docs.Finalize(docID); err != nil {
			if errors.Is(err, doc_engine.ErrDocumentNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		doc, _ := docs.Get(docID)
		c.JSON(http.StatusOK, doc)
	}
}
