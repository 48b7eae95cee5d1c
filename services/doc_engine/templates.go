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
)

// templateKey/preset pairs resolve to a starting field map. The real
// template catalog lives in the rendering system; these built-ins cover the
// document shapes the assistant can request without that system attached.
type builtinTemplate struct {
	presets map[string]map[string]any
}

// BuiltinTemplates is a TemplateProvider backed by an in-process catalog,
// creating documents directly in a MemoryDocumentStore.
type BuiltinTemplates struct {
	docs    *MemoryDocumentStore
	catalog map[string]builtinTemplate
}

// NewBuiltinTemplates creates the default catalog over the given store.
func NewBuiltinTemplates(docs *MemoryDocumentStore) *BuiltinTemplates {
	return &BuiltinTemplates{
		docs: docs,
		catalog: map[string]builtinTemplate{
			"invoice": {presets: map[string]map[string]any{
				"blank": {
					"customerName": "",
					"invoiceDate":  "",
					"dueDate":      "",
					"items":        []map[string]any{},
					"totalAmount":  float64(0),
					"notes":        "",
				},
				"standard": {
					"customerName": "",
					"invoiceDate":  "",
					"dueDate":      "",
					"items": []map[string]any{
						{"description": "", "qty": float64(1), "unitPrice": float64(0), "amount": float64(0)},
					},
					"totalAmount": float64(0),
					"notes":       "Payment due within 30 days.",
					"taxExempt":   false,
				},
			}},
			"quote": {presets: map[string]map[string]any{
				"blank": {
					"customerName": "",
					"validUntil":   "",
					"items":        []map[string]any{},
					"totalAmount":  float64(0),
				},
			}},
		},
	}
}

// CreateDocument implements TemplateProvider.
func (t *BuiltinTemplates) CreateDocument(templateKey, preset string) (string, error) {
	template, ok := t.catalog[templateKey]
	if !ok {
		return "", fmt.Errorf("doc_engine: unknown template %q", templateKey)
	}
	fields, ok := template.presets[preset]
	if !ok {
		return "", fmt.Errorf("doc_engine: template %q has no preset %q", templateKey, preset)
	}
	doc := t.docs.Create(fields, "")
	return doc.ID, nil
}
