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
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/ScribeWorksAI/ScribeWorksFOSS/services/llm"
)

// Instruction names recognized at the dispatch boundary.
const (
	NameUpdateDocumentField = "update_document_field"
	NameGenerateDocument    = "generate_document"
)

// ErrUnknownInstruction rejects a tool call whose name matches no known
// instruction shape.
var ErrUnknownInstruction = errors.New("doc_engine: unknown instruction")

// Instruction is the decoded, validated form of one tool call. Exactly the
// two concrete shapes below implement it.
type Instruction interface {
	// Describe renders a short human-readable label for notifications.
	Describe() string

	isInstruction()
}

// UpdateFieldInstruction sets one addressed field of the active document.
type UpdateFieldInstruction struct {
	ID        string
	FieldPath string
	NewValue  string
}

func (in UpdateFieldInstruction) Describe() string {
	return fmt.Sprintf("update %s to %q", in.FieldPath, in.NewValue)
}

func (UpdateFieldInstruction) isInstruction() {}

// GenerateDocumentInstruction creates a new document from a template.
type GenerateDocumentInstruction struct {
	ID          string
	TemplateKey string
	Preset      string
}

func (in GenerateDocumentInstruction) Describe() string {
	return fmt.Sprintf("generate %s document (preset %s)", in.TemplateKey, in.Preset)
}

func (GenerateDocumentInstruction) isInstruction() {}

// DecodeInstruction validates a raw tool call into one of the known
// instruction shapes. Missing required arguments and unknown names are
// rejected here, before any document state is touched.
func DecodeInstruction(call llm.ToolCall) (Instruction, error) {
	switch call.Name {
	case NameUpdateDocumentField:
		fieldPath, ok := argText(call.Arguments, "field_path")
		if !ok || fieldPath == "" {
			return nil, fmt.Errorf("%s: missing required argument field_path", call.Name)
		}
		newValue, ok := argText(call.Arguments, "new_value")
		if !ok {
			return nil, fmt.Errorf("%s: missing required argument new_value", call.Name)
		}
		return UpdateFieldInstruction{ID: call.ID, FieldPath: fieldPath, NewValue: newValue}, nil

	case NameGenerateDocument:
		templateKey, ok := argText(call.Arguments, "template_key")
		if !ok || templateKey == "" {
			return nil, fmt.Errorf("%s: missing required argument template_key", call.Name)
		}
		preset, ok := argText(call.Arguments, "preset")
		if !ok || preset == "" {
			return nil, fmt.Errorf("%s: missing required argument preset", call.Name)
		}
		return GenerateDocumentInstruction{ID: call.ID, TemplateKey: templateKey, Preset: preset}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownInstruction, call.Name)
	}
}

// argText reads one argument as text. Numeric and boolean JSON values are
// rendered to text because new_value arrives in whatever shape the
// assistant chose; the patch engine converts it back against the field's
// real type.
func argText(args map[string]any, key string) (string, bool) {
	raw, present := args[key]
	if !present {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}

// =============================================================================
// Dispatcher
// =============================================================================

// TemplateProvider creates documents from a template key and preset. The
// rendering system behind it is an external collaborator.
type TemplateProvider interface {
	CreateDocument(templateKey, preset string) (docID string, err error)
}

// Notifier receives one human-readable message per instruction result.
type Notifier interface {
	Notify(message string, success bool)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(string, bool) {}

// Result reports the outcome of one dispatched instruction.
type Result struct {
	Instruction Instruction `json:"instruction"`
	Success     bool        `json:"success"`
	BeforeValue string      `json:"before_value,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// Dispatcher resolves decoded instructions against the active document.
type Dispatcher struct {
	docs      *MemoryDocumentStore
	versions  *VersionStore
	templates TemplateProvider
	notifier  Notifier
}

// NewDispatcher wires a dispatcher over its collaborators. A nil notifier
// is replaced with NopNotifier.
func NewDispatcher(docs *MemoryDocumentStore, versions *VersionStore, templates TemplateProvider, notifier Notifier) *Dispatcher {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Dispatcher{docs: docs, versions: versions, templates: templates, notifier: notifier}
}

// Dispatch applies a batch of tool calls strictly in order. Later
// instructions may read derived fields the earlier ones just recomputed,
// so there is no reordering and no parallel application. A failed
// instruction records a failed result and the batch continues.
func (d *Dispatcher) Dispatch(calls []llm.ToolCall) []Result {
	results := make([]Result, 0, len(calls))
	for _, call := range calls {
		instruction, err := DecodeInstruction(call)
		if err != nil {
			slog.Warn("rejected instruction", "name", call.Name, "error", err)
			d.notifier.Notify(fmt.Sprintf("Could not apply instruction %q: %v", call.Name, err), false)
			results = append(results, Result{Success: false, Error: err.Error()})
			continue
		}
		results = append(results, d.dispatchOne(instruction))
	}
	return results
}

func (d *Dispatcher) dispatchOne(instruction Instruction) Result {
	var result Result
	switch in := instruction.(type) {
	case UpdateFieldInstruction:
		result = d.applyUpdateField(in)
	case GenerateDocumentInstruction:
		result = d.applyGenerateDocument(in)
	default:
		result = Result{Instruction: instruction, Error: ErrUnknownInstruction.Error()}
	}

	if result.Success {
		d.notifier.Notify(fmt.Sprintf("Applied: %s", instruction.Describe()), true)
	} else {
		d.notifier.Notify(fmt.Sprintf("Failed: %s (%s)", instruction.Describe(), result.Error), false)
	}
	return result
}

func (d *Dispatcher) applyUpdateField(in UpdateFieldInstruction) Result {
	result := Result{Instruction: in}

	doc, ok := d.docs.Active()
	if !ok {
		result.Error = ErrNoActiveDocument.Error()
		return result
	}
	if doc.Status == StatusFinal {
		result.Error = ErrDocumentLocked.Error()
		return result
	}

	if before, found := ValueAtPath(in.FieldPath, doc.Fields); found {
		result.BeforeValue = FormatValue(before)
	}

	patch := BuildPatch(in.FieldPath, in.NewValue, doc.Fields)
	reason := fmt.Sprintf("assistant edit: %s", in.FieldPath)
	if err := d.versions.UpdateWithVersion(doc.ID, patch, reason); err != nil {
		slog.Error("field update failed", "doc_id", doc.ID, "path", in.FieldPath, "error", err)
		result.Error = err.Error()
		return result
	}

	slog.Info("field updated",
		"doc_id", doc.ID, "path", in.FieldPath, "before", result.BeforeValue)
	result.Success = true
	return result
}

func (d *Dispatcher) applyGenerateDocument(in GenerateDocumentInstruction) Result {
	result := Result{Instruction: in}

	docID, err := d.templates.CreateDocument(in.TemplateKey, in.Preset)
	if err != nil || docID == "" {
		if err == nil {
			err = errors.New("template provider returned no document id")
		}
		slog.Error("document generation failed",
			"template", in.TemplateKey, "preset", in.Preset, "error", err)
		result.Error = err.Error()
		return result
	}

	if err := d.docs.SetActive(docID); err != nil {
		result.Error = err.Error()
		return result
	}

	slog.Info("document generated",
		"doc_id", docID, "template", in.TemplateKey, "preset", in.Preset)
	result.Success = true
	return result
}
