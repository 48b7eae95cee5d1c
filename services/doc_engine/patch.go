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
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

// Field names with derived semantics inside line-item lists.
const (
	fieldQty         = "qty"
	fieldUnitPrice   = "unitPrice"
	fieldAmount      = "amount"
	fieldTotalAmount = "totalAmount"
	fieldItems       = "items"

	// broadcastPrefix addresses a property of every element of the items
	// list: "all_items.unitPrice".
	broadcastPrefix = "all_items."
)

// indexedPathRe matches the indexed element-property form "name[i].prop".
var indexedPathRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\[(\d+)\]\.([A-Za-z_][A-Za-z0-9_]*)$`)

// BuildPatch turns a field path and freeform replacement text into a
// field-map fragment to merge into the document.
//
// # Description
//
// Three path forms are supported. A plain key sets one top-level field. The
// indexed form "name[i].prop" sets one property of one list element. The
// broadcast form "all_items.prop" sets that property on every element of
// the "items" list. For list mutations touching qty or unitPrice, each
// affected element's amount is recomputed as qty*unitPrice, and the
// fragment always carries a recomputed totalAmount alongside the list.
//
// The replacement text is converted against the type of the value it
// replaces ("smart convert"): the field map's existing type is the source
// of truth, since new_value originates from unstructured assistant text.
//
// # Inputs
//   - path: field path in one of the three forms above.
//   - newValueText: replacement value as freeform text.
//   - current: the document's current field map. Never mutated.
//
// # Outputs
//   - A new fragment for shallow merge. An out-of-bounds index yields a
//     fragment with the list unchanged, logged at warning level.
func BuildPatch(path string, newValueText string, current map[string]any) map[string]any {
	if match := indexedPathRe.FindStringSubmatch(path); match != nil {
		index, _ := strconv.Atoi(match[2])
		return patchIndexed(match[1], index, match[3], newValueText, current)
	}
	if strings.HasPrefix(path, broadcastPrefix) {
		prop := strings.TrimPrefix(path, broadcastPrefix)
		return patchBroadcast(prop, newValueText, current)
	}
	return map[string]any{path: smartConvert(newValueText, current[path])}
}

// ValueAtPath reads the current value addressed by a field path. The second
// return is false when the path does not resolve.
func ValueAtPath(path string, fields map[string]any) (any, bool) {
	if match := indexedPathRe.FindStringSubmatch(path); match != nil {
		items := asItemList(fields[match[1]])
		index, _ := strconv.Atoi(match[2])
		if items == nil || index >= len(items) {
			return nil, false
		}
		value, ok := items[index][match[3]]
		return value, ok
	}
	if strings.HasPrefix(path, broadcastPrefix) {
		// No single value exists for a broadcast path.
		return nil, false
	}
	value, ok := fields[path]
	return value, ok
}

// FormatValue renders a field value the way it reads in the document, for
// before/after reporting.
func FormatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func patchIndexed(listKey string, index int, prop, newValueText string, current map[string]any) map[string]any {
	items := asItemList(current[listKey])
	if items == nil {
		slog.Warn("field path targets a non-list field", "list", listKey, "property", prop)
		return map[string]any{}
	}
	updated := cloneItemList(items)

	if index >= len(updated) {
		slog.Warn("field path index out of bounds",
			"list", listKey, "index", index, "len", len(updated))
	} else {
		setItemProp(updated[index], prop, newValueText)
	}

	return map[string]any{
		listKey:          updated,
		fieldTotalAmount: sumAmounts(updated),
	}
}

func patchBroadcast(prop, newValueText string, current map[string]any) map[string]any {
	items := asItemList(current[fieldItems])
	if items == nil {
		slog.Warn("broadcast path with no items list", "property", prop)
		return map[string]any{}
	}
	updated := cloneItemList(items)
	for _, item := range updated {
		setItemProp(item, prop, newValueText)
	}
	return map[string]any{
		fieldItems:       updated,
		fieldTotalAmount: sumAmounts(updated),
	}
}

// setItemProp assigns one converted property and keeps amount consistent
// when a pricing input changed.
func setItemProp(item map[string]any, prop, newValueText string) {
	item[prop] = smartConvert(newValueText, item[prop])
	if prop == fieldQty || prop == fieldUnitPrice {
		qty, _ := asNumber(item[fieldQty])
		unitPrice, _ := asNumber(item[fieldUnitPrice])
		item[fieldAmount] = qty * unitPrice
	}
}

// smartConvert coerces freeform text toward the type of the value it
// replaces. Numeric targets strip thousands separators; a failed numeric
// parse falls back to the raw text. Boolean targets are true iff the text
// is exactly "true". Everything else passes through unchanged.
func smartConvert(text string, existing any) any {
	switch existing.(type) {
	case float64, int, int64, float32:
		cleaned := strings.ReplaceAll(text, ",", "")
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(cleaned), 64); err == nil {
			return parsed
		}
		return text
	case bool:
		return text == "true"
	default:
		return text
	}
}

// asItemList normalizes the two physical list shapes a field map can hold
// into []map[string]any. Returns nil for anything else.
func asItemList(value any) []map[string]any {
	switch v := value.(type) {
	case []map[string]any:
		return v
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, elem := range v {
			item, ok := elem.(map[string]any)
			if !ok {
				return nil
			}
			out = append(out, item)
		}
		return out
	default:
		return nil
	}
}

func cloneItemList(items []map[string]any) []map[string]any {
	out := make([]map[string]any, len(items))
	for i, item := range items {
		out[i] = CloneFields(item)
	}
	return out
}

func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func sumAmounts(items []map[string]any) float64 {
	var total float64
	for _, item := range items {
		amount, _ := asNumber(item[fieldAmount])
		total += amount
	}
	return total
}
