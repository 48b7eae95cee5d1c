// Copyright (C) 2025 ScribeWorks AI (oss@scribeworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package doc_engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func invoiceFields() map[string]any {
	return map[string]any{
		"customerName": "Initech",
		"taxExempt":    false,
		"items": []map[string]any{
			{"qty": float64(2), "unitPrice": float64(10), "amount": float64(20)},
			{"qty": float64(1), "unitPrice": float64(5), "amount": float64(5)},
		},
		"totalAmount": float64(25),
	}
}

func TestBuildPatchIndexedQty(t *testing.T) {
	t.Parallel()

	fields := invoiceFields()
	patch := BuildPatch("items[0].qty", "5", fields)

	items, ok := patch["items"].([]map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(5), items[0]["qty"])
	assert.Equal(t, float64(50), items[0]["amount"])
	assert.Equal(t, float64(5), items[1]["amount"], "other elements untouched")
	assert.Equal(t, float64(55), patch["totalAmount"])

	// The input field map is never mutated.
	original := fields["items"].([]map[string]any)
	assert.Equal(t, float64(2), original[0]["qty"])
	assert.Equal(t, float64(25), fields["totalAmount"])
}

func TestBuildPatchIndexedUnitPrice(t *testing.T) {
	t.Parallel()

	patch := BuildPatch("items[1].unitPrice", "8", invoiceFields())
	items := patch["items"].([]map[string]any)
	assert.Equal(t, float64(8), items[1]["unitPrice"])
	assert.Equal(t, float64(8), items[1]["amount"])
	assert.Equal(t, float64(28), patch["totalAmount"])
}

func TestBuildPatchBroadcast(t *testing.T) {
	t.Parallel()

	patch := BuildPatch("all_items.unitPrice", "3", invoiceFields())
	items := patch["items"].([]map[string]any)
	require.Len(t, items, 2)
	for i, item := range items {
		assert.Equal(t, float64(3), item["unitPrice"], "element %d", i)
	}
	assert.Equal(t, float64(6), items[0]["amount"])
	assert.Equal(t, float64(3), items[1]["amount"])
	assert.Equal(t, float64(9), patch["totalAmount"])
}

func TestBuildPatchOutOfBoundsLeavesListUnchanged(t *testing.T) {
	t.Parallel()

	fields := invoiceFields()
	patch := BuildPatch("items[9].qty", "5", fields)

	items := patch["items"].([]map[string]any)
	require.Len(t, items, 2)
	assert.Equal(t, float64(2), items[0]["qty"])
	assert.Equal(t, float64(25), patch["totalAmount"])
}

func TestBuildPatchPlainField(t *testing.T) {
	t.Parallel()

	patch := BuildPatch("customerName", "Acme Corp", invoiceFields())
	assert.Equal(t, map[string]any{"customerName": "Acme Corp"}, patch)
}

func TestBuildPatchItemsAsAnySlice(t *testing.T) {
	t.Parallel()

	// Field maps decoded from JSON hold []any, not []map[string]any.
	fields := map[string]any{
		"items": []any{
			map[string]any{"qty": float64(4), "unitPrice": float64(2), "amount": float64(8)},
		},
		"totalAmount": float64(8),
	}
	patch := BuildPatch("items[0].qty", "6", fields)
	items := patch["items"].([]map[string]any)
	assert.Equal(t, float64(12), items[0]["amount"])
	assert.Equal(t, float64(12), patch["totalAmount"])
}

func TestSmartConvertNumeric(t *testing.T) {
	t.Parallel()

	patch := BuildPatch("totalAmount", "1,000", invoiceFields())
	assert.Equal(t, float64(1000), patch["totalAmount"])
}

func TestSmartConvertNumericFallback(t *testing.T) {
	t.Parallel()

	// Unparseable text against a numeric field passes through raw.
	patch := BuildPatch("totalAmount", "a lot", invoiceFields())
	assert.Equal(t, "a lot", patch["totalAmount"])
}

func TestSmartConvertBoolean(t *testing.T) {
	t.Parallel()

	patch := BuildPatch("taxExempt", "true", invoiceFields())
	assert.Equal(t, true, patch["taxExempt"])

	patch = BuildPatch("taxExempt", "yes", invoiceFields())
	assert.Equal(t, false, patch["taxExempt"])
}

func TestSmartConvertStringPassthrough(t *testing.T) {
	t.Parallel()

	patch := BuildPatch("customerName", "1,000", invoiceFields())
	assert.Equal(t, "1,000", patch["customerName"])
}

func TestValueAtPath(t *testing.T) {
	t.Parallel()

	fields := invoiceFields()

	value, ok := ValueAtPath("customerName", fields)
	require.True(t, ok)
	assert.Equal(t, "Initech", value)

	value, ok = ValueAtPath("items[1].unitPrice", fields)
	require.True(t, ok)
	assert.Equal(t, float64(5), value)

	_, ok = ValueAtPath("items[7].qty", fields)
	assert.False(t, ok)

	_, ok = ValueAtPath("all_items.qty", fields)
	assert.False(t, ok, "broadcast paths have no single value")

	_, ok = ValueAtPath("missing", fields)
	assert.False(t, ok)
}

func TestFormatValue(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Initech", FormatValue("Initech"))
	assert.Equal(t, "25", FormatValue(float64(25)))
	assert.Equal(t, "2.5", FormatValue(float64(2.5)))
	assert.Equal(t, "true", FormatValue(true))
	assert.Equal(t, "", FormatValue(nil))
}
