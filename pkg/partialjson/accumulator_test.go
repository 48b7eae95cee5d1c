// Copyright (C) 2025 ScribeWorks AI (oss@scribeworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package partialjson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulator_TwoChunkScenario(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator()

	res, err := acc.Append(`{"type":"A","x":1,"y":`)
	require.NoError(t, err)
	assert.Equal(t, []string{"type", "x"}, res.AvailableKeys)
	assert.False(t, res.IsComplete)

	res, err = acc.Append(`2}`)
	require.NoError(t, err)
	assert.True(t, res.IsComplete)
	assert.Equal(t, 100, res.Progress)

	value := acc.Finalize()
	assert.Equal(t, map[string]any{"type": "A", "x": float64(1), "y": float64(2)}, value)
}

func TestAccumulator_ChunkSplitInvariance(t *testing.T) {
	t.Parallel()

	doc := `{"type":"invoice","items":[{"qty":2,"unitPrice":10,"amount":20},{"qty":1,"unitPrice":5,"amount":5}],"totalAmount":25,"note":"thanks \"friend\""}`
	whole := Parse(doc)
	require.True(t, whole.IsComplete)

	// Split at every position, including inside escape sequences.
	for i := 0; i <= len(doc); i++ {
		acc := NewAccumulator()
		_, err := acc.Append(doc[:i])
		require.NoError(t, err)
		_, err = acc.Append(doc[i:])
		require.NoError(t, err)
		assert.Equal(t, whole.Parsed, acc.Finalize(), "split at %d", i)
	}

	// Byte-at-a-time feed.
	acc := NewAccumulator()
	for i := 0; i < len(doc); i++ {
		_, err := acc.Append(doc[i : i+1])
		require.NoError(t, err)
	}
	assert.Equal(t, whole.Parsed, acc.Finalize())
}

func TestAccumulator_FinalizeFallsBackToPartial(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator()
	_, err := acc.Append(`{"a":1,"b":`)
	require.NoError(t, err)

	// The stream ended mid-value; Finalize falls back to the repaired value.
	value := acc.Finalize()
	require.NotNil(t, value)
	assert.Equal(t, map[string]any{"a": float64(1)}, value)
}

func TestAccumulator_FinalizeNilWhenNothingRecoverable(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator()
	_, err := acc.Append(`::: not json :::`)
	require.NoError(t, err)
	assert.Nil(t, acc.Finalize())
}

func TestAccumulator_Reset(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator()
	_, err := acc.Append(`{"a":1}`)
	require.NoError(t, err)
	require.NotNil(t, acc.Finalize())

	acc.Reset()
	assert.Equal(t, 0, acc.Len())
	assert.Nil(t, acc.Finalize())
	assert.Equal(t, Result{}, acc.Last())
}

func TestAccumulator_BufferOverflow(t *testing.T) {
	t.Parallel()

	acc := NewAccumulatorWithLimit(16)
	_, err := acc.Append(`{"a":"12345"}`)
	require.NoError(t, err)

	cached := acc.Last()
	res, err := acc.Append(`{"overflowing":1}`)
	require.ErrorIs(t, err, ErrBufferOverflow)

	// The rejected chunk is not appended and the cached result is unchanged.
	assert.Equal(t, cached, res)
	assert.Equal(t, 13, acc.Len())
}
