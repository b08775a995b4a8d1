package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractObjectFenced(t *testing.T) {
	raw := "Here is my decision:\n```json\n{\"decision\": \"buy\", \"note\": \"a {brace} in a string\"}\n```\nGood luck."
	obj, ok := ExtractObject(raw)
	require.True(t, ok)
	assert.Equal(t, `{"decision": "buy", "note": "a {brace} in a string"}`, obj)
}

func TestExtractObjectBare(t *testing.T) {
	obj, ok := ExtractObject(`prefix {"a": {"b": 1}} suffix`)
	require.True(t, ok)
	assert.Equal(t, `{"a": {"b": 1}}`, obj)
}

func TestExtractObjectEscapedQuote(t *testing.T) {
	obj, ok := ExtractObject(`{"reason": "said \"hold\" today"}`)
	require.True(t, ok)
	assert.Equal(t, `{"reason": "said \"hold\" today"}`, obj)
}

func TestExtractObjectNone(t *testing.T) {
	_, ok := ExtractObject("no json here at all")
	assert.False(t, ok)

	_, ok = ExtractObject("")
	assert.False(t, ok)

	_, ok = ExtractObject(`{"unterminated": true`)
	assert.False(t, ok)
}
