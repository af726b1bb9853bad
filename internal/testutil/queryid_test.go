package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedQueryIDGenerator_ReturnsSameID(t *testing.T) {
	gen := NewFixedQueryIDGenerator("query-123")

	assert.Equal(t, "query-123", gen.Generate())
	assert.Equal(t, "query-123", gen.Generate())
}

func TestFixedQueryIDGenerator_EmptyIDDefault(t *testing.T) {
	gen := NewFixedQueryIDGenerator("")
	assert.Equal(t, "test-query-default", gen.Generate())
}
