package testfixtures

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDGeneratorProducesSequentialIDs(t *testing.T) {
	gen := NewIDGenerator("batch")

	assert.Empty(t, gen.Last())
	assert.Equal(t, "batch-1", gen.Next())
	assert.Equal(t, "batch-2", gen.NextFunc()())
	assert.Equal(t, "batch-2", gen.Last())
	assert.Equal(t, []string{"batch-1", "batch-2"}, gen.Issued())
}

func TestIDGeneratorDefaultsPrefix(t *testing.T) {
	gen := NewIDGenerator("")
	assert.Equal(t, "run-1", gen.Next())

	var nilGen *IDGenerator
	assert.Equal(t, "", nilGen.NextFunc()())
}
