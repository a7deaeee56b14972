package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDOverride(t *testing.T) {
	assert.Equal(t, "node-7", ID("node-7"))
}

func TestIDStable(t *testing.T) {
	first := ID("")
	assert.NotEmpty(t, first)
	assert.Equal(t, first, ID(""))
}
