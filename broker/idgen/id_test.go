package idgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDataIDUniqueAndSortable(t *testing.T) {
	a := DataID()
	b := DataID()

	assert.NotEmpty(t, a)
	assert.NotEmpty(t, b)
	assert.NotEqual(t, a, b)
	// KSUID strings are fixed-length and lexically sort with time.
	assert.Len(t, a, 27)
}

func TestHandlerIDUnique(t *testing.T) {
	a := HandlerID()
	b := HandlerID()

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
