package xid

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	a, b := New("ses"), New("ses")

	assert.NotEqual(t, a, b)
	require.True(t, strings.HasPrefix(a, "ses-"))
	_, err := uuid.Parse(strings.TrimPrefix(a, "ses-"))
	assert.NoError(t, err)
}
