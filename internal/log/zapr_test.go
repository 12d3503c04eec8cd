package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewZapr(t *testing.T) {
	lggr, err := NewZapr()
	require.NoError(t, err)
	assert.True(t, lggr.Enabled())
	assert.False(t, lggr.V(1).Enabled())
}

func TestNewDevelopment(t *testing.T) {
	lggr, err := NewDevelopment(1)
	require.NoError(t, err)
	assert.True(t, lggr.V(1).Enabled())
	assert.False(t, lggr.V(2).Enabled())
}
