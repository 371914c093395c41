package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ParsesLevel(t *testing.T) {
	l, err := New("prod", "warn")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(-1), "debug must be disabled at warn")
	assert.True(t, l.Core().Enabled(1), "warn must be enabled")
}

func TestNew_InvalidLevelKeepsDefault(t *testing.T) {
	l, err := New("dev", "loud")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(-1), "dev config defaults to debug")
}

func TestL_LazyInit(t *testing.T) {
	require.NotNil(t, L())
	require.NotNil(t, S())
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := L()
	assert.Same(t, l, OrNop(l))
}
