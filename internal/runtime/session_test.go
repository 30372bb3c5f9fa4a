package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_BeginRequiresBackend(t *testing.T) {
	s := NewSession(nil)
	_, _, err := s.Begin()
	require.ErrorIs(t, err, ErrNotLoaded)
	assert.False(t, s.Loaded())
	assert.Equal(t, 0, s.ContextLength())
}

func TestSession_BeginIsExclusive(t *testing.T) {
	s := NewSession(NewScripted("x", 128, 8))

	be, release, err := s.Begin()
	require.NoError(t, err)
	require.NotNil(t, be)

	_, _, err = s.Begin()
	assert.ErrorIs(t, err, ErrBusy)

	release()
	_, release2, err := s.Begin()
	require.NoError(t, err)
	release2()
}

func TestSession_LoadReplacesBackend(t *testing.T) {
	first := NewScripted("a", 128, 8)
	s := NewSession(first)

	second := NewScripted("b", 256, 8)
	require.NoError(t, s.Load(second))
	assert.Equal(t, 256, s.ContextLength())

	// The replaced backend was closed.
	_, err := first.Tokenize("x")
	assert.Error(t, err)
}

func TestSession_LoadWhileBusy(t *testing.T) {
	s := NewSession(NewScripted("a", 128, 8))
	_, release, err := s.Begin()
	require.NoError(t, err)
	defer release()

	assert.ErrorIs(t, s.Load(NewScripted("b", 128, 8)), ErrBusy)
}

func TestSession_Close(t *testing.T) {
	s := NewSession(NewScripted("a", 128, 8))
	require.NoError(t, s.Close())
	assert.False(t, s.Loaded())
	require.NoError(t, s.Close(), "closing twice is harmless")
}
