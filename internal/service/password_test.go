package service

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBcryptHasher(t *testing.T) {
	t.Parallel()

	_, err := NewBcryptHasher(4)
	require.Error(t, err)
	_, err = NewBcryptHasher(16)
	require.Error(t, err)

	h, err := NewBcryptHasher(MinBcryptCost)
	require.NoError(t, err)

	hash, err := h.Hash("Abcdef12")
	require.NoError(t, err)
	require.NotEqual(t, "Abcdef12", hash)

	require.NoError(t, h.Compare(hash, "Abcdef12"))
	require.ErrorIs(t, h.Compare(hash, "abcdef12"), ErrPasswordMismatch)

	err = h.Compare("not-a-bcrypt-hash", "Abcdef12")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrPasswordMismatch)
}
