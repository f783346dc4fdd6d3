package signer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "e9ccd0ec6bb77c263dc46c0f81962c0b378a67befe089e90ef81e96a4a4c5bc5"

func TestSignAndDerive(t *testing.T) {
	s := NewSecp256k1Signer()

	sig, err := s.Sign([]byte("transfer payload"), testKey)
	require.NoError(t, err)
	assert.NotEmpty(t, sig)

	// deterministic signatures for the same message and key
	sig2, err := s.Sign([]byte("transfer payload"), testKey)
	require.NoError(t, err)
	assert.Equal(t, sig, sig2)

	pub, err := s.DerivePublicKey(testKey)
	require.NoError(t, err)
	assert.Len(t, pub, 66) // compressed point, hex

	addr, err := s.DeriveAddress(testKey)
	require.NoError(t, err)
	assert.Len(t, addr, 40)
}

func TestSignRejectsBadKey(t *testing.T) {
	s := NewSecp256k1Signer()

	_, err := s.Sign([]byte("x"), "not-hex")
	assert.Error(t, err)
	_, err = s.Sign([]byte("x"), "abcd")
	assert.Error(t, err)
}
