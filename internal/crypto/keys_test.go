package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateString(t *testing.T) {
	s, err := GenerateString(32)
	require.NoError(t, err)
	assert.Len(t, []rune(s), 32)

	_, err = GenerateString(0)
	require.Error(t, err)
}

func TestGenerateVAPIDKeys(t *testing.T) {
	keys, err := GenerateVAPIDKeys()
	require.NoError(t, err)
	require.True(t, keys.Valid())

	pub, err := base64.RawURLEncoding.DecodeString(keys.PublicKey)
	require.NoError(t, err)
	assert.Len(t, pub, 65, "uncompressed P-256 point")
	assert.Equal(t, byte(0x04), pub[0])

	other, err := GenerateVAPIDKeys()
	require.NoError(t, err)
	assert.NotEqual(t, keys.PrivateKey, other.PrivateKey)
	assert.False(t, VAPIDKeys{PublicKey: "x"}.Valid())
}
