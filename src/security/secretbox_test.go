package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	encoded, err := NewKey()
	require.NoError(t, err)
	key, err := ParseKey(encoded)
	require.NoError(t, err)

	sealed, err := Seal(key, "api-secret")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, SealedPrefix))
	assert.NotContains(t, sealed, "api-secret")

	again, err := Seal(key, "api-secret")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "every seal uses a fresh nonce")

	plain, err := Open(key, sealed)
	require.NoError(t, err)
	assert.Equal(t, "api-secret", plain)
}

func TestOpenRejectsWrongKeyAndTampering(t *testing.T) {
	k1, _ := NewKey()
	k2, _ := NewKey()
	key1, err := ParseKey(k1)
	require.NoError(t, err)
	key2, err := ParseKey(k2)
	require.NoError(t, err)

	sealed, err := Seal(key1, "x")
	require.NoError(t, err)

	_, err = Open(key2, sealed)
	assert.ErrorIs(t, err, ErrOpen)

	_, err = Open(key1, SealedPrefix+"AAAA")
	assert.ErrorIs(t, err, ErrOpen)
}

func TestReveal(t *testing.T) {
	encoded, _ := NewKey()
	key, err := ParseKey(encoded)
	require.NoError(t, err)
	sealed, err := Seal(key, "k")
	require.NoError(t, err)

	plain, err := Reveal(Config{}, "plain-value")
	require.NoError(t, err)
	assert.Equal(t, "plain-value", plain)

	_, err = Reveal(Config{}, sealed)
	assert.ErrorIs(t, err, ErrMissingKey)

	plain, err = Reveal(Config{ExchangeCRKey: encoded}, sealed)
	require.NoError(t, err)
	assert.Equal(t, "k", plain)
}

func TestParseKey(t *testing.T) {
	_, err := ParseKey("c2hvcnQ=")
	assert.ErrorIs(t, err, ErrBadKey)
	_, err = ParseKey("not base64!")
	assert.ErrorIs(t, err, ErrBadKey)
}
