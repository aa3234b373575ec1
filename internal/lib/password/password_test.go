package password

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndCompare(t *testing.T) {
	hash, salt, err := Hash("correct horse battery staple")
	require.NoError(t, err)
	require.NotEmpty(t, hash)
	require.NotEmpty(t, salt)

	assert.True(t, Compare("correct horse battery staple", salt, hash))
	assert.False(t, Compare("wrong password", salt, hash))
	assert.False(t, Compare("", salt, hash))
}

func TestHashUsesFreshSalt(t *testing.T) {
	hash1, salt1, err := Hash("same password")
	require.NoError(t, err)
	hash2, salt2, err := Hash("same password")
	require.NoError(t, err)

	assert.NotEqual(t, salt1, salt2)
	assert.NotEqual(t, hash1, hash2)
}

func TestCompareRejectsTruncatedHash(t *testing.T) {
	hash, salt, err := Hash("a password")
	require.NoError(t, err)

	assert.False(t, Compare("a password", salt, hash[:len(hash)-1]))
}
