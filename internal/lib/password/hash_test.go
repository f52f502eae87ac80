package password

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHashAndCompare(t *testing.T) {
	tests := []struct {
		name     string
		password string
	}{
		{name: "regular password", password: "password123"},
		{name: "password with special chars", password: "p@ssw0rd!@#$%^&*()"},
		{name: "unicode password", password: "пароль-секрет"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := GetHash(tt.password)
			require.NoError(t, err)
			assert.NotEqual(t, tt.password, hash)

			assert.NoError(t, CompareHash(hash, tt.password))
		})
	}
}

func TestCompareHash_Mismatch(t *testing.T) {
	hash, err := GetHash("correct-horse")
	require.NoError(t, err)

	err = CompareHash(hash, "battery-staple")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMismatch))
}

func TestCompareHash_BrokenHash(t *testing.T) {
	err := CompareHash("not-a-bcrypt-hash", "whatever")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrMismatch))
}

func TestGetHash_TooLong(t *testing.T) {
	long := make([]byte, 80)
	for i := range long {
		long[i] = 'a'
	}
	_, err := GetHash(string(long))
	assert.Error(t, err)
}
