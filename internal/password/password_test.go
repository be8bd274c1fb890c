package password_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/custodian/internal/password"
)

func TestVerifier(t *testing.T) {
	v, err := password.NewVerifier("correct horse")
	require.NoError(t, err)

	stored := v.String()
	saltHex, hashHex, ok := strings.Cut(stored, ":")
	require.True(t, ok)
	assert.Len(t, saltHex, 32)
	assert.Len(t, hashHex, 64)
	assert.Equal(t, strings.ToLower(stored), stored)

	testCases := []struct {
		name     string
		password string
		want     bool
	}{
		{name: "correct password", password: "correct horse", want: true},
		{name: "wrong password", password: "correct horse ", want: false},
		{name: "empty password", password: "", want: false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := password.CheckPassword(tc.password, stored)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestVerifierSaltIsRandom(t *testing.T) {
	a, err := password.NewVerifier("pw")
	require.NoError(t, err)
	b, err := password.NewVerifier("pw")
	require.NoError(t, err)
	assert.NotEqual(t, a.String(), b.String())
}

func TestParseVerifierMalformed(t *testing.T) {
	testCases := []struct {
		name   string
		stored string
	}{
		{name: "no separator", stored: "abcdef"},
		{name: "bad salt hex", stored: "zz:" + strings.Repeat("00", 32)},
		{name: "short hash", stored: strings.Repeat("00", 16) + ":0011"},
		{name: "extra part", stored: strings.Repeat("00", 16) + ":" + strings.Repeat("00", 32) + ":00"},
		{name: "empty", stored: ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := password.CheckPassword("pw", tc.stored)
			assert.ErrorIs(t, err, password.ErrMalformedVerifier)
		})
	}
}
