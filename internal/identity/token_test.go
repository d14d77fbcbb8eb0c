package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	secret := []byte("secret")
	tok, err := GenerateToken("user-1", secret, time.Now(), time.Hour)
	require.NoError(t, err)

	id, err := UserIDFromToken(tok, secret)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id)
}

func TestTokenRejected(t *testing.T) {
	secret := []byte("secret")
	expired, err := GenerateToken("user-1", secret, time.Now().Add(-2*time.Hour), time.Hour)
	require.NoError(t, err)
	valid, err := GenerateToken("user-1", secret, time.Now(), time.Hour)
	require.NoError(t, err)
	anonymous, err := GenerateToken("", secret, time.Now(), time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		secret []byte
	}{
		{"expired", expired, secret},
		{"wrong secret", valid, []byte("other")},
		{"garbage", "not-a-token", secret},
		{"no user", anonymous, secret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UserIDFromToken(tt.token, tt.secret)
			assert.Error(t, err)
		})
	}
}
