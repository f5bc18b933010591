package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "secret123"

func TestMintAndVerify(t *testing.T) {
	now := time.Now()
	exp := now.Add(5 * time.Minute)

	tok, err := Mint(secret, "abc", exp)
	require.NoError(t, err)

	c, err := Verify(secret, tok, "abc", now, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "abc", c.SessionKey)
	assert.Equal(t, exp.Unix(), c.Expires.Unix())
}

func TestVerifyRejects(t *testing.T) {
	now := time.Now()
	tok, err := Mint(secret, "abc", now.Add(5*time.Minute))
	require.NoError(t, err)

	flipped := "A" + tok[1:]
	if tok[0] == 'A' {
		flipped = "B" + tok[1:]
	}

	tests := []struct {
		name   string
		secret string
		token  string
		key    string
		now    time.Time
		want   error
	}{
		{"bad signature", secret, flipped, "abc", now, nil},
		{"other secret", "other", tok, "abc", now, ErrTokenSig},
		{"other session", secret, tok, "xyz", now, ErrTokenSession},
		{"expired", secret, tok, "abc", now.Add(10 * time.Minute), ErrTokenExp},
		{"garbage", secret, "%%%", "abc", now, ErrTokenFormat},
		{"no secret", "", tok, "abc", now, ErrNoSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Verify(tt.secret, tt.token, tt.key, tt.now, time.Minute)
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestVerifyAllowsSkew(t *testing.T) {
	now := time.Now()
	tok, err := Mint(secret, "abc", now)
	require.NoError(t, err)

	_, err = Verify(secret, tok, "abc", now.Add(30*time.Second), time.Minute)
	assert.NoError(t, err)
}

func TestMintRejectsBadInput(t *testing.T) {
	_, err := Mint("", "abc", time.Now())
	assert.ErrorIs(t, err, ErrNoSecret)
	_, err = Mint(secret, "a.b", time.Now())
	assert.ErrorIs(t, err, ErrTokenFormat)
}

func TestBearer(t *testing.T) {
	tok, ok := Bearer("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	_, ok = Bearer("Basic abc")
	assert.False(t, ok)
	_, ok = Bearer("Bearer ")
	assert.False(t, ok)
}
