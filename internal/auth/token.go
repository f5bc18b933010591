package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrTokenFormat  = errors.New("invalid token format")
	ErrTokenSig     = errors.New("invalid token signature")
	ErrTokenExp     = errors.New("token expired")
	ErrTokenSession = errors.New("session key mismatch")
	ErrNoSecret     = errors.New("client token secret not configured")
)

// Claims are what a verified widget token carries.
type Claims struct {
	SessionKey string
	Expires    time.Time
}

// Mint signs a widget token for one session.
// Format: base64url(session_key + "." + exp_unix + "." + hex(hmac_sha256(secret, session_key+"."+exp)))
func Mint(secret, sessionKey string, exp time.Time) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}
	if sessionKey == "" || strings.Contains(sessionKey, ".") {
		return "", ErrTokenFormat
	}
	msg := sessionKey + "." + strconv.FormatInt(exp.Unix(), 10)
	raw := msg + "." + sign(secret, msg)
	return base64.RawURLEncoding.EncodeToString([]byte(raw)), nil
}

// Verify checks signature, session key and expiry. skew extends the expiry
// to absorb clock drift between the minting and verifying hosts.
func Verify(secret, token, sessionKey string, now time.Time, skew time.Duration) (Claims, error) {
	if secret == "" {
		return Claims{}, ErrNoSecret
	}
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Claims{}, ErrTokenFormat
	}
	parts := strings.Split(string(b), ".")
	if len(parts) != 3 {
		return Claims{}, ErrTokenFormat
	}
	key, expStr, sigHex := parts[0], parts[1], parts[2]
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return Claims{}, ErrTokenFormat
	}
	got, err := hex.DecodeString(sigHex)
	if err != nil {
		return Claims{}, ErrTokenFormat
	}
	want, _ := hex.DecodeString(sign(secret, key+"."+expStr))
	if !hmac.Equal(want, got) {
		return Claims{}, ErrTokenSig
	}
	if sessionKey != "" && key != sessionKey {
		return Claims{}, ErrTokenSession
	}
	expires := time.Unix(exp, 0)
	if now.After(expires.Add(skew)) {
		return Claims{}, ErrTokenExp
	}
	return Claims{SessionKey: key, Expires: expires}, nil
}

// Bearer extracts a token from an Authorization header value.
func Bearer(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return tok, tok != ""
}

func sign(secret, msg string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}
