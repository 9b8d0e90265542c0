package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignedURLSigner mints and verifies download tokens. A token is the only
// credential on the public export endpoint, so it carries everything needed
// to serve the file: job id, stored path and expiry, HMAC-signed.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SignedURLSigner{secret: []byte(secret), ttl: ttl}
}

// Token layout: base64url(jobID \n relPath \n expiryUnix) "." base64url(mac).
const claimSep = "\n"

// Generate returns a fresh token for the stored file and its expiry instant.
func (s *SignedURLSigner) Generate(jobID, relPath string) (string, time.Time, error) {
	if jobID == "" || relPath == "" {
		return "", time.Time{}, fmt.Errorf("storage: token needs job id and path")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("storage: signing secret not configured")
	}
	if strings.Contains(jobID, claimSep) || strings.Contains(relPath, claimSep) {
		return "", time.Time{}, fmt.Errorf("storage: job id and path must be single line")
	}

	expiresAt := time.Now().Add(s.ttl)
	claims := []byte(jobID + claimSep + relPath + claimSep + strconv.FormatInt(expiresAt.Unix(), 10))
	token := base64.RawURLEncoding.EncodeToString(claims) + "." + base64.RawURLEncoding.EncodeToString(s.sign(claims))
	return token, expiresAt, nil
}

// Parse verifies a token and returns its claims. With allowExpired the expiry
// check is skipped; cleanup still needs to resolve paths of stale tokens.
func (s *SignedURLSigner) Parse(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	payload, macPart, found := strings.Cut(token, ".")
	if !found {
		return "", "", time.Time{}, fmt.Errorf("storage: malformed token")
	}
	claims, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("storage: malformed token payload")
	}
	mac, err := base64.RawURLEncoding.DecodeString(macPart)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("storage: malformed token signature")
	}
	if !hmac.Equal(mac, s.sign(claims)) {
		return "", "", time.Time{}, fmt.Errorf("storage: token signature mismatch")
	}

	parts := strings.Split(string(claims), claimSep)
	if len(parts) != 3 {
		return "", "", time.Time{}, fmt.Errorf("storage: malformed token claims")
	}
	expUnix, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("storage: malformed token expiry")
	}
	expiresAt = time.Unix(expUnix, 0)
	if !allowExpired && time.Now().After(expiresAt) {
		return "", "", time.Time{}, fmt.Errorf("storage: token expired")
	}
	return parts[0], parts[1], expiresAt, nil
}

func (s *SignedURLSigner) sign(claims []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(claims)
	return mac.Sum(nil)
}
