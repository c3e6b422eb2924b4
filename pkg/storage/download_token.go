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

// DownloadTokenSigner mints self-contained download tokens for export
// files. A token binds the job ID and stored file name to an expiry under an
// HMAC, so the download endpoint can serve files without a database lookup.
type DownloadTokenSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewDownloadTokenSigner constructs a signer. A non-positive TTL falls back
// to 24 hours.
func NewDownloadTokenSigner(secret string, ttl time.Duration) *DownloadTokenSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DownloadTokenSigner{secret: []byte(secret), ttl: ttl}
}

// Sign issues a token for the job's stored file and returns it with the
// expiry baked into it.
func (s *DownloadTokenSigner) Sign(jobID, fileName string) (string, time.Time, error) {
	if jobID == "" || fileName == "" {
		return "", time.Time{}, fmt.Errorf("job id and file name required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("download token secret not configured")
	}
	expiresAt := time.Now().Add(s.ttl).Truncate(time.Second)
	body := base64.RawURLEncoding.EncodeToString(
		[]byte(jobID + "\n" + strconv.FormatInt(expiresAt.Unix(), 10) + "\n" + fileName))
	return body + "." + s.sign(body), expiresAt, nil
}

// Verify checks the token's signature and expiry and returns the embedded
// job ID and file name.
func (s *DownloadTokenSigner) Verify(token string) (jobID, fileName string, expiresAt time.Time, err error) {
	body, sig, ok := strings.Cut(token, ".")
	if !ok {
		return "", "", time.Time{}, fmt.Errorf("malformed download token")
	}
	if !hmac.Equal([]byte(s.sign(body)), []byte(sig)) {
		return "", "", time.Time{}, fmt.Errorf("download token signature mismatch")
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("decode download token: %w", err)
	}
	parts := strings.SplitN(string(raw), "\n", 3)
	if len(parts) != 3 {
		return "", "", time.Time{}, fmt.Errorf("malformed download token")
	}
	expUnix, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("malformed download token expiry")
	}
	expiresAt = time.Unix(expUnix, 0)
	if time.Now().After(expiresAt) {
		return "", "", time.Time{}, fmt.Errorf("download token expired")
	}
	return parts[0], parts[2], expiresAt, nil
}

func (s *DownloadTokenSigner) sign(body string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
