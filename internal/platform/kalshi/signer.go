package kalshi

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Authentication header names.
const (
	HeaderAccessKey       = "KALSHI-ACCESS-KEY"
	HeaderAccessTimestamp = "KALSHI-ACCESS-TIMESTAMP"
	HeaderAccessSignature = "KALSHI-ACCESS-SIGNATURE"
)

// AuthHeaders is the triple attached to every authenticated request.
type AuthHeaders struct {
	KeyID     string
	Timestamp string
	Signature string
}

// Apply sets the headers on req.
func (h AuthHeaders) Apply(req *http.Request) {
	req.Header.Set(HeaderAccessKey, h.KeyID)
	req.Header.Set(HeaderAccessTimestamp, h.Timestamp)
	req.Header.Set(HeaderAccessSignature, h.Signature)
}

// Signer produces Kalshi request signatures: RSA-PSS over SHA-256 of
// timestamp + method + path, with the query string excluded.
type Signer struct {
	keyID string
	key   *rsa.PrivateKey
	now   func() time.Time
}

// NewSigner creates a Signer for the given API key id and private key.
func NewSigner(keyID string, key *rsa.PrivateKey) *Signer {
	return &Signer{keyID: keyID, key: key, now: time.Now}
}

// Sign returns the authentication headers for a request.
func (s *Signer) Sign(method, path string) (AuthHeaders, error) {
	if s.key == nil {
		return AuthHeaders{}, fmt.Errorf("kalshi: RSA private key not configured")
	}

	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	hash := sha256.Sum256([]byte(SigningMessage(ts, method, path)))
	signature, err := rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, hash[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return AuthHeaders{}, fmt.Errorf("kalshi: RSA sign: %w", err)
	}

	return AuthHeaders{
		KeyID:     s.keyID,
		Timestamp: ts,
		Signature: base64.StdEncoding.EncodeToString(signature),
	}, nil
}

// SigningMessage builds the string that gets signed. Query parameters are
// never part of it.
func SigningMessage(timestamp, method, path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return timestamp + strings.ToUpper(method) + path
}
