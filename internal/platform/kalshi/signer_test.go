package kalshi

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"
)

func newTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestSigningMessage_StripsQuery(t *testing.T) {
	got := SigningMessage("1700000000000", "get", "/trade-api/v2/markets?limit=5&cursor=abc")
	want := "1700000000000GET/trade-api/v2/markets"
	if got != want {
		t.Fatalf("SigningMessage = %q, want %q", got, want)
	}
}

func TestSigner_SignVerifiesWithPSS(t *testing.T) {
	key := newTestKey(t)
	s := NewSigner("key-123", key)
	s.now = func() time.Time { return time.UnixMilli(1700000000123) }

	h, err := s.Sign("GET", "/trade-api/v2/markets/trades?ticker=KXFED")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if h.KeyID != "key-123" {
		t.Errorf("KeyID = %q", h.KeyID)
	}
	if h.Timestamp != "1700000000123" {
		t.Errorf("Timestamp = %q", h.Timestamp)
	}

	sig, err := base64.StdEncoding.DecodeString(h.Signature)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	digest := sha256.Sum256([]byte("1700000000123GET/trade-api/v2/markets/trades"))
	err = rsa.VerifyPSS(&key.PublicKey, crypto.SHA256, digest[:], sig, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	if err != nil {
		t.Fatalf("signature does not verify over query-less path: %v", err)
	}
}

func TestSigner_NoKey(t *testing.T) {
	if _, err := NewSigner("k", nil).Sign("GET", "/x"); err == nil {
		t.Fatal("expected error without key")
	}
}
