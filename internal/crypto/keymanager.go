// Package crypto loads the exchange signing key, optionally from a
// password-encrypted file.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	currentVersion   = 1
)

// encryptedKeyJSON is the on-disk format for an encrypted private key.
type encryptedKeyJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig names where LoadKey should find the PEM-encoded RSA key.
type KeyConfig struct {
	// PEMPath is a plain PEM file. It wins when set.
	PEMPath string

	// EncryptedKeyPath is a JSON file produced by EncryptKey.
	EncryptedKeyPath string
	KeyPassword      string
}

// EncryptKey encrypts PEM bytes with a password using PBKDF2-HMAC-SHA256 key
// derivation and AES-256-GCM. The PEM must hold a parseable RSA key.
func EncryptKey(pemBytes []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	if _, err := ParseRSAPrivateKey(pemBytes); err != nil {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	out := encryptedKeyJSON{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, pemBytes, nil)),
	}
	return json.MarshalIndent(out, "", "  ")
}

// DecryptKey reverses EncryptKey and returns the PEM bytes.
func DecryptKey(encryptedJSON []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}

	var stored encryptedKeyJSON
	if err := json.Unmarshal(encryptedJSON, &stored); err != nil {
		return nil, fmt.Errorf("crypto: parsing encrypted key JSON: %w", err)
	}
	if stored.Version != currentVersion {
		return nil, fmt.Errorf("crypto: unsupported version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	return plaintext, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	derivedKey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}

// LoadKey resolves and parses the RSA private key described by cfg.
//
// Resolution order:
//  1. PEMPath, read as-is.
//  2. EncryptedKeyPath, decrypted with KeyPassword.
//
// Every failure wraps domain.ErrKeyLoad; callers treat it as fatal.
func LoadKey(cfg KeyConfig) (*rsa.PrivateKey, error) {
	var pemBytes []byte
	switch {
	case cfg.PEMPath != "":
		data, err := os.ReadFile(cfg.PEMPath)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", domain.ErrKeyLoad, cfg.PEMPath, err)
		}
		pemBytes = data
	case cfg.EncryptedKeyPath != "":
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", domain.ErrKeyLoad, cfg.EncryptedKeyPath, err)
		}
		pemBytes, err = DecryptKey(data, cfg.KeyPassword)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrKeyLoad, err)
		}
	default:
		return nil, fmt.Errorf("%w: no key source configured", domain.ErrKeyLoad)
	}
	return ParseRSAPrivateKey(pemBytes)
}

// ParseRSAPrivateKey decodes a PEM block holding a PKCS#8 or PKCS#1 RSA key.
func ParseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", domain.ErrKeyLoad)
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		// Try PKCS1 as fallback.
		pkcs1Key, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if pkcs1Err != nil {
			return nil, fmt.Errorf("%w: parse private key: %v (pkcs1: %v)", domain.ErrKeyLoad, err, pkcs1Err)
		}
		return pkcs1Key, nil
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: expected RSA private key, got %T", domain.ErrKeyLoad, key)
	}
	return rsaKey, nil
}
