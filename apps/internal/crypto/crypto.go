// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package crypto manages the signing keypairs that back bound (proof of
// possession) tokens. A bound access token in the cache references a keypair
// by ID; presenting the token requires wrapping it in an envelope signed
// with that keypair. If the keypair is gone the cached token is unusable,
// which upper layers surface as a classified error.
package crypto

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/thiagoschreck/msal-browser-go/apps/errors"
)

const keySize = 2048

// KeyStore holds signing keypairs by key ID. Implementations must be safe
// for concurrent use.
type KeyStore interface {
	// RetrieveKey returns the keypair stored under keyID. A miss returns an
	// error matching errors.ErrCryptoKeyNotFound.
	RetrieveKey(ctx context.Context, keyID string) (*rsa.PrivateKey, error)
	StoreKey(ctx context.Context, keyID string, key *rsa.PrivateKey) error
	RemoveKey(ctx context.Context, keyID string) error
}

// MemKeyStore is an in-memory KeyStore. Keys do not survive the process;
// hosts needing durable binding keys supply their own implementation.
type MemKeyStore struct {
	mu   sync.RWMutex
	keys map[string]*rsa.PrivateKey
}

// NewMemKeyStore creates an empty in-memory key store.
func NewMemKeyStore() *MemKeyStore {
	return &MemKeyStore{keys: map[string]*rsa.PrivateKey{}}
}

// RetrieveKey implements KeyStore.
func (m *MemKeyStore) RetrieveKey(ctx context.Context, keyID string) (*rsa.PrivateKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.keys[keyID]
	if !ok {
		return nil, &errors.AuthError{
			Code: errors.CodeCryptoKeyNotFound,
			Desc: fmt.Sprintf("no signing keypair stored under key ID %q", keyID),
		}
	}
	return key, nil
}

// StoreKey implements KeyStore.
func (m *MemKeyStore) StoreKey(ctx context.Context, keyID string, key *rsa.PrivateKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[keyID] = key
	return nil
}

// RemoveKey implements KeyStore.
func (m *MemKeyStore) RemoveKey(ctx context.Context, keyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, keyID)
	return nil
}

// GenerateKeyPair creates a new RSA keypair for token binding.
func GenerateKeyPair() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, keySize)
}

// Thumbprint computes the RFC 7638 JWK thumbprint of an RSA public key,
// base64url encoded. This is the key ID bound tokens are stored under.
func Thumbprint(pub *rsa.PublicKey) string {
	// Lexicographic member order per RFC 7638 section 3.
	jwk := fmt.Sprintf(`{"e":%q,"kty":"RSA","n":%q}`, b64BigInt(big.NewInt(int64(pub.E))), b64BigInt(pub.N))
	sum := sha256.Sum256([]byte(jwk))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func b64BigInt(n *big.Int) string {
	return base64.RawURLEncoding.EncodeToString(n.Bytes())
}

// PopParams describe the request a signed envelope is bound to. Method and
// URI are optional; when absent the envelope binds only the token and
// timestamp.
type PopParams struct {
	Method string
	Host   string
	Path   string
	Nonce  string
}

// NewSignedHTTPRequest wraps an access token in a signed envelope proving
// possession of the binding key.
func NewSignedHTTPRequest(key *rsa.PrivateKey, accessToken string, params PopParams) (string, error) {
	kid := Thumbprint(&key.PublicKey)
	claims := jwt.MapClaims{
		"at":  accessToken,
		"ts":  time.Now().Unix(),
		"cnf": map[string]interface{}{"kid": kid},
	}
	if params.Method != "" {
		claims["m"] = params.Method
	}
	if params.Host != "" {
		claims["u"] = params.Host
	}
	if params.Path != "" {
		claims["p"] = params.Path
	}
	if params.Nonce != "" {
		claims["nonce"] = params.Nonce
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign proof of possession envelope: %w", err)
	}
	return signed, nil
}
