// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/thiagoschreck/msal-browser-go/apps/internal/shared"
)

// Contract is the JSON structure that is written to any storage medium when
// serializing the internal cache. This design is shared between client
// implementations in many languages and cannot change unilaterally.
type Contract struct {
	AccessTokens  map[string]AccessToken    `json:"AccessToken"`
	RefreshTokens map[string]RefreshToken   `json:"RefreshToken"`
	IDTokens      map[string]IDToken        `json:"IdToken"`
	Accounts      map[string]shared.Account `json:"Account"`

	AdditionalFields map[string]interface{}
}

// NewContract is the constructor for Contract.
func NewContract() *Contract {
	return &Contract{
		AccessTokens:  map[string]AccessToken{},
		RefreshTokens: map[string]RefreshToken{},
		IDTokens:      map[string]IDToken{},
		Accounts:      map[string]shared.Account{},
	}
}

// Token types recorded on access token entries.
const (
	TokenTypeBearer = "Bearer"
	TokenTypePoP    = "pop"
)

// AccessToken is the JSON representation of a cached access token.
type AccessToken struct {
	HomeAccountID  string `json:"home_account_id,omitempty"`
	Environment    string `json:"environment,omitempty"`
	Realm          string `json:"realm,omitempty"`
	CredentialType string `json:"credential_type,omitempty"`
	ClientID       string `json:"client_id,omitempty"`
	Secret         string `json:"secret,omitempty"`
	Scopes         string `json:"target,omitempty"`
	TokenType      string `json:"token_type,omitempty"`
	// KeyID references the signing keypair a bound token was issued for.
	// Empty for bearer tokens.
	KeyID     string `json:"key_id,omitempty"`
	ExpiresOn int64  `json:"expires_on,omitempty,string"`
	CachedAt  int64  `json:"cached_at,omitempty,string"`

	AdditionalFields map[string]interface{}
}

// NewAccessToken is the constructor for AccessToken.
func NewAccessToken(homeID, env, realm, clientID string, cachedAt, expiresOn time.Time, scopes, token, tokenType, keyID string) AccessToken {
	return AccessToken{
		HomeAccountID:  homeID,
		Environment:    env,
		Realm:          realm,
		CredentialType: "AccessToken",
		ClientID:       clientID,
		Secret:         token,
		Scopes:         scopes,
		TokenType:      tokenType,
		KeyID:          keyID,
		CachedAt:       cachedAt.Unix(),
		ExpiresOn:      expiresOn.Unix(),
	}
}

// Key outputs the key that can be used to uniquely look up this entry in a map.
func (a AccessToken) Key() string {
	return strings.Join(
		[]string{a.HomeAccountID, a.Environment, a.CredentialType, a.ClientID, a.Realm, a.Scopes},
		shared.CacheKeySeparator,
	)
}

// FakeValidate overrides Validate in tests so expired fixtures can be
// written to the cache.
var FakeValidate func(AccessToken) error

// Validate validates that this AccessToken can be used.
func (a AccessToken) Validate() error {
	if FakeValidate != nil {
		return FakeValidate(a)
	}
	if a.CachedAt == 0 {
		return errors.New("access token does not have CachedAt set")
	}
	if time.Unix(a.CachedAt, 0).After(time.Now()) {
		return errors.New("access token isn't valid, it was cached at a future time")
	}
	// The 5 minute buffer avoids handing out a token that expires mid-call.
	if time.Unix(a.ExpiresOn, 0).Before(time.Now().Add(5 * time.Minute)) {
		return fmt.Errorf("access token is expired")
	}
	return nil
}

// IDToken is the JSON representation of a cached ID token.
type IDToken struct {
	HomeAccountID  string `json:"home_account_id,omitempty"`
	Environment    string `json:"environment,omitempty"`
	Realm          string `json:"realm,omitempty"`
	CredentialType string `json:"credential_type,omitempty"`
	ClientID       string `json:"client_id,omitempty"`
	Secret         string `json:"secret,omitempty"`

	AdditionalFields map[string]interface{}
}

// NewIDToken is the constructor for IDToken.
func NewIDToken(homeID, env, realm, clientID, idToken string) IDToken {
	return IDToken{
		HomeAccountID:  homeID,
		Environment:    env,
		Realm:          realm,
		CredentialType: "IdToken",
		ClientID:       clientID,
		Secret:         idToken,
	}
}

// IsZero determines if IDToken is the zero value.
func (i IDToken) IsZero() bool {
	switch {
	case i.HomeAccountID != "":
		return false
	case i.Environment != "":
		return false
	case i.Realm != "":
		return false
	case i.CredentialType != "":
		return false
	case i.ClientID != "":
		return false
	case i.Secret != "":
		return false
	case i.AdditionalFields != nil:
		return false
	}
	return true
}

// Key outputs the key that can be used to uniquely look up this entry in a map.
func (i IDToken) Key() string {
	return strings.Join(
		[]string{i.HomeAccountID, i.Environment, i.CredentialType, i.ClientID, i.Realm},
		shared.CacheKeySeparator,
	)
}

// RefreshToken is the JSON representation of a cached refresh token. The
// silent cache path never redeems one; entries are kept so the serialized
// contract round-trips losslessly for the interactive clients sharing the
// cache.
type RefreshToken struct {
	HomeAccountID  string `json:"home_account_id,omitempty"`
	Environment    string `json:"environment,omitempty"`
	CredentialType string `json:"credential_type,omitempty"`
	ClientID       string `json:"client_id,omitempty"`
	FamilyID       string `json:"family_id,omitempty"`
	Secret         string `json:"secret,omitempty"`

	AdditionalFields map[string]interface{}
}

// Key outputs the key that can be used to uniquely look up this entry in a map.
func (rt RefreshToken) Key() string {
	fourth := rt.FamilyID
	if fourth == "" {
		fourth = rt.ClientID
	}
	return strings.Join(
		[]string{rt.HomeAccountID, rt.Environment, rt.CredentialType, fourth},
		shared.CacheKeySeparator,
	)
}
