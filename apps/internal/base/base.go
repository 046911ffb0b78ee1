// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package base contains the request and result primitives shared by every
// acquisition strategy (silent-cache today, iframe/redirect/popup later).
// Strategies compose the Initializer by reference rather than inheriting
// from a common client, so each strategy stays an independent implementation
// of the same capability set.
package base

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/thiagoschreck/msal-browser-go/apps/internal/authority"
	"github.com/thiagoschreck/msal-browser-go/apps/internal/shared"
	"github.com/thiagoschreck/msal-browser-go/apps/internal/storage"
	"github.com/thiagoschreck/msal-browser-go/apps/internal/telemetry"
)

const scopeSeparator = " "

// Authentication schemes for requested tokens.
const (
	SchemeBearer = "Bearer"
	SchemePoP    = "pop"
)

// Request is the caller-supplied description of a desired token, before
// normalization. Fields left zero are filled with client defaults.
type Request struct {
	Scopes        []string
	Authority     string
	CloudOptions  authority.CloudOptions
	CorrelationID string
}

// CommonSilentFlowRequest is the canonical request used internally by the
// silent flow. It is created fresh per acquisition call and never persisted.
type CommonSilentFlowRequest struct {
	Scopes        []string
	Authority     string
	CloudOptions  authority.CloudOptions
	CorrelationID string

	Account      shared.Account
	ForceRefresh bool

	// AuthenticationScheme selects bearer or bound (pop) tokens. Empty means
	// bearer. The remaining fields only apply to bound tokens.
	AuthenticationScheme  string
	ResourceRequestMethod string
	ResourceRequestURI    string
	ShrNonce              string
}

// Initializer normalizes raw requests with the fields every strategy needs.
type Initializer struct {
	// DefaultAuthority is applied when a request has no authority override.
	DefaultAuthority string
	Perf             *telemetry.Client
}

// InitializeBaseRequest merges client defaults into a raw request: scopes
// are lowercased and deduplicated, a correlation ID is generated when the
// caller did not thread one, and the default authority is stamped. The
// returned request is a fresh value; the input is never mutated.
func (i Initializer) InitializeBaseRequest(ctx context.Context, req Request) (Request, error) {
	if i.Perf != nil {
		i.Perf.AddQueueMeasurement(telemetry.EventInitializeBaseRequest, req.CorrelationID)
	}
	if err := ctx.Err(); err != nil {
		return Request{}, err
	}

	out := Request{
		Authority:     req.Authority,
		CloudOptions:  req.CloudOptions,
		CorrelationID: req.CorrelationID,
	}
	if out.Authority == "" {
		out.Authority = i.DefaultAuthority
	}
	if out.CorrelationID == "" {
		out.CorrelationID = uuid.New().String()
	}

	seen := make(map[string]bool, len(req.Scopes))
	for _, s := range req.Scopes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out.Scopes = append(out.Scopes, s)
	}
	return out, nil
}

// IDTokenClaims are the claims extracted from a cached ID token.
type IDTokenClaims struct {
	PreferredUsername string `json:"preferred_username,omitempty"`
	Name              string `json:"name,omitempty"`
	Oid               string `json:"oid,omitempty"`
	TenantID          string `json:"tid,omitempty"`
	Subject           string `json:"sub,omitempty"`
	Issuer            string `json:"iss,omitempty"`
	Audience          string `json:"aud,omitempty"`
	ExpirationTime    int64  `json:"exp,omitempty"`
	IssuedAt          int64  `json:"iat,omitempty"`
	RawToken          string `json:"-"`
}

// NewIDTokenClaims decodes the claims of a raw JWT without verifying it.
// Cached ID tokens were validated when first written; here they only carry
// account metadata.
func NewIDTokenClaims(rawJWT string) (IDTokenClaims, error) {
	parts := strings.Split(rawJWT, ".")
	if len(parts) < 2 {
		return IDTokenClaims{}, fmt.Errorf("ID token from cache is not a JWT")
	}
	payload, err := decodeJWTSegment(parts[1])
	if err != nil {
		return IDTokenClaims{}, fmt.Errorf("problem decoding JWT token: %w", err)
	}
	var claims IDTokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return IDTokenClaims{}, fmt.Errorf("problem decoding JWT token: %w", err)
	}
	claims.RawToken = rawJWT
	return claims, nil
}

func decodeJWTSegment(data string) ([]byte, error) {
	if i := len(data) % 4; i != 0 {
		data += strings.Repeat("=", 4-i)
	}
	return base64.URLEncoding.DecodeString(data)
}

// AuthResult contains the results of one token acquisition operation.
// Ownership transfers to the caller.
type AuthResult struct {
	Account       shared.Account
	IDToken       IDTokenClaims
	AccessToken   string
	TokenType     string
	ExpiresOn     time.Time
	GrantedScopes []string
	FromCache     bool
}

// AuthResultFromStorage creates an AuthResult from a storage token response
// (which is generated from the cache).
func AuthResultFromStorage(storageTokenResponse storage.TokenResponse) (AuthResult, error) {
	if err := storageTokenResponse.AccessToken.Validate(); err != nil {
		return AuthResult{}, fmt.Errorf("problem with access token in StorageTokenResponse: %w", err)
	}

	var idToken IDTokenClaims
	if !storageTokenResponse.IDToken.IsZero() {
		var err error
		idToken, err = NewIDTokenClaims(storageTokenResponse.IDToken.Secret)
		if err != nil {
			return AuthResult{}, err
		}
	}

	at := storageTokenResponse.AccessToken
	return AuthResult{
		Account:       storageTokenResponse.Account,
		IDToken:       idToken,
		AccessToken:   at.Secret,
		TokenType:     at.TokenType,
		ExpiresOn:     time.Unix(at.ExpiresOn, 0).UTC(),
		GrantedScopes: strings.Split(at.Scopes, scopeSeparator),
		FromCache:     true,
	}, nil
}
